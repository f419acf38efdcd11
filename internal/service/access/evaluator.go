package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/internal/service/audit"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/httputil"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
)

// Visibility says how sensitive fields are rendered for the caller.
type Visibility int

const (
	Masked Visibility = iota
	Plaintext
)

// Decision is the outcome of an allowed check.
type Decision struct {
	Action Action
	// Owner is true when the caller passed an ownership check for the resource.
	Owner      bool
	Visibility Visibility
}

// Resource identifies the target of an action. Owner ids are only consulted
// for roles the action's rule scopes to their own records.
type Resource struct {
	ID                  string
	OwnerPatientID      *uuid.UUID
	OwnerProfessionalID *uuid.UUID
}

// LinkResolver maps an account to the protected record linked to it.
type LinkResolver interface {
	PatientID(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error)
	ProfessionalID(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error)
}

// cachedLinks resolves links through the repositories. Links are fixed at
// account creation, so entries only expire to bound memory.
type cachedLinks struct {
	patients      repository.PatientRepository
	professionals repository.ProfessionalRepository
	cache         *cache.Cache
}

func NewLinkResolver(patients repository.PatientRepository, professionals repository.ProfessionalRepository, ttl time.Duration) LinkResolver {
	return &cachedLinks{
		patients:      patients,
		professionals: professionals,
		cache:         cache.New(ttl, 2*ttl),
	}
}

func (l *cachedLinks) resolve(ctx context.Context, kind string, accountID uuid.UUID, lookup func(context.Context, uuid.UUID) (uuid.UUID, error)) (uuid.UUID, error) {
	key := kind + ":" + accountID.String()
	if id, ok := l.cache.Get(key); ok {
		return id.(uuid.UUID), nil
	}
	id, err := lookup(ctx, accountID)
	if err != nil {
		return uuid.Nil, err
	}
	l.cache.SetDefault(key, id)
	return id, nil
}

func (l *cachedLinks) PatientID(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error) {
	return l.resolve(ctx, "patient", accountID, l.patients.IDByAccount)
}

func (l *cachedLinks) ProfessionalID(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error) {
	return l.resolve(ctx, "professional", accountID, l.professionals.IDByAccount)
}

// Evaluator applies the role table and ownership rules. Every denial is
// written to the audit trail before the error is returned.
type Evaluator struct {
	recorder audit.Recorder
	links    LinkResolver
	metrics  *metrics.Metrics
}

func NewEvaluator(recorder audit.Recorder, links LinkResolver, m *metrics.Metrics) *Evaluator {
	return &Evaluator{recorder: recorder, links: links, metrics: m}
}

// Denied reports whether err is an access denial. The evaluator audits its
// denials itself, so callers must not record them again.
func Denied(err error) bool {
	return apperrors.HasCode(err, apperrors.ErrForbidden)
}

// RequireRole performs the role check only.
func (e *Evaluator) RequireRole(ctx context.Context, principal *model.Principal, action Action) (*Decision, error) {
	rule, err := e.ruleFor(action)
	if err != nil {
		return nil, err
	}
	if principal == nil || !rule.allows(principal.Role) {
		return nil, e.denyRole(ctx, principal, action, rule)
	}
	return &Decision{Action: action, Visibility: VisibilityFor(principal.Role, false)}, nil
}

// Authorize performs the role check and, unless the caller is an
// administrator, the ownership check the rule defines for the caller's role.
func (e *Evaluator) Authorize(ctx context.Context, principal *model.Principal, action Action, resource Resource) (*Decision, error) {
	decision, err := e.RequireRole(ctx, principal, action)
	if err != nil {
		return nil, err
	}
	if principal.IsAdmin() {
		return decision, nil
	}

	rule := policy[action]
	kind, scoped := rule.Ownership[principal.Role]
	if !scoped {
		return decision, nil
	}

	owns, err := e.owns(ctx, principal, kind, resource)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !owns {
		return nil, e.denyOwnership(ctx, principal, action, rule, kind, resource)
	}

	decision.Owner = true
	decision.Visibility = VisibilityFor(principal.Role, true)
	return decision, nil
}

// LinkedPatient returns the patient record linked to the caller, if any.
func (e *Evaluator) LinkedPatient(ctx context.Context, principal *model.Principal) (*uuid.UUID, error) {
	return e.linked(ctx, principal, OwnerPatient)
}

// LinkedProfessional returns the professional record linked to the caller, if any.
func (e *Evaluator) LinkedProfessional(ctx context.Context, principal *model.Principal) (*uuid.UUID, error) {
	return e.linked(ctx, principal, OwnerProfessional)
}

func (e *Evaluator) linked(ctx context.Context, principal *model.Principal, kind OwnerKind) (*uuid.UUID, error) {
	var (
		id  uuid.UUID
		err error
	)
	switch kind {
	case OwnerPatient:
		id, err = e.links.PatientID(ctx, principal.AccountID)
	case OwnerProfessional:
		id, err = e.links.ProfessionalID(ctx, principal.AccountID)
	default:
		return nil, fmt.Errorf("unknown owner kind %d", kind)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve linked %s: %w", kind, err)
	}
	return &id, nil
}

func (e *Evaluator) owns(ctx context.Context, principal *model.Principal, kind OwnerKind, resource Resource) (bool, error) {
	target := resource.OwnerPatientID
	if kind == OwnerProfessional {
		target = resource.OwnerProfessionalID
	}
	if target == nil {
		return false, nil
	}
	linked, err := e.linked(ctx, principal, kind)
	if err != nil || linked == nil {
		return false, err
	}
	return *linked == *target, nil
}

func (e *Evaluator) ruleFor(action Action) (Rule, error) {
	rule, ok := policy[action]
	if !ok {
		return Rule{}, apperrors.Internal(fmt.Errorf("no access rule for action %q", action))
	}
	return rule, nil
}

func (e *Evaluator) denyRole(ctx context.Context, principal *model.Principal, action Action, rule Rule) error {
	details := denialContext(ctx, principal, action)
	details["required_roles"] = rule.Roles

	e.metrics.AccessDenied(apperrors.ReasonRole)
	e.recorder.Record(ctx, audit.Entry{
		ActorID:      actorOf(principal),
		Action:       model.ActionUnauthorizedAccess,
		ResourceType: rule.Resource,
		Context:      details,
		Err:          errors.New("insufficient role"),
	})
	return apperrors.Forbidden(apperrors.ReasonRole)
}

func (e *Evaluator) denyOwnership(ctx context.Context, principal *model.Principal, action Action, rule Rule, kind OwnerKind, resource Resource) error {
	details := denialContext(ctx, principal, action)
	details["required_ownership"] = kind.String()

	e.metrics.AccessDenied(apperrors.ReasonOwnership)
	e.recorder.Record(ctx, audit.Entry{
		ActorID:      actorOf(principal),
		Action:       model.ActionUnauthorizedResourceAccess,
		ResourceType: rule.Resource,
		ResourceID:   resource.ID,
		Context:      details,
		Err:          errors.New("resource not owned by caller"),
	})
	return apperrors.Forbidden(apperrors.ReasonOwnership)
}

func denialContext(ctx context.Context, principal *model.Principal, action Action) model.JSONMap {
	details := model.JSONMap{"action": string(action)}
	if principal != nil {
		details["user_role"] = string(principal.Role)
	}
	if info, ok := httputil.RequestInfoFrom(ctx); ok {
		details["path"] = info.Path
		details["method"] = info.Method
	}
	return details
}

func actorOf(principal *model.Principal) *uuid.UUID {
	if principal == nil {
		return nil
	}
	id := principal.AccountID
	return &id
}

// Package auditlog serves the administrator read side of the audit trail:
// filtered listings, reports and bulk export. Every query is itself audited.
package auditlog

import (
	"context"
	"errors"
	"time"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/internal/service/access"
	"github.com/jwalitptl/hospital-api/internal/service/audit"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200

	recentActivityLimit = 20
	topIPLimit          = 10
	recentLockoutLimit  = 10
	topActorLimit       = 10
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// securityActions are the actions summarized by the security report.
var securityActions = []model.AuditAction{
	model.ActionLoginSuccess,
	model.ActionLoginFailed,
	model.ActionAccountLocked,
	model.ActionPasswordChangeSuccess,
	model.ActionPasswordChangeFailed,
	model.ActionUnauthorizedAccess,
	model.ActionUnauthorizedResourceAccess,
}

type Service struct {
	repo      repository.AuditRepository
	accounts  repository.AccountRepository
	evaluator *access.Evaluator
	recorder  audit.Recorder
}

func NewService(repo repository.AuditRepository, accounts repository.AccountRepository, evaluator *access.Evaluator, recorder audit.Recorder) *Service {
	return &Service{
		repo:      repo,
		accounts:  accounts,
		evaluator: evaluator,
		recorder:  recorder,
	}
}

func (s *Service) List(ctx context.Context, principal *model.Principal, filter model.AuditFilter) (*model.Page[*model.AuditEntry], error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.AuditList); err != nil {
		return nil, err
	}
	filter.Pagination = filter.Pagination.Normalize(DefaultPageSize, MaxPageSize)

	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionAuditLogsViewed,
		ResourceType: model.ResourceAudit,
		Context: model.JSONMap{
			"filters": filterContext(filter),
			"total":   total,
		},
	})

	return &model.Page[*model.AuditEntry]{Items: entries, Total: total, Pagination: filter.Pagination}, nil
}

func (s *Service) Get(ctx context.Context, principal *model.Principal, id string) (*model.AuditEntry, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.AuditView); err != nil {
		return nil, err
	}

	entry, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("audit entry", err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionAuditLogDetailedView,
		ResourceType: model.ResourceAudit,
		ResourceID:   id,
	})
	return entry, nil
}

// UserActivity summarizes what one account did in the period.
func (s *Service) UserActivity(ctx context.Context, principal *model.Principal, userID uuid.UUID, from, to *time.Time) (*model.UserActivityReport, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.AuditUserActivity); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("user", err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	filter := model.AuditFilter{ActorID: &userID, From: from, To: to}
	report := &model.UserActivityReport{Account: account, From: from, To: to}

	if report.Total, err = s.repo.Count(ctx, filter); err != nil {
		return nil, apperrors.Internal(err)
	}
	if report.ByAction, err = s.repo.CountGrouped(ctx, filter, repository.GroupByAction, 0); err != nil {
		return nil, apperrors.Internal(err)
	}
	if report.ByResource, err = s.repo.CountGrouped(ctx, filter, repository.GroupByResourceType, 0); err != nil {
		return nil, apperrors.Internal(err)
	}

	recent := filter
	recent.Pagination = model.Pagination{Page: 1, Limit: recentActivityLimit}
	if report.RecentEvents, _, err = s.repo.List(ctx, recent); err != nil {
		return nil, apperrors.Internal(err)
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionUserActivityReport,
		ResourceType: model.ResourceAudit,
		ResourceID:   userID.String(),
		Context:      model.JSONMap{"date_from": from, "date_to": to},
	})
	return report, nil
}

// SecurityReport counts authentication and authorization events, the IPs
// with the most failed logins and the latest lockouts.
func (s *Service) SecurityReport(ctx context.Context, principal *model.Principal, from, to *time.Time, ip string) (*model.SecurityReport, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.AuditSecurityReport); err != nil {
		return nil, err
	}

	base := model.AuditFilter{From: from, To: to, IPAddress: ip}
	report := &model.SecurityReport{From: from, To: to}

	counts := base
	counts.Actions = securityActions
	var err error
	if report.Counts, err = s.repo.CountGrouped(ctx, counts, repository.GroupByAction, 0); err != nil {
		return nil, apperrors.Internal(err)
	}

	failed := base
	failed.Action = model.ActionLoginFailed
	if report.TopFailedLoginIPs, err = s.repo.CountGrouped(ctx, failed, repository.GroupByIPAddress, topIPLimit); err != nil {
		return nil, apperrors.Internal(err)
	}

	lockouts := base
	lockouts.Action = model.ActionAccountLocked
	lockouts.Pagination = model.Pagination{Page: 1, Limit: recentLockoutLimit}
	if report.RecentLockouts, _, err = s.repo.List(ctx, lockouts); err != nil {
		return nil, apperrors.Internal(err)
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionSecurityReport,
		ResourceType: model.ResourceAudit,
		Context:      model.JSONMap{"date_from": from, "date_to": to, "ip": ip},
	})
	return report, nil
}

func (s *Service) Statistics(ctx context.Context, principal *model.Principal, from, to *time.Time) (*model.AuditStatistics, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.AuditStatistics); err != nil {
		return nil, err
	}

	filter := model.AuditFilter{From: from, To: to}
	stats := &model.AuditStatistics{From: from, To: to}

	var err error
	if stats.Total, err = s.repo.Count(ctx, filter); err != nil {
		return nil, apperrors.Internal(err)
	}
	failures := filter
	failed := false
	failures.Success = &failed
	if stats.Failures, err = s.repo.Count(ctx, failures); err != nil {
		return nil, apperrors.Internal(err)
	}
	if stats.ByAction, err = s.repo.CountGrouped(ctx, filter, repository.GroupByAction, 0); err != nil {
		return nil, apperrors.Internal(err)
	}
	if stats.ByResource, err = s.repo.CountGrouped(ctx, filter, repository.GroupByResourceType, 0); err != nil {
		return nil, apperrors.Internal(err)
	}
	// one extra row leaves room for the anonymous bucket that is dropped below
	actors, err := s.repo.CountGrouped(ctx, filter, repository.GroupByActor, topActorLimit+1)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	stats.TopActors = make([]model.CountByKey, 0, len(actors))
	for _, a := range actors {
		if a.Key != "" && len(stats.TopActors) < topActorLimit {
			stats.TopActors = append(stats.TopActors, a)
		}
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionAuditStatisticsViewed,
		ResourceType: model.ResourceAudit,
		Context:      model.JSONMap{"date_from": from, "date_to": to},
	})
	return stats, nil
}

// Export returns every entry in [from, to] in ascending order. Both bounds
// are required.
func (s *Service) Export(ctx context.Context, principal *model.Principal, from, to *time.Time, format string) ([]*model.AuditEntry, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.AuditExport); err != nil {
		return nil, err
	}
	if from == nil || to == nil {
		return nil, apperrors.ValidationFailed("date_from and date_to are required for export")
	}
	if to.Before(*from) {
		return nil, apperrors.ValidationFailed("date_to must not be before date_from")
	}
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		return nil, apperrors.ValidationFailed("format must be json or csv")
	}

	entries, err := s.repo.Export(ctx, model.AuditFilter{From: from, To: to})
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionAuditLogsExported,
		ResourceType: model.ResourceAudit,
		Context: model.JSONMap{
			"date_from": from,
			"date_to":   to,
			"format":    format,
			"count":     len(entries),
		},
	})
	return entries, nil
}

func filterContext(f model.AuditFilter) model.JSONMap {
	m := model.JSONMap{"page": f.Page, "limit": f.Limit}
	if f.ActorID != nil {
		m["actor_id"] = f.ActorID.String()
	}
	if f.Action != "" {
		m["action"] = string(f.Action)
	}
	if f.ResourceType != "" {
		m["resource_type"] = string(f.ResourceType)
	}
	if f.IPAddress != "" {
		m["ip"] = f.IPAddress
	}
	if f.From != nil {
		m["date_from"] = f.From
	}
	if f.To != nil {
		m["date_to"] = f.To
	}
	return m
}

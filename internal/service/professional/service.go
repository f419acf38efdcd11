package professional

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/internal/service/access"
	"github.com/jwalitptl/hospital-api/internal/service/audit"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/security"
)

const scheduleDateLayout = "2006-01-02"

type Service struct {
	repo         repository.ProfessionalRepository
	appointments repository.AppointmentRepository
	hasher       security.PasswordHasher
	evaluator    *access.Evaluator
	recorder     audit.Recorder
	now          func() time.Time
}

func NewService(repo repository.ProfessionalRepository, appointments repository.AppointmentRepository, hasher security.PasswordHasher, evaluator *access.Evaluator, recorder audit.Recorder) *Service {
	return &Service{
		repo:         repo,
		appointments: appointments,
		hasher:       hasher,
		evaluator:    evaluator,
		recorder:     recorder,
		now:          time.Now,
	}
}

// Create registers a professional and its login account. Physicians get the
// physician role; every other position signs in as nurse.
func (s *Service) Create(ctx context.Context, principal *model.Principal, req *model.CreateProfessionalRequest) (*model.Professional, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.ProfessionalCreate); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) || errors.Is(err, security.ErrPasswordTooLong) {
			return nil, s.fail(ctx, principal, model.ActionProfessionalCreated, "", apperrors.ValidationFailed(err.Error()))
		}
		return nil, s.fail(ctx, principal, model.ActionProfessionalCreated, "", apperrors.Internal(err))
	}

	account := &model.Account{
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Position.AccountRole(),
		Active:       true,
	}
	professional := &model.Professional{
		Name:            req.Name,
		CPF:             req.CPF,
		CRM:             req.CRM,
		COREN:           req.COREN,
		Specialty:       req.Specialty,
		Phone:           req.Phone,
		Position:        req.Position,
		Department:      req.Department,
		AdmissionDate:   req.AdmissionDate,
		Active:          true,
		CanPrescribe:    req.CanPrescribe,
		CanTelemedicine: req.CanTelemedicine,
	}

	err = s.repo.CreateWithAccount(ctx, account, professional)
	if errors.Is(err, repository.ErrDuplicate) {
		err = apperrors.Conflict("a professional with this email, CPF or registration already exists")
	} else if err != nil {
		err = apperrors.Internal(err)
	}

	entry := audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionProfessionalCreated,
		ResourceType: model.ResourceProfessional,
		Context: model.JSONMap{
			"position":     string(req.Position),
			"specialty":    req.Specialty,
			"registration": registration(req.CRM, req.COREN),
		},
		Err: err,
	}
	if err == nil {
		entry.ResourceID = professional.ID.String()
		entry.NewData = model.JSONMap{"name": professional.Name, "account_id": account.ID.String()}
	}
	s.recorder.Record(ctx, entry)

	if err != nil {
		return nil, err
	}
	return professional, nil
}

func registration(crm, coren *string) string {
	switch {
	case crm != nil:
		return *crm
	case coren != nil:
		return *coren
	}
	return ""
}

// List returns a page of professionals with CPF and phone masked.
func (s *Service) List(ctx context.Context, principal *model.Principal, filter model.ProfessionalFilter) (*model.Page[*model.Professional], error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.ProfessionalList); err != nil {
		return nil, err
	}
	return s.list(ctx, principal, filter, model.JSONMap{
		"search":     filter.Search != "",
		"specialty":  filter.Specialty,
		"position":   string(filter.Position),
		"department": filter.Department,
	})
}

// ListBySpecialty returns the active professionals of one specialty.
func (s *Service) ListBySpecialty(ctx context.Context, principal *model.Principal, specialty string, p model.Pagination) (*model.Page[*model.Professional], error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.ProfessionalListBySpecialty); err != nil {
		return nil, err
	}
	specialty = strings.TrimSpace(specialty)
	if specialty == "" {
		return nil, s.fail(ctx, principal, model.ActionProfessionalsListed, "", apperrors.ValidationFailed("specialty is required"))
	}
	return s.list(ctx, principal, model.ProfessionalFilter{Pagination: p, Specialty: specialty}, model.JSONMap{
		"specialty": specialty,
	})
}

func (s *Service) list(ctx context.Context, principal *model.Principal, filter model.ProfessionalFilter, filters model.JSONMap) (*model.Page[*model.Professional], error) {
	filter.Pagination = filter.Pagination.Normalize(model.DefaultPageSize, model.MaxPageSize)

	professionals, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionProfessionalsListed, "", apperrors.Internal(err))
	}
	for i, p := range professionals {
		professionals[i] = access.MaskProfessional(p)
	}

	filters["page"] = filter.Page
	filters["limit"] = filter.Limit
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionProfessionalsListed,
		ResourceType: model.ResourceProfessional,
		Context:      model.JSONMap{"filters": filters, "total": total},
	})

	return &model.Page[*model.Professional]{Items: professionals, Total: total, Pagination: filter.Pagination}, nil
}

// Get returns one professional. Physicians and nurses may only read their
// own record.
func (s *Service) Get(ctx context.Context, principal *model.Principal, id uuid.UUID) (*model.Professional, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.ProfessionalView); err != nil {
		return nil, err
	}
	professional, err := s.find(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionProfessionalViewed, id.String(), err)
	}
	decision, err := s.evaluator.Authorize(ctx, principal, access.ProfessionalView, access.Resource{
		ID:                  id.String(),
		OwnerProfessionalID: &professional.ID,
	})
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionProfessionalViewed, id.String(), err)
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionProfessionalViewed,
		ResourceType: model.ResourceProfessional,
		ResourceID:   id.String(),
		Context:      model.JSONMap{"masked": decision.Visibility == access.Masked},
	})
	return access.ApplyProfessional(professional, decision.Visibility), nil
}

// Schedule lists the professional's appointments on date, which defaults
// to today. Physicians and nurses may only read their own schedule.
func (s *Service) Schedule(ctx context.Context, principal *model.Principal, id uuid.UUID, date string) (*model.ProfessionalSchedule, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.ProfessionalSchedule); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if date != "" {
		parsed, err := time.Parse(scheduleDateLayout, date)
		if err != nil {
			return nil, s.fail(ctx, principal, model.ActionProfessionalScheduleViewed, id.String(),
				apperrors.ValidationFailed("date must use the YYYY-MM-DD format"))
		}
		day = parsed
	}

	professional, err := s.find(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionProfessionalScheduleViewed, id.String(), err)
	}
	_, err = s.evaluator.Authorize(ctx, principal, access.ProfessionalSchedule, access.Resource{
		ID:                  id.String(),
		OwnerProfessionalID: &professional.ID,
	})
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionProfessionalScheduleViewed, id.String(), err)
	}
	appointments, err := s.appointments.ListForProfessionalBetween(ctx, id, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionProfessionalScheduleViewed, id.String(), apperrors.Internal(err))
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionProfessionalScheduleViewed,
		ResourceType: model.ResourceProfessional,
		ResourceID:   id.String(),
		Context:      model.JSONMap{"date": day.Format(scheduleDateLayout), "count": len(appointments)},
	})

	return &model.ProfessionalSchedule{
		Professional: model.ProfessionalSummary{
			ID:        professional.ID,
			Name:      professional.Name,
			Specialty: professional.Specialty,
			Position:  professional.Position,
		},
		Date:         day.Format(scheduleDateLayout),
		Appointments: appointments,
	}, nil
}

// Update applies the fields present in req. CPF, CRM, COREN and the active
// flag are ignored unless the caller is an administrator.
func (s *Service) Update(ctx context.Context, principal *model.Principal, id uuid.UUID, req *model.UpdateProfessionalRequest) (*model.Professional, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.ProfessionalUpdate); err != nil {
		return nil, err
	}
	professional, err := s.find(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionProfessionalUpdated, id.String(), err)
	}
	decision, err := s.evaluator.Authorize(ctx, principal, access.ProfessionalUpdate, access.Resource{
		ID:                  id.String(),
		OwnerProfessionalID: &professional.ID,
	})
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionProfessionalUpdated, id.String(), err)
	}

	if !principal.IsAdmin() && req.TouchesRestricted() {
		req.CPF, req.CRM, req.COREN, req.Active = nil, nil, nil, nil
	}
	previous, next := applyUpdate(professional, req)

	err = s.repo.Update(ctx, professional)
	if errors.Is(err, repository.ErrDuplicate) {
		err = apperrors.Conflict("another professional already uses this CPF or registration")
	} else if err != nil {
		err = apperrors.Internal(err)
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionProfessionalUpdated,
		ResourceType: model.ResourceProfessional,
		ResourceID:   id.String(),
		Context:      model.JSONMap{"changes": req.ChangedFields()},
		PreviousData: previous,
		NewData:      next,
		Err:          err,
	})
	if err != nil {
		return nil, err
	}
	return access.ApplyProfessional(professional, decision.Visibility), nil
}

func applyUpdate(p *model.Professional, req *model.UpdateProfessionalRequest) (model.JSONMap, model.JSONMap) {
	previous, next := model.JSONMap{}, model.JSONMap{}
	plain := func(name string, dst *string, src *string) {
		if src == nil {
			return
		}
		previous[name], next[name] = *dst, *src
		*dst = *src
	}
	plain("name", &p.Name, req.Name)
	plain("specialty", &p.Specialty, req.Specialty)
	plain("department", &p.Department, req.Department)

	optional := func(name string, dst **string, src *string) {
		if src == nil {
			return
		}
		if *dst != nil {
			previous[name] = **dst
		}
		next[name] = *src
		v := *src
		*dst = &v
	}
	optional("crm", &p.CRM, req.CRM)
	optional("coren", &p.COREN, req.COREN)

	flag := func(name string, dst *bool, src *bool) {
		if src == nil || *src == *dst {
			return
		}
		previous[name], next[name] = *dst, *src
		*dst = *src
	}
	flag("active", &p.Active, req.Active)
	flag("can_prescribe", &p.CanPrescribe, req.CanPrescribe)
	flag("can_telemedicine", &p.CanTelemedicine, req.CanTelemedicine)

	if req.CPF != nil {
		p.CPF = *req.CPF
	}
	if req.Phone != nil {
		v := *req.Phone
		p.Phone = &v
	}
	if req.AdmissionDate != nil {
		p.AdmissionDate = req.AdmissionDate
	}
	return previous, next
}

// Deactivate disables the professional and its account.
func (s *Service) Deactivate(ctx context.Context, principal *model.Principal, id uuid.UUID) error {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.ProfessionalDeactivate); err != nil {
		return err
	}
	professional, err := s.find(ctx, id)
	if err != nil {
		return s.fail(ctx, principal, model.ActionProfessionalDeactivated, id.String(), err)
	}

	err = s.repo.Deactivate(ctx, id, s.now().UTC())
	if err != nil {
		err = apperrors.Internal(err)
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionProfessionalDeactivated,
		ResourceType: model.ResourceProfessional,
		ResourceID:   id.String(),
		PreviousData: model.JSONMap{"active": professional.Active},
		NewData:      model.JSONMap{"active": false},
		Err:          err,
	})
	return err
}

func (s *Service) Statistics(ctx context.Context, principal *model.Principal) (*model.ProfessionalStatistics, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.ProfessionalStatistics); err != nil {
		return nil, err
	}
	stats, err := s.repo.Statistics(ctx)
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionProfessionalStatisticsViewed, "", apperrors.Internal(err))
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionProfessionalStatisticsViewed,
		ResourceType: model.ResourceProfessional,
	})
	return stats, nil
}

func (s *Service) find(ctx context.Context, id uuid.UUID) (*model.Professional, error) {
	professional, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("professional", err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return professional, nil
}

// fail records an unsuccessful attempt at action and returns err.
func (s *Service) fail(ctx context.Context, principal *model.Principal, action model.AuditAction, id string, err error) error {
	if !access.Denied(err) {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      &principal.AccountID,
			Action:       action,
			ResourceType: model.ResourceProfessional,
			ResourceID:   id,
			Err:          err,
		})
	}
	return err
}

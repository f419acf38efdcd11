package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/internal/service/access"
	"github.com/jwalitptl/hospital-api/internal/service/audit"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/security"
	"github.com/jwalitptl/hospital-api/pkg/validator"
)

type Service struct {
	repo      repository.PatientRepository
	hasher    security.PasswordHasher
	evaluator *access.Evaluator
	recorder  audit.Recorder
	now       func() time.Time
}

func NewService(repo repository.PatientRepository, hasher security.PasswordHasher, evaluator *access.Evaluator, recorder audit.Recorder) *Service {
	return &Service{
		repo:      repo,
		hasher:    hasher,
		evaluator: evaluator,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Create registers a patient together with its login account.
func (s *Service) Create(ctx context.Context, principal *model.Principal, req *model.CreatePatientRequest) (*model.Patient, error) {
	decision, err := s.evaluator.RequireRole(ctx, principal, access.PatientCreate)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) || errors.Is(err, security.ErrPasswordTooLong) {
			return nil, s.fail(ctx, principal, model.ActionPatientCreated, "", apperrors.ValidationFailed(err.Error()))
		}
		return nil, s.fail(ctx, principal, model.ActionPatientCreated, "", apperrors.Internal(err))
	}

	now := s.now().UTC()
	account := &model.Account{
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RolePatient,
		Active:       true,
	}
	patient := &model.Patient{
		Name:                  req.Name,
		CPF:                   validator.Digits(req.CPF),
		RG:                    req.RG,
		BirthDate:             req.BirthDate,
		Phone:                 req.Phone,
		Address:               req.Address,
		City:                  req.City,
		State:                 req.State,
		ZipCode:               req.ZipCode,
		HealthPlan:            req.HealthPlan,
		InsuranceCardNumber:   req.InsuranceCardNumber,
		EmergencyContactName:  req.EmergencyContactName,
		EmergencyContactPhone: req.EmergencyContactPhone,
		MedicalNotes:          req.MedicalNotes,
		LGPDConsent:           req.LGPDConsent,
		Active:                true,
	}
	if req.LGPDConsent {
		patient.LGPDConsentAt = &now
	}

	err = s.repo.CreateWithAccount(ctx, account, patient)
	if errors.Is(err, repository.ErrDuplicate) {
		err = apperrors.Conflict("email or CPF already registered")
	} else if err != nil {
		err = apperrors.Internal(err)
	}

	entry := audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionPatientCreated,
		ResourceType: model.ResourcePatient,
		Context:      model.JSONMap{"cpf": security.AnonymizeString(req.CPF, security.KindCPF)},
		Err:          err,
	}
	if err == nil {
		entry.ResourceID = patient.ID.String()
		entry.NewData = model.JSONMap{"name": patient.Name, "account_id": account.ID.String()}
	}
	s.recorder.Record(ctx, entry)

	if err != nil {
		return nil, err
	}
	return access.ApplyPatient(patient, decision.Visibility), nil
}

// List returns a page of active patients. CPF and phone are always masked
// in listings; a patient caller only ever sees their own record.
func (s *Service) List(ctx context.Context, principal *model.Principal, filter model.PatientFilter) (*model.Page[*model.Patient], error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.PatientList); err != nil {
		return nil, err
	}
	filter.Pagination = filter.Pagination.Normalize(model.DefaultPageSize, model.MaxPageSize)

	var (
		patients []*model.Patient
		total    int64
		err      error
	)
	if principal.Role == model.RolePatient {
		patients, total, err = s.own(ctx, principal)
	} else {
		patients, total, err = s.repo.List(ctx, filter)
	}
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionPatientsListed, "", apperrors.Internal(err))
	}

	for i, p := range patients {
		patients[i] = access.MaskPatient(p)
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionPatientsListed,
		ResourceType: model.ResourcePatient,
		Context: model.JSONMap{
			"filters": model.JSONMap{
				"search":      filter.Search != "",
				"city":        filter.City,
				"health_plan": filter.HealthPlan,
				"page":        filter.Page,
				"limit":       filter.Limit,
			},
			"total": total,
		},
	})

	return &model.Page[*model.Patient]{Items: patients, Total: total, Pagination: filter.Pagination}, nil
}

func (s *Service) own(ctx context.Context, principal *model.Principal) ([]*model.Patient, int64, error) {
	p, err := s.repo.GetByAccountID(ctx, principal.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return []*model.Patient{}, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return []*model.Patient{p}, 1, nil
}

// Get returns one patient, with sensitive fields in plaintext only for
// clinical staff, administrators and the patient themselves.
func (s *Service) Get(ctx context.Context, principal *model.Principal, id uuid.UUID) (*model.Patient, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.PatientView); err != nil {
		return nil, err
	}
	patient, err := s.find(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionPatientViewed, id.String(), err)
	}
	decision, err := s.evaluator.Authorize(ctx, principal, access.PatientView, access.Resource{
		ID:             id.String(),
		OwnerPatientID: &patient.ID,
	})
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionPatientViewed, id.String(), err)
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionPatientViewed,
		ResourceType: model.ResourcePatient,
		ResourceID:   id.String(),
		Context:      model.JSONMap{"masked": decision.Visibility == access.Masked},
	})
	return access.ApplyPatient(patient, decision.Visibility), nil
}

// Update applies the fields present in req. Patients cannot change their RG.
func (s *Service) Update(ctx context.Context, principal *model.Principal, id uuid.UUID, req *model.UpdatePatientRequest) (*model.Patient, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.PatientUpdate); err != nil {
		return nil, err
	}
	patient, err := s.find(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionPatientUpdated, id.String(), err)
	}
	decision, err := s.evaluator.Authorize(ctx, principal, access.PatientUpdate, access.Resource{
		ID:             id.String(),
		OwnerPatientID: &patient.ID,
	})
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionPatientUpdated, id.String(), err)
	}
	if patient.IsAnonymized() {
		return nil, s.fail(ctx, principal, model.ActionPatientUpdated, id.String(),
			apperrors.Conflict("patient record has been anonymized"))
	}

	if principal.Role == model.RolePatient {
		req.RG = nil
	}
	previous, next := applyUpdate(patient, req, s.now().UTC())

	err = s.repo.Update(ctx, patient)
	if err != nil {
		err = apperrors.Internal(err)
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionPatientUpdated,
		ResourceType: model.ResourcePatient,
		ResourceID:   id.String(),
		Context:      model.JSONMap{"changes": req.ChangedFields()},
		PreviousData: previous,
		NewData:      next,
		Err:          err,
	})
	if err != nil {
		return nil, err
	}
	return access.ApplyPatient(patient, decision.Visibility), nil
}

// applyUpdate copies the request onto p and returns the before and after
// values of the plain fields that changed. Sensitive fields are listed by
// name only.
func applyUpdate(p *model.Patient, req *model.UpdatePatientRequest, now time.Time) (model.JSONMap, model.JSONMap) {
	previous, next := model.JSONMap{}, model.JSONMap{}
	plain := func(name string, dst *string, src *string) {
		if src == nil {
			return
		}
		previous[name], next[name] = *dst, *src
		*dst = *src
	}
	plain("name", &p.Name, req.Name)
	plain("city", &p.City, req.City)
	plain("state", &p.State, req.State)
	plain("zip_code", &p.ZipCode, req.ZipCode)
	plain("health_plan", &p.HealthPlan, req.HealthPlan)

	sensitive := func(dst **string, src *string) {
		if src != nil {
			v := *src
			*dst = &v
		}
	}
	sensitive(&p.RG, req.RG)
	sensitive(&p.Phone, req.Phone)
	sensitive(&p.Address, req.Address)
	sensitive(&p.InsuranceCardNumber, req.InsuranceCardNumber)
	sensitive(&p.EmergencyContactName, req.EmergencyContactName)
	sensitive(&p.EmergencyContactPhone, req.EmergencyContactPhone)

	if req.BirthDate != nil {
		p.BirthDate = req.BirthDate
	}
	if req.MedicalNotes != nil {
		p.MedicalNotes = *req.MedicalNotes
	}
	if req.LGPDConsent != nil && *req.LGPDConsent != p.LGPDConsent {
		previous["lgpd_consent"], next["lgpd_consent"] = p.LGPDConsent, *req.LGPDConsent
		p.LGPDConsent = *req.LGPDConsent
		if p.LGPDConsent {
			p.LGPDConsentAt = &now
		} else {
			p.LGPDConsentAt = nil
		}
	}
	return previous, next
}

// Deactivate disables the patient and its account.
func (s *Service) Deactivate(ctx context.Context, principal *model.Principal, id uuid.UUID) error {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.PatientDeactivate); err != nil {
		return err
	}
	patient, err := s.find(ctx, id)
	if err != nil {
		return s.fail(ctx, principal, model.ActionPatientDeactivated, id.String(), err)
	}

	err = s.repo.Deactivate(ctx, id, s.now().UTC())
	if err != nil {
		err = apperrors.Internal(err)
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionPatientDeactivated,
		ResourceType: model.ResourcePatient,
		ResourceID:   id.String(),
		PreviousData: model.JSONMap{"active": patient.Active},
		NewData:      model.JSONMap{"active": false},
		Err:          err,
	})
	return err
}

// Anonymize irreversibly replaces every direct identifier of the patient
// with fixed placeholders and deactivates the record.
func (s *Service) Anonymize(ctx context.Context, principal *model.Principal, id uuid.UUID) error {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.PatientAnonymize); err != nil {
		return err
	}
	patient, err := s.find(ctx, id)
	if err != nil {
		return s.fail(ctx, principal, model.ActionPatientAnonymized, id.String(), err)
	}
	if patient.IsAnonymized() {
		return s.fail(ctx, principal, model.ActionPatientAnonymized, id.String(),
			apperrors.Conflict("patient record has already been anonymized"))
	}

	err = s.repo.Anonymize(ctx, id, s.now().UTC())
	if err != nil {
		err = apperrors.Internal(err)
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionPatientAnonymized,
		ResourceType: model.ResourcePatient,
		ResourceID:   id.String(),
		Context:      model.JSONMap{"original_name": security.AnonymizeString(patient.Name, security.KindName)},
		Err:          err,
	})
	return err
}

func (s *Service) Statistics(ctx context.Context, principal *model.Principal) (*model.PatientStatistics, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.PatientStatistics); err != nil {
		return nil, err
	}
	stats, err := s.repo.Statistics(ctx, s.now())
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionPatientStatisticsViewed, "", apperrors.Internal(err))
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionPatientStatisticsViewed,
		ResourceType: model.ResourcePatient,
	})
	return stats, nil
}

func (s *Service) find(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	patient, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("patient", err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return patient, nil
}

// fail records an unsuccessful attempt at action and returns err.
func (s *Service) fail(ctx context.Context, principal *model.Principal, action model.AuditAction, id string, err error) error {
	if !access.Denied(err) {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      &principal.AccountID,
			Action:       action,
			ResourceType: model.ResourcePatient,
			ResourceID:   id,
			Err:          err,
		})
	}
	return err
}

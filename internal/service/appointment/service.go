package appointment

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
)

// MinDiagnosisLength is the shortest diagnosis accepted when completing an appointment.
const MinDiagnosisLength = 10

type Service struct {
	repo          repository.AppointmentRepository
	patients      repository.PatientRepository
	professionals repository.ProfessionalRepository
	evaluator     *access.Evaluator
	recorder      audit.Recorder
	now           func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo repository.AppointmentRepository, patients repository.PatientRepository, professionals repository.ProfessionalRepository, evaluator *access.Evaluator, recorder audit.Recorder, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		patients:      patients,
		professionals: professionals,
		evaluator:     evaluator,
		recorder:      recorder,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create books an appointment. Both parties must be active, the time must
// be in the future and the professional must be free at that exact time.
func (s *Service) Create(ctx context.Context, principal *model.Principal, req *model.CreateAppointmentRequest) (*model.AppointmentDetail, error) {
	decision, err := s.evaluator.RequireRole(ctx, principal, access.AppointmentCreate)
	if err != nil {
		return nil, err
	}

	patient, professional, err := s.parties(ctx, req)
	if err == nil && !req.ScheduledAt.After(s.now()) {
		err = apperrors.ValidationFailed("scheduled_at must be in the future")
	}
	if err == nil {
		err = s.checkSlot(ctx, req.ProfessionalID, req.ScheduledAt, nil)
	}
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionAppointmentCreated, "", err)
	}

	appointment := &model.Appointment{
		PatientID:      req.PatientID,
		ProfessionalID: req.ProfessionalID,
		ScheduledAt:    req.ScheduledAt.UTC(),
		Type:           req.Type,
		Status:         model.AppointmentScheduled,
		Urgent:         req.Urgent,
		Reason:         req.Reason,
		Notes:          req.Notes,
	}
	err = s.repo.Create(ctx, appointment)
	if err != nil {
		err = apperrors.Internal(err)
	}

	entry := audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionAppointmentCreated,
		ResourceType: model.ResourceAppointment,
		Context: model.JSONMap{
			"patient_id":      req.PatientID.String(),
			"professional_id": req.ProfessionalID.String(),
			"scheduled_at":    appointment.ScheduledAt,
			"type":            string(req.Type),
			"urgent":          req.Urgent,
		},
		Err: err,
	}
	if err == nil {
		entry.ResourceID = appointment.ID.String()
	}
	s.recorder.Record(ctx, entry)

	if err != nil {
		return nil, err
	}
	return detail(appointment, patient, professional, decision.Visibility), nil
}

// parties loads the patient and the professional of a new appointment. An
// inactive party is reported as missing.
func (s *Service) parties(ctx context.Context, req *model.CreateAppointmentRequest) (*model.Patient, *model.Professional, error) {
	patient, err := s.patients.GetByID(ctx, req.PatientID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !patient.Active) {
		return nil, nil, apperrors.NotFound("patient", repository.ErrNotFound)
	}
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	professional, err := s.professionals.GetByID(ctx, req.ProfessionalID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !professional.Active) {
		return nil, nil, apperrors.NotFound("professional", repository.ErrNotFound)
	}
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	return patient, professional, nil
}

func (s *Service) checkSlot(ctx context.Context, professionalID uuid.UUID, at time.Time, exclude *uuid.UUID) error {
	taken, err := s.repo.HasConflict(ctx, professionalID, at, exclude)
	if err != nil {
		return apperrors.Internal(err)
	}
	if taken {
		return apperrors.Conflict("the professional already has an appointment at this time")
	}
	return nil
}

// List returns a page of appointments, newest first. Patients see their own
// appointments, physicians and nurses those they attend. Only
// administrators may filter by patient or professional.
func (s *Service) List(ctx context.Context, principal *model.Principal, filter model.AppointmentFilter) (*model.Page[*model.Appointment], error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.AppointmentList); err != nil {
		return nil, err
	}
	filter.Pagination = filter.Pagination.Normalize(model.DefaultPageSize, model.MaxPageSize)

	scoped, err := s.scope(ctx, principal, &filter)
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionAppointmentsListed, "", apperrors.Internal(err))
	}

	appointments, total := []*model.Appointment{}, int64(0)
	if scoped {
		appointments, total, err = s.repo.List(ctx, filter)
		if err != nil {
			return nil, s.fail(ctx, principal, model.ActionAppointmentsListed, "", apperrors.Internal(err))
		}
	}

	filters := model.JSONMap{"status": string(filter.Status), "page": filter.Page, "limit": filter.Limit}
	if filter.From != nil {
		filters["date_from"] = filter.From
	}
	if filter.To != nil {
		filters["date_to"] = filter.To
	}
	if filter.Urgent != nil {
		filters["urgent"] = *filter.Urgent
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionAppointmentsListed,
		ResourceType: model.ResourceAppointment,
		Context:      model.JSONMap{"filters": filters, "total": total},
	})

	return &model.Page[*model.Appointment]{Items: appointments, Total: total, Pagination: filter.Pagination}, nil
}

// scope narrows filter to what the caller may list. It reports false when
// the caller has no linked record and therefore nothing to see.
func (s *Service) scope(ctx context.Context, principal *model.Principal, filter *model.AppointmentFilter) (bool, error) {
	switch principal.Role {
	case model.RoleAdmin:
		return true, nil
	case model.RolePatient:
		id, err := s.evaluator.LinkedPatient(ctx, principal)
		if err != nil || id == nil {
			return false, err
		}
		filter.PatientID, filter.ProfessionalID = id, nil
		return true, nil
	case model.RolePhysician, model.RoleNurse:
		id, err := s.evaluator.LinkedProfessional(ctx, principal)
		if err != nil || id == nil {
			return false, err
		}
		filter.PatientID, filter.ProfessionalID = nil, id
		return true, nil
	default:
		filter.PatientID, filter.ProfessionalID = nil, nil
		return true, nil
	}
}

// Get returns the appointment with summaries of the patient and the professional.
func (s *Service) Get(ctx context.Context, principal *model.Principal, id uuid.UUID) (*model.AppointmentDetail, error) {
	appointment, decision, err := s.authorize(ctx, principal, access.AppointmentView, model.ActionAppointmentViewed, id)
	if err != nil {
		return nil, err
	}

	patient, err := s.patients.GetByID(ctx, appointment.PatientID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, s.fail(ctx, principal, model.ActionAppointmentViewed, id.String(), apperrors.Internal(err))
	}
	professional, err := s.professionals.GetByID(ctx, appointment.ProfessionalID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, s.fail(ctx, principal, model.ActionAppointmentViewed, id.String(), apperrors.Internal(err))
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionAppointmentViewed,
		ResourceType: model.ResourceAppointment,
		ResourceID:   id.String(),
	})
	return detail(appointment, patient, professional, decision.Visibility), nil
}

// Update reschedules or edits an open appointment.
func (s *Service) Update(ctx context.Context, principal *model.Principal, id uuid.UUID, req *model.UpdateAppointmentRequest) (*model.Appointment, error) {
	appointment, _, err := s.authorize(ctx, principal, access.AppointmentUpdate, model.ActionAppointmentUpdated, id)
	if err != nil {
		return nil, err
	}
	if !appointment.Status.Blocking() {
		return nil, s.fail(ctx, principal, model.ActionAppointmentUpdated, id.String(),
			apperrors.ValidationFailed("cancelled or completed appointments cannot be changed"))
	}

	if req.ScheduledAt != nil && !req.ScheduledAt.Equal(appointment.ScheduledAt) {
		if !req.ScheduledAt.After(s.now()) {
			return nil, s.fail(ctx, principal, model.ActionAppointmentUpdated, id.String(),
				apperrors.ValidationFailed("scheduled_at must be in the future"))
		}
		if err := s.checkSlot(ctx, appointment.ProfessionalID, *req.ScheduledAt, &id); err != nil {
			return nil, s.fail(ctx, principal, model.ActionAppointmentUpdated, id.String(), err)
		}
	}

	previous := model.JSONMap{
		"scheduled_at": appointment.ScheduledAt,
		"status":       string(appointment.Status),
	}
	if req.ScheduledAt != nil {
		appointment.ScheduledAt = req.ScheduledAt.UTC()
	}
	if req.Type != nil {
		appointment.Type = *req.Type
	}
	if req.Status != nil {
		appointment.Status = *req.Status
	}
	if req.Reason != nil {
		appointment.Reason = req.Reason
	}
	if req.Notes != nil {
		appointment.Notes = req.Notes
	}
	if req.Urgent != nil {
		appointment.Urgent = *req.Urgent
	}

	err = s.repo.Update(ctx, appointment)
	if err != nil {
		err = apperrors.Internal(err)
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionAppointmentUpdated,
		ResourceType: model.ResourceAppointment,
		ResourceID:   id.String(),
		Context:      model.JSONMap{"changes": req.ChangedFields()},
		PreviousData: previous,
		NewData: model.JSONMap{
			"scheduled_at": appointment.ScheduledAt,
			"status":       string(appointment.Status),
		},
		Err: err,
	})
	if err != nil {
		return nil, err
	}
	return appointment, nil
}

func (s *Service) Cancel(ctx context.Context, principal *model.Principal, id uuid.UUID, req *model.CancelAppointmentRequest) (*model.Appointment, error) {
	appointment, _, err := s.authorize(ctx, principal, access.AppointmentCancel, model.ActionAppointmentCancelled, id)
	if err != nil {
		return nil, err
	}
	switch appointment.Status {
	case model.AppointmentCancelled:
		return nil, s.fail(ctx, principal, model.ActionAppointmentCancelled, id.String(),
			apperrors.ValidationFailed("appointment is already cancelled"))
	case model.AppointmentCompleted:
		return nil, s.fail(ctx, principal, model.ActionAppointmentCancelled, id.String(),
			apperrors.ValidationFailed("a completed appointment cannot be cancelled"))
	}

	previous := appointment.Status
	now := s.now().UTC()
	appointment.Status = model.AppointmentCancelled
	appointment.CancelledAt = &now
	if req != nil {
		appointment.CancelReason = req.Reason
	}

	err = s.repo.Update(ctx, appointment)
	if err != nil {
		err = apperrors.Internal(err)
	}
	details := model.JSONMap{"previous_status": string(previous)}
	if appointment.CancelReason != nil {
		details["reason"] = *appointment.CancelReason
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionAppointmentCancelled,
		ResourceType: model.ResourceAppointment,
		ResourceID:   id.String(),
		Context:      details,
		Err:          err,
	})
	if err != nil {
		return nil, err
	}
	return appointment, nil
}

// CheckIn confirms the patient's arrival and moves a scheduled appointment
// to in progress.
func (s *Service) CheckIn(ctx context.Context, principal *model.Principal, id uuid.UUID) (*model.Appointment, error) {
	appointment, _, err := s.authorize(ctx, principal, access.AppointmentCheckIn, model.ActionAppointmentCheckIn, id)
	if err != nil {
		return nil, err
	}
	if appointment.Status != model.AppointmentScheduled {
		return nil, s.fail(ctx, principal, model.ActionAppointmentCheckIn, id.String(),
			apperrors.ValidationFailed("only scheduled appointments can be checked in"))
	}

	now := s.now().UTC()
	appointment.Status = model.AppointmentInProgress
	appointment.CheckedIn = true
	appointment.CheckedInAt = &now

	err = s.repo.Update(ctx, appointment)
	if err != nil {
		err = apperrors.Internal(err)
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionAppointmentCheckIn,
		ResourceType: model.ResourceAppointment,
		ResourceID:   id.String(),
		Context:      model.JSONMap{"checked_in_at": now},
		Err:          err,
	})
	if err != nil {
		return nil, err
	}
	return appointment, nil
}

// Complete records the clinical outcome. Clinical content is never copied
// into the audit trail.
func (s *Service) Complete(ctx context.Context, principal *model.Principal, id uuid.UUID, req *model.CompleteAppointmentRequest) (*model.Appointment, error) {
	appointment, _, err := s.authorize(ctx, principal, access.AppointmentComplete, model.ActionAppointmentCompleted, id)
	if err != nil {
		return nil, err
	}
	diagnosis := strings.TrimSpace(req.Diagnosis)
	switch {
	case appointment.Status == model.AppointmentCompleted:
		err = apperrors.ValidationFailed("appointment is already completed")
	case appointment.Status == model.AppointmentCancelled:
		err = apperrors.ValidationFailed("a cancelled appointment cannot be completed")
	case len([]rune(diagnosis)) < MinDiagnosisLength:
		err = apperrors.ValidationFailed("diagnosis must have at least 10 characters")
	}
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionAppointmentCompleted, id.String(), err)
	}

	now := s.now().UTC()
	appointment.Status = model.AppointmentCompleted
	appointment.Diagnosis = &diagnosis
	appointment.Prescription = req.Prescription
	appointment.ClinicalNotes = req.ClinicalNotes
	appointment.RequestedExams = req.RequestedExams
	appointment.FollowUpRequired = req.FollowUpRequired
	appointment.FollowUpDate = req.FollowUpDate
	appointment.CompletedAt = &now

	err = s.repo.Update(ctx, appointment)
	if err != nil {
		err = apperrors.Internal(err)
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionAppointmentCompleted,
		ResourceType: model.ResourceAppointment,
		ResourceID:   id.String(),
		Context: model.JSONMap{
			"follow_up_required": req.FollowUpRequired,
			"has_prescription":   req.Prescription != nil,
		},
		Err: err,
	})
	if err != nil {
		return nil, err
	}
	return appointment, nil
}

// Report aggregates appointments by status and by professional.
func (s *Service) Report(ctx context.Context, principal *model.Principal, filter model.AppointmentFilter) (*model.AppointmentReport, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, access.AppointmentReport); err != nil {
		return nil, err
	}

	counts, err := s.repo.CountByStatus(ctx, filter)
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionAppointmentReport, "", apperrors.Internal(err))
	}
	workload, err := s.repo.WorkloadByProfessional(ctx, filter)
	if err != nil {
		return nil, s.fail(ctx, principal, model.ActionAppointmentReport, "", apperrors.Internal(err))
	}

	report := &model.AppointmentReport{
		From:           filter.From,
		To:             filter.To,
		Completed:      counts[model.AppointmentCompleted],
		Cancelled:      counts[model.AppointmentCancelled],
		Scheduled:      counts[model.AppointmentScheduled],
		ByProfessional: workload,
	}
	for _, n := range counts {
		report.Total += n
	}
	if report.Total > 0 {
		report.CompletionRate = float64(report.Completed) / float64(report.Total) * 100
	}

	filters := model.JSONMap{"status": string(filter.Status)}
	if filter.ProfessionalID != nil {
		filters["professional_id"] = filter.ProfessionalID.String()
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      &principal.AccountID,
		Action:       model.ActionAppointmentReport,
		ResourceType: model.ResourceAppointment,
		Context:      model.JSONMap{"filters": filters, "date_from": filter.From, "date_to": filter.To},
	})
	return report, nil
}

// authorize runs the role check, loads the appointment and then applies the
// ownership rule, so callers without the role learn nothing about existence.
// Failures past the role check are recorded under auditAction.
func (s *Service) authorize(ctx context.Context, principal *model.Principal, action access.Action, auditAction model.AuditAction, id uuid.UUID) (*model.Appointment, *access.Decision, error) {
	if _, err := s.evaluator.RequireRole(ctx, principal, action); err != nil {
		return nil, nil, err
	}
	appointment, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, s.fail(ctx, principal, auditAction, id.String(), apperrors.NotFound("appointment", err))
	}
	if err != nil {
		return nil, nil, s.fail(ctx, principal, auditAction, id.String(), apperrors.Internal(err))
	}
	decision, err := s.evaluator.Authorize(ctx, principal, action, access.Resource{
		ID:                  id.String(),
		OwnerPatientID:      &appointment.PatientID,
		OwnerProfessionalID: &appointment.ProfessionalID,
	})
	if err != nil {
		return nil, nil, s.fail(ctx, principal, auditAction, id.String(), err)
	}
	return appointment, decision, nil
}

// fail records an unsuccessful attempt at action and returns err.
func (s *Service) fail(ctx context.Context, principal *model.Principal, action model.AuditAction, id string, err error) error {
	if !access.Denied(err) {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      &principal.AccountID,
			Action:       action,
			ResourceType: model.ResourceAppointment,
			ResourceID:   id,
			Err:          err,
		})
	}
	return err
}

func detail(a *model.Appointment, patient *model.Patient, professional *model.Professional, v access.Visibility) *model.AppointmentDetail {
	d := &model.AppointmentDetail{Appointment: a}
	if patient != nil {
		p := access.ApplyPatient(patient, v)
		d.Patient = &model.AppointmentPatient{
			ID:        p.ID,
			Name:      p.Name,
			CPF:       p.CPF,
			Phone:     p.Phone,
			BirthDate: p.BirthDate,
		}
	}
	if professional != nil {
		d.Professional = &model.ProfessionalSummary{
			ID:        professional.ID,
			Name:      professional.Name,
			Specialty: professional.Specialty,
			Position:  professional.Position,
		}
	}
	return d
}

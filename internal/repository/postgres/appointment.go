package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
)

const appointmentColumns = `id, patient_id, professional_id, scheduled_at, type, status, urgent,
	reason, notes, cancel_reason, cancelled_at, checked_in, checked_in_at, diagnosis,
	prescription, clinical_notes, requested_exams, follow_up_required, follow_up_date,
	completed_at, created_at, updated_at`

type appointmentRepository struct {
	BaseRepository
}

func NewAppointmentRepository(base BaseRepository) repository.AppointmentRepository {
	return &appointmentRepository{base}
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	start := time.Now()
	now := time.Now().UTC()
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	query := `
		INSERT INTO appointments (` + appointmentColumns + `)
		VALUES (
			:id, :patient_id, :professional_id, :scheduled_at, :type, :status, :urgent,
			:reason, :notes, :cancel_reason, :cancelled_at, :checked_in, :checked_in_at, :diagnosis,
			:prescription, :clinical_notes, :requested_exams, :follow_up_required, :follow_up_date,
			:completed_at, :created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, appointment)
	err = translate(err, "create appointment")
	r.observe("appointments.create", start, err)
	return err
}

func (r *appointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	start := time.Now()
	var appointment model.Appointment
	err := r.db.GetContext(ctx, &appointment, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	err = translate(err, "get appointment")
	r.observe("appointments.get_by_id", start, err)
	if err != nil {
		return nil, err
	}
	return &appointment, nil
}

// appointmentWhere builds the filter conditions; alias qualifies the columns
// when the query joins other tables.
func appointmentWhere(filter model.AppointmentFilter, alias string) *whereBuilder {
	w := &whereBuilder{}
	if filter.Status != "" {
		w.add(alias+"status = $%d", string(filter.Status))
	}
	if filter.PatientID != nil {
		w.add(alias+"patient_id = $%d", *filter.PatientID)
	}
	if filter.ProfessionalID != nil {
		w.add(alias+"professional_id = $%d", *filter.ProfessionalID)
	}
	if filter.Urgent != nil {
		w.add(alias+"urgent = $%d", *filter.Urgent)
	}
	if filter.From != nil {
		w.add(alias+"scheduled_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		// date_to covers the whole day
		w.add(alias+"scheduled_at < $%d", filter.To.AddDate(0, 0, 1))
	}
	return w
}

func (r *appointmentRepository) List(ctx context.Context, filter model.AppointmentFilter) ([]*model.Appointment, int64, error) {
	start := time.Now()
	page := filter.Pagination.Normalize(model.DefaultPageSize, model.MaxPageSize)
	w := appointmentWhere(filter, "")

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM appointments`+w.String(), w.args...); err != nil {
		err = translate(err, "count appointments")
		r.observe("appointments.list", start, err)
		return nil, 0, err
	}

	where := w.String()
	limitIdx := w.next(page.Limit)
	offsetIdx := w.next(page.Offset())
	query := `SELECT ` + appointmentColumns + ` FROM appointments` + where +
		fmt.Sprintf(" ORDER BY scheduled_at DESC LIMIT $%d OFFSET $%d", limitIdx, offsetIdx)

	appointments := []*model.Appointment{}
	err := r.db.SelectContext(ctx, &appointments, query, w.args...)
	err = translate(err, "list appointments")
	r.observe("appointments.list", start, err)
	if err != nil {
		return nil, 0, err
	}
	return appointments, total, nil
}

func (r *appointmentRepository) Update(ctx context.Context, appointment *model.Appointment) error {
	start := time.Now()
	appointment.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE appointments SET
			scheduled_at = :scheduled_at, type = :type, status = :status, urgent = :urgent,
			reason = :reason, notes = :notes, cancel_reason = :cancel_reason,
			cancelled_at = :cancelled_at, checked_in = :checked_in, checked_in_at = :checked_in_at,
			diagnosis = :diagnosis, prescription = :prescription, clinical_notes = :clinical_notes,
			requested_exams = :requested_exams, follow_up_required = :follow_up_required,
			follow_up_date = :follow_up_date, completed_at = :completed_at, updated_at = :updated_at
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, appointment)
	if err != nil {
		err = translate(err, "update appointment")
	} else {
		err = expectOne(res, "update appointment")
	}
	r.observe("appointments.update", start, err)
	return err
}

func (r *appointmentRepository) HasConflict(ctx context.Context, professionalID uuid.UUID, at time.Time, excludeID *uuid.UUID) (bool, error) {
	start := time.Now()
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE professional_id = $1
			  AND scheduled_at = $2
			  AND status NOT IN ('cancelled', 'completed')
			  AND ($3::uuid IS NULL OR id <> $3::uuid)
		)
	`
	var exclude interface{}
	if excludeID != nil {
		exclude = *excludeID
	}

	var conflict bool
	err := r.db.GetContext(ctx, &conflict, query, professionalID, at, exclude)
	err = translate(err, "check appointment conflict")
	r.observe("appointments.has_conflict", start, err)
	return conflict, err
}

func (r *appointmentRepository) ListForProfessionalBetween(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]*model.Appointment, error) {
	start := time.Now()
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE professional_id = $1
		  AND scheduled_at >= $2 AND scheduled_at < $3
		  AND status NOT IN ('cancelled')
		ORDER BY scheduled_at ASC
	`
	appointments := []*model.Appointment{}
	err := r.db.SelectContext(ctx, &appointments, query, professionalID, from, to)
	err = translate(err, "list professional schedule")
	r.observe("appointments.schedule", start, err)
	if err != nil {
		return nil, err
	}
	return appointments, nil
}

func (r *appointmentRepository) CountByStatus(ctx context.Context, filter model.AppointmentFilter) (map[model.AppointmentStatus]int64, error) {
	w := appointmentWhere(filter, "")
	var counts []model.CountByKey
	query := `SELECT status AS key, COUNT(*) AS count FROM appointments` + w.String() + ` GROUP BY status`
	if err := r.db.SelectContext(ctx, &counts, query, w.args...); err != nil {
		return nil, translate(err, "count appointments by status")
	}

	result := make(map[model.AppointmentStatus]int64, len(counts))
	for _, c := range counts {
		result[model.AppointmentStatus(c.Key)] = c.Count
	}
	return result, nil
}

func (r *appointmentRepository) WorkloadByProfessional(ctx context.Context, filter model.AppointmentFilter) ([]model.ProfessionalWorkload, error) {
	w := appointmentWhere(filter, "a.")
	query := `
		SELECT p.id AS professional_id, p.name, p.specialty, COUNT(a.id) AS total
		FROM appointments a
		JOIN professionals p ON p.id = a.professional_id` +
		w.String() + `
		GROUP BY p.id, p.name, p.specialty
		ORDER BY total DESC
	`
	workload := []model.ProfessionalWorkload{}
	if err := r.db.SelectContext(ctx, &workload, query, w.args...); err != nil {
		return nil, translate(err, "get professional workload")
	}
	return workload, nil
}

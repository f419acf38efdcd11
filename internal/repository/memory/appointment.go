package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
)

type appointmentRepository struct {
	s *Store
}

func copyAppointment(a *model.Appointment) *model.Appointment {
	cp := *a
	return &cp
}

func (r *appointmentRepository) Create(_ context.Context, appointment *model.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	now := time.Now().UTC()
	appointment.CreatedAt, appointment.UpdatedAt = now, now
	r.s.appointments[appointment.ID] = copyAppointment(appointment)
	return nil
}

func (r *appointmentRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.appointments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyAppointment(a), nil
}

func matchesAppointment(a *model.Appointment, f model.AppointmentFilter) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.ProfessionalID != nil && a.ProfessionalID != *f.ProfessionalID {
		return false
	}
	if f.Urgent != nil && a.Urgent != *f.Urgent {
		return false
	}
	if f.From != nil && a.ScheduledAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !a.ScheduledAt.Before(f.To.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

func (r *appointmentRepository) filtered(f model.AppointmentFilter) []*model.Appointment {
	var matched []*model.Appointment
	for _, a := range r.s.appointments {
		if matchesAppointment(a, f) {
			matched = append(matched, copyAppointment(a))
		}
	}
	return matched
}

func (r *appointmentRepository) List(_ context.Context, filter model.AppointmentFilter) ([]*model.Appointment, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := r.filtered(filter)
	sort.Slice(matched, func(i, j int) bool { return matched[i].ScheduledAt.After(matched[j].ScheduledAt) })
	return paginate(matched, filter.Pagination), int64(len(matched)), nil
}

func (r *appointmentRepository) Update(_ context.Context, appointment *model.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.appointments[appointment.ID]
	if !ok {
		return repository.ErrNotFound
	}
	updated := copyAppointment(appointment)
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	r.s.appointments[appointment.ID] = updated
	appointment.UpdatedAt = updated.UpdatedAt
	return nil
}

func (r *appointmentRepository) HasConflict(_ context.Context, professionalID uuid.UUID, at time.Time, excludeID *uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.appointments {
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.ProfessionalID == professionalID && a.ScheduledAt.Equal(at) && a.Status.Blocking() {
			return true, nil
		}
	}
	return false, nil
}

func (r *appointmentRepository) ListForProfessionalBetween(_ context.Context, professionalID uuid.UUID, from, to time.Time) ([]*model.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []*model.Appointment{}
	for _, a := range r.s.appointments {
		if a.ProfessionalID != professionalID || a.Status == model.AppointmentCancelled {
			continue
		}
		if !a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			result = append(result, copyAppointment(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ScheduledAt.Before(result[j].ScheduledAt) })
	return result, nil
}

func (r *appointmentRepository) CountByStatus(_ context.Context, filter model.AppointmentFilter) (map[model.AppointmentStatus]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	counts := make(map[model.AppointmentStatus]int64)
	for _, a := range r.filtered(filter) {
		counts[a.Status]++
	}
	return counts, nil
}

func (r *appointmentRepository) WorkloadByProfessional(_ context.Context, filter model.AppointmentFilter) ([]model.ProfessionalWorkload, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	totals := make(map[uuid.UUID]int64)
	for _, a := range r.filtered(filter) {
		totals[a.ProfessionalID]++
	}

	workload := []model.ProfessionalWorkload{}
	for id, total := range totals {
		w := model.ProfessionalWorkload{ProfessionalID: id, Total: total}
		if p, ok := r.s.professionals[id]; ok {
			w.Name = p.Name
			w.Specialty = p.Specialty
		}
		workload = append(workload, w)
	}
	sort.Slice(workload, func(i, j int) bool {
		if workload[i].Total != workload[j].Total {
			return workload[i].Total > workload[j].Total
		}
		return workload[i].Name < workload[j].Name
	})
	return workload, nil
}

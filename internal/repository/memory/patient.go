package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
)

type patientRepository struct {
	s *Store
}

func copyPatient(p *model.Patient) *model.Patient {
	cp := *p
	return &cp
}

func (r *patientRepository) CreateWithAccount(_ context.Context, account *model.Account, patient *model.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cpf := digits(patient.CPF)
	for _, p := range r.s.patients {
		if p.AnonymizedAt == nil && digits(p.CPF) == cpf {
			return repository.ErrDuplicate
		}
	}

	now := time.Now().UTC()
	account.CreatedAt, account.UpdatedAt = now, now
	if err := r.s.insertAccountLocked(account); err != nil {
		return err
	}

	patient.ID = uuid.New()
	patient.AccountID = account.ID
	patient.CreatedAt, patient.UpdatedAt = now, now
	r.s.patients[patient.ID] = copyPatient(patient)
	return nil
}

func (r *patientRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.patients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyPatient(p), nil
}

func (r *patientRepository) GetByAccountID(_ context.Context, accountID uuid.UUID) (*model.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.patients {
		if p.AccountID == accountID {
			return copyPatient(p), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *patientRepository) IDByAccount(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error) {
	p, err := r.GetByAccountID(ctx, accountID)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

func (r *patientRepository) List(_ context.Context, filter model.PatientFilter) ([]*model.Patient, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	active := true
	if filter.Active != nil {
		active = *filter.Active
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	searchDigits := digits(search)

	var matched []*model.Patient
	for _, p := range r.s.patients {
		if p.Active != active {
			continue
		}
		if search != "" {
			if len(searchDigits) == 11 {
				if p.AnonymizedAt != nil || digits(p.CPF) != searchDigits {
					continue
				}
			} else if !strings.Contains(strings.ToLower(p.Name), search) {
				continue
			}
		}
		if filter.City != "" && !strings.Contains(strings.ToLower(p.City), strings.ToLower(filter.City)) {
			continue
		}
		if filter.HealthPlan != "" && p.HealthPlan != filter.HealthPlan {
			continue
		}
		matched = append(matched, copyPatient(p))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	return paginate(matched, filter.Pagination), int64(len(matched)), nil
}

func (r *patientRepository) Update(_ context.Context, patient *model.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.patients[patient.ID]
	if !ok || current.AnonymizedAt != nil {
		return repository.ErrNotFound
	}
	updated := copyPatient(patient)
	// identity columns are not updatable
	updated.AccountID = current.AccountID
	updated.CPF = current.CPF
	updated.Active = current.Active
	updated.AnonymizedAt = current.AnonymizedAt
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	r.s.patients[patient.ID] = updated
	patient.UpdatedAt = updated.UpdatedAt
	return nil
}

func (r *patientRepository) Deactivate(_ context.Context, id uuid.UUID, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.patients[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Active = false
	p.UpdatedAt = now
	if a, ok := r.s.accounts[p.AccountID]; ok {
		a.Active = false
		a.UpdatedAt = now
	}
	return nil
}

func (r *patientRepository) Anonymize(_ context.Context, id uuid.UUID, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.patients[id]
	if !ok {
		return repository.ErrNotFound
	}
	anonymized := &model.Patient{
		Base:         model.Base{ID: p.ID, CreatedAt: p.CreatedAt, UpdatedAt: now},
		AccountID:    p.AccountID,
		Name:         model.AnonymizedName,
		CPF:          model.AnonymizedCPF,
		BirthDate:    p.BirthDate,
		City:         p.City,
		State:        p.State,
		ZipCode:      p.ZipCode,
		HealthPlan:   p.HealthPlan,
		MedicalNotes: model.AnonymizedNotes,
		LGPDConsent:  p.LGPDConsent,
		Active:       false,
		AnonymizedAt: &now,
	}
	anonymized.LGPDConsentAt = p.LGPDConsentAt
	r.s.patients[id] = anonymized
	return nil
}

func (r *patientRepository) Statistics(_ context.Context, now time.Time) (*model.PatientStatistics, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var stats model.PatientStatistics
	for _, p := range r.s.patients {
		if p.Active {
			stats.TotalActive++
			if p.LGPDConsent {
				stats.WithConsent++
			}
		}
		if !p.CreatedAt.Before(dayStart) {
			stats.RegisteredToday++
		}
	}
	if stats.TotalActive > 0 {
		stats.ConsentRate = float64(stats.WithConsent) / float64(stats.TotalActive) * 100
	}
	return &stats, nil
}

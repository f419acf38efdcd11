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

type professionalRepository struct {
	s *Store
}

func copyProfessional(p *model.Professional) *model.Professional {
	cp := *p
	return &cp
}

func sameOptional(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func (r *professionalRepository) conflictsLocked(p *model.Professional) bool {
	for _, other := range r.s.professionals {
		if other.ID == p.ID {
			continue
		}
		if digits(other.CPF) == digits(p.CPF) || sameOptional(other.CRM, p.CRM) || sameOptional(other.COREN, p.COREN) {
			return true
		}
	}
	return false
}

func (r *professionalRepository) CreateWithAccount(_ context.Context, account *model.Account, professional *model.Professional) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.conflictsLocked(professional) {
		return repository.ErrDuplicate
	}

	now := time.Now().UTC()
	account.CreatedAt, account.UpdatedAt = now, now
	if err := r.s.insertAccountLocked(account); err != nil {
		return err
	}

	professional.ID = uuid.New()
	professional.AccountID = account.ID
	professional.CreatedAt, professional.UpdatedAt = now, now
	r.s.professionals[professional.ID] = copyProfessional(professional)
	return nil
}

func (r *professionalRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Professional, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.professionals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyProfessional(p), nil
}

func (r *professionalRepository) GetByAccountID(_ context.Context, accountID uuid.UUID) (*model.Professional, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.professionals {
		if p.AccountID == accountID {
			return copyProfessional(p), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *professionalRepository) IDByAccount(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error) {
	p, err := r.GetByAccountID(ctx, accountID)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

func (r *professionalRepository) List(_ context.Context, filter model.ProfessionalFilter) ([]*model.Professional, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	active := true
	if filter.Active != nil {
		active = *filter.Active
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	specialty := strings.ToLower(filter.Specialty)

	var matched []*model.Professional
	for _, p := range r.s.professionals {
		if p.Active != active {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		if specialty != "" && !strings.Contains(strings.ToLower(p.Specialty), specialty) {
			continue
		}
		if filter.Position != "" && p.Position != filter.Position {
			continue
		}
		if filter.Department != "" && p.Department != filter.Department {
			continue
		}
		matched = append(matched, copyProfessional(p))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	return paginate(matched, filter.Pagination), int64(len(matched)), nil
}

func (r *professionalRepository) Update(_ context.Context, professional *model.Professional) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.professionals[professional.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.conflictsLocked(professional) {
		return repository.ErrDuplicate
	}
	updated := copyProfessional(professional)
	updated.AccountID = current.AccountID
	updated.Position = current.Position
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	r.s.professionals[professional.ID] = updated
	professional.UpdatedAt = updated.UpdatedAt
	return nil
}

func (r *professionalRepository) Deactivate(_ context.Context, id uuid.UUID, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.professionals[id]
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

func (r *professionalRepository) Statistics(_ context.Context) (*model.ProfessionalStatistics, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &model.ProfessionalStatistics{
		ByPosition:  make(map[string]int64),
		BySpecialty: make(map[string]int64),
	}
	for _, p := range r.s.professionals {
		if !p.Active {
			continue
		}
		stats.TotalActive++
		stats.ByPosition[string(p.Position)]++
		stats.BySpecialty[p.Specialty]++
		if p.CanPrescribe {
			stats.CanPrescribe++
		}
		if p.CanTelemedicine {
			stats.CanTelemedicine++
		}
	}
	return stats, nil
}

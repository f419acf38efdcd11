// Package memory implements the repository interfaces over in-process maps.
// It mirrors the PostgreSQL semantics that services depend on (unique keys,
// atomic lockout counting, append-only audit) and backs the service and
// router tests.
package memory

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
)

type Store struct {
	mu            sync.RWMutex
	accounts      map[uuid.UUID]*model.Account
	patients      map[uuid.UUID]*model.Patient
	professionals map[uuid.UUID]*model.Professional
	appointments  map[uuid.UUID]*model.Appointment
	audit         []*model.AuditEntry

	// AuditErr, when set, is returned by every audit write.
	AuditErr error
}

func NewStore() *Store {
	return &Store{
		accounts:      make(map[uuid.UUID]*model.Account),
		patients:      make(map[uuid.UUID]*model.Patient),
		professionals: make(map[uuid.UUID]*model.Professional),
		appointments:  make(map[uuid.UUID]*model.Appointment),
	}
}

func (s *Store) Accounts() repository.AccountRepository {
	return &accountRepository{s}
}

func (s *Store) Patients() repository.PatientRepository {
	return &patientRepository{s}
}

func (s *Store) Professionals() repository.ProfessionalRepository {
	return &professionalRepository{s}
}

func (s *Store) Appointments() repository.AppointmentRepository {
	return &appointmentRepository{s}
}

func (s *Store) Audit() repository.AuditRepository {
	return &auditRepository{s}
}

// AuditEntries returns a snapshot of the audit trail in insertion order.
func (s *Store) AuditEntries() []model.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]model.AuditEntry, len(s.audit))
	for i, e := range s.audit {
		entries[i] = *e
	}
	return entries
}

// insertAccountLocked enforces the unique email constraint.
func (s *Store) insertAccountLocked(account *model.Account) error {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	for _, a := range s.accounts {
		if a.Email == account.Email {
			return repository.ErrDuplicate
		}
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}

func digits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func paginate[T any](items []T, p model.Pagination) []T {
	p = p.Normalize(model.DefaultPageSize, model.MaxPageSize)
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
)

type accountRepository struct {
	s *Store
}

func (r *accountRepository) Create(_ context.Context, account *model.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	account.CreatedAt, account.UpdatedAt = now, now
	return r.s.insertAccountLocked(account)
}

func (r *accountRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *accountRepository) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range r.s.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *accountRepository) update(id uuid.UUID, fn func(a *model.Account) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if err := fn(a); err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *accountRepository) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	return r.update(id, func(a *model.Account) error {
		a.PasswordHash = passwordHash
		return nil
	})
}

func (r *accountRepository) UpdateEmail(_ context.Context, id uuid.UUID, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.update(id, func(a *model.Account) error {
		for _, other := range r.s.accounts {
			if other.ID != id && other.Email == email {
				return repository.ErrDuplicate
			}
		}
		a.Email = email
		return nil
	})
}

func (r *accountRepository) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	return r.update(id, func(a *model.Account) error {
		a.Active = active
		return nil
	})
}

// RegisterFailedLogin follows the same rules as the SQL statement: an expired
// lock restarts the count at one.
func (r *accountRepository) RegisterFailedLogin(_ context.Context, id uuid.UUID, now time.Time, threshold int, lockFor time.Duration) (*model.LoginFailure, error) {
	var failure model.LoginFailure
	err := r.update(id, func(a *model.Account) error {
		expired := a.LockedUntil != nil && !a.LockedUntil.After(now)
		if expired {
			a.FailedAttempts = 1
			a.LockedUntil = nil
		} else {
			a.FailedAttempts++
		}
		if a.FailedAttempts >= threshold {
			until := now.Add(lockFor)
			a.LockedUntil = &until
		}
		failure.Attempts = a.FailedAttempts
		if a.LockedUntil != nil {
			until := *a.LockedUntil
			failure.LockedUntil = &until
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &failure, nil
}

func (r *accountRepository) RecordSuccessfulLogin(_ context.Context, id uuid.UUID, now time.Time) error {
	return r.update(id, func(a *model.Account) error {
		a.FailedAttempts = 0
		a.LockedUntil = nil
		a.LastLoginAt = &now
		return nil
	})
}

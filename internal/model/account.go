package model

import (
	"time"

	"github.com/google/uuid"
)

// Account is an authenticatable identity. Accounts are never deleted; they are deactivated.
type Account struct {
	Base
	Email          string     `json:"email" db:"email"`
	PasswordHash   string     `json:"-" db:"password_hash"`
	Role           Role       `json:"role" db:"role"`
	Active         bool       `json:"active" db:"active"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	FailedAttempts int        `json:"-" db:"failed_attempts"`
	LockedUntil    *time.Time `json:"-" db:"locked_until"`
}

// IsLocked reports whether the lockout window is still open at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// LoginFailure is the state of an account after a failed attempt was recorded.
type LoginFailure struct {
	Attempts    int
	LockedUntil *time.Time
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	AccountID uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")
)

// GroupColumn is an audit column that aggregates may group by.
type GroupColumn string

const (
	GroupByAction       GroupColumn = "action"
	GroupByResourceType GroupColumn = "resource_type"
	GroupByActor        GroupColumn = "actor_id"
	GroupByIPAddress    GroupColumn = "ip_address"
)

// All repository interfaces in one file
type (
	// AccountRepository handles credentials and lockout state
	AccountRepository interface {
		Create(ctx context.Context, account *model.Account) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
		GetByEmail(ctx context.Context, email string) (*model.Account, error)
		UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
		UpdateEmail(ctx context.Context, id uuid.UUID, email string) error
		SetActive(ctx context.Context, id uuid.UUID, active bool) error
		// RegisterFailedLogin increments the failure counter in a single statement,
		// restarting it when a previous lockout has expired, and locks the account
		// until now+lockFor once the counter reaches threshold.
		RegisterFailedLogin(ctx context.Context, id uuid.UUID, now time.Time, threshold int, lockFor time.Duration) (*model.LoginFailure, error)
		RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, now time.Time) error
	}

	PatientRepository interface {
		// CreateWithAccount inserts the account and its patient record in one transaction.
		CreateWithAccount(ctx context.Context, account *model.Account, patient *model.Patient) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		GetByAccountID(ctx context.Context, accountID uuid.UUID) (*model.Patient, error)
		IDByAccount(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error)
		List(ctx context.Context, filter model.PatientFilter) ([]*model.Patient, int64, error)
		Update(ctx context.Context, patient *model.Patient) error
		// Deactivate marks the patient and its account inactive.
		Deactivate(ctx context.Context, id uuid.UUID, now time.Time) error
		// Anonymize overwrites every direct identifier in one statement.
		Anonymize(ctx context.Context, id uuid.UUID, now time.Time) error
		Statistics(ctx context.Context, now time.Time) (*model.PatientStatistics, error)
	}

	ProfessionalRepository interface {
		CreateWithAccount(ctx context.Context, account *model.Account, professional *model.Professional) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.Professional, error)
		GetByAccountID(ctx context.Context, accountID uuid.UUID) (*model.Professional, error)
		IDByAccount(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error)
		List(ctx context.Context, filter model.ProfessionalFilter) ([]*model.Professional, int64, error)
		Update(ctx context.Context, professional *model.Professional) error
		Deactivate(ctx context.Context, id uuid.UUID, now time.Time) error
		Statistics(ctx context.Context) (*model.ProfessionalStatistics, error)
	}

	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		List(ctx context.Context, filter model.AppointmentFilter) ([]*model.Appointment, int64, error)
		Update(ctx context.Context, appointment *model.Appointment) error
		// HasConflict reports whether the professional already holds a blocking
		// appointment at exactly the given time.
		HasConflict(ctx context.Context, professionalID uuid.UUID, at time.Time, excludeID *uuid.UUID) (bool, error)
		ListForProfessionalBetween(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]*model.Appointment, error)
		CountByStatus(ctx context.Context, filter model.AppointmentFilter) (map[model.AppointmentStatus]int64, error)
		WorkloadByProfessional(ctx context.Context, filter model.AppointmentFilter) ([]model.ProfessionalWorkload, error)
	}

	// AuditRepository is append-only: there is no update or delete.
	AuditRepository interface {
		Create(ctx context.Context, entry *model.AuditEntry) error
		GetByID(ctx context.Context, id string) (*model.AuditEntry, error)
		List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, int64, error)
		// Export returns every matching entry in ascending time order.
		Export(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
		Count(ctx context.Context, filter model.AuditFilter) (int64, error)
		CountGrouped(ctx context.Context, filter model.AuditFilter, column GroupColumn, limit int) ([]model.CountByKey, error)
	}
)

package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
)

const accountColumns = `id, email, password_hash, role, active, last_login_at,
	failed_attempts, locked_until, created_at, updated_at`

type accountRepository struct {
	BaseRepository
}

func NewAccountRepository(base BaseRepository) repository.AccountRepository {
	return &accountRepository{base}
}

func (r *accountRepository) Create(ctx context.Context, account *model.Account) error {
	start := time.Now()
	err := translate(insertAccount(ctx, r.db, account), "create account")
	r.observe("accounts.create", start, err)
	return err
}

// insertAccount is shared with the repositories that create an account in
// the same transaction as its linked record.
func insertAccount(ctx context.Context, db sqlExecer, account *model.Account) error {
	query := `
		INSERT INTO accounts (
			id, email, password_hash, role, active,
			failed_attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
	`
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now().UTC()
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.Role,
		account.Active,
		account.CreatedAt,
		account.UpdatedAt,
	)
	return err
}

func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	start := time.Now()
	var account model.Account
	err := r.db.GetContext(ctx, &account, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	err = translate(err, "get account")
	r.observe("accounts.get_by_id", start, err)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	start := time.Now()
	var account model.Account
	err := r.db.GetContext(ctx, &account,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	)
	err = translate(err, "get account by email")
	r.observe("accounts.get_by_email", start, err)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return translate(err, "update password")
	}
	return expectOne(res, "update password")
}

func (r *accountRepository) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET email = $1, updated_at = $2 WHERE id = $3`,
		strings.ToLower(strings.TrimSpace(email)), time.Now().UTC(), id,
	)
	if err != nil {
		return translate(err, "update email")
	}
	return expectOne(res, "update email")
}

func (r *accountRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return translate(err, "update account status")
	}
	return expectOne(res, "update account status")
}

// RegisterFailedLogin relies on UPDATE evaluating every expression against the
// pre-update row, so concurrent failures serialize on the row lock and none is lost.
func (r *accountRepository) RegisterFailedLogin(ctx context.Context, id uuid.UUID, now time.Time, threshold int, lockFor time.Duration) (*model.LoginFailure, error) {
	query := `
		UPDATE accounts SET
			failed_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
				ELSE failed_attempts + 1
			END,
			locked_until = CASE
				WHEN (CASE
					WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
					ELSE failed_attempts + 1
				END) >= $3 THEN $4
				WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN NULL
				ELSE locked_until
			END,
			updated_at = $2
		WHERE id = $1
		RETURNING failed_attempts, locked_until
	`
	start := time.Now()
	var failure model.LoginFailure
	err := r.db.QueryRowxContext(ctx, query, id, now, threshold, now.Add(lockFor)).
		Scan(&failure.Attempts, &failure.LockedUntil)
	err = translate(err, "register failed login")
	r.observe("accounts.register_failed_login", start, err)
	if err != nil {
		return nil, err
	}
	return &failure, nil
}

func (r *accountRepository) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE accounts
		SET failed_attempts = 0, locked_until = NULL, last_login_at = $1, updated_at = $1
		WHERE id = $2
	`
	res, err := r.db.ExecContext(ctx, query, now, id)
	if err != nil {
		return translate(err, "record login")
	}
	return expectOne(res, "record login")
}

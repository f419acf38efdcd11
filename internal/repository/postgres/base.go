package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
)

const uniqueViolation = "23505"

// sqlExecer is satisfied by both *sqlx.DB and *sqlx.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db      *sqlx.DB
	metrics *metrics.Metrics
}

// NewBaseRepository creates a new base repository. m may be nil.
func NewBaseRepository(db *sqlx.DB, m *metrics.Metrics) BaseRepository {
	return BaseRepository{db: db, metrics: m}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// observe records latency and outcome for a named operation.
func (r *BaseRepository) observe(op string, start time.Time, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		err = nil
	}
	r.metrics.ObserveDB(op, start, err)
}

// translate maps driver errors onto repository sentinels.
func translate(err error, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", repository.ErrDuplicate, pqErr.Constraint)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// expectOne turns a zero rows-affected result into ErrNotFound.
func expectOne(res sql.Result, action string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// whereBuilder accumulates AND conditions with positional placeholders.
type whereBuilder struct {
	conditions []string
	args       []interface{}
}

func (w *whereBuilder) add(format string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conditions = append(w.conditions, fmt.Sprintf(format, len(w.args)))
}

// raw adds a condition without an argument.
func (w *whereBuilder) raw(condition string) {
	w.conditions = append(w.conditions, condition)
}

func (w *whereBuilder) String() string {
	clause := " WHERE 1=1"
	for _, c := range w.conditions {
		clause += " AND " + c
	}
	return clause
}

// next returns the placeholder index for an argument appended after the filters.
func (w *whereBuilder) next(arg interface{}) int {
	w.args = append(w.args, arg)
	return len(w.args)
}

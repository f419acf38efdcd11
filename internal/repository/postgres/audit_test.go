package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
)

func TestAuditRepository_Create(t *testing.T) {
	base, mock := newMock(t)
	repo := NewAuditRepository(base)
	actor := uuid.New()

	entry := &model.AuditEntry{
		ID:           "01HZX3M6Q4W8Y2K7T5R9N1B3C5",
		ActorID:      &actor,
		Action:       model.ActionLoginFailed,
		ResourceType: model.ResourceAuth,
		Context:      model.JSONMap{"reason": "invalid-password"},
		IPAddress:    "10.0.0.1",
		Success:      false,
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(
			entry.ID, actor, string(entry.Action), string(entry.ResourceType), nil,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"10.0.0.1", "", false, nil, entry.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_ListFiltersAndOrdersNewestFirst(t *testing.T) {
	base, mock := newMock(t)
	repo := NewAuditRepository(base)
	actor := uuid.New()
	failed := false
	now := time.Now().UTC()

	filter := model.AuditFilter{
		Pagination: model.Pagination{Page: 2, Limit: 20},
		ActorID:    &actor,
		Actions:    []model.AuditAction{model.ActionLoginFailed, model.ActionAccountLocked},
		Success:    &failed,
	}
	actions := pq.Array([]string{"LOGIN_FAILED", "ACCOUNT_LOCKED"})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_entries WHERE 1=1 AND actor_id = $1 AND action = ANY($2) AND success = $3")).
		WithArgs(actor, actions, false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5")).
		WithArgs(actor, actions, false, 20, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "action", "resource_type", "context", "success", "created_at"}).
			AddRow("01HZX3M6Q4W8Y2K7T5R9N1B3C5", "LOGIN_FAILED", "AUTH", []byte(`{"attempts":3}`), false, now))

	entries, total, err := repo.List(context.Background(), filter)
	require.NoError(t, err)
	assert.EqualValues(t, 21, total)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionLoginFailed, entries[0].Action)
	assert.EqualValues(t, 3, entries[0].Context["attempts"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_ExportAscending(t *testing.T) {
	base, mock := newMock(t)
	repo := NewAuditRepository(base)
	from := time.Now().Add(-24 * time.Hour)
	to := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND created_at >= $1 AND created_at <= $2 ORDER BY created_at ASC, id ASC")).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	entries, err := repo.Export(context.Background(), model.AuditFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_CountGrouped(t *testing.T) {
	base, mock := newMock(t)
	repo := NewAuditRepository(base)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(ip_address::text, '') AS key")).
		WithArgs("LOGIN_FAILED", 10).
		WillReturnRows(sqlmock.NewRows([]string{"key", "count"}).
			AddRow("10.0.0.9", 7).
			AddRow("10.0.0.3", 2))

	counts, err := repo.CountGrouped(context.Background(),
		model.AuditFilter{Action: model.ActionLoginFailed}, repository.GroupByIPAddress, 10)
	require.NoError(t, err)
	assert.Equal(t, []model.CountByKey{{Key: "10.0.0.9", Count: 7}, {Key: "10.0.0.3", Count: 2}}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_CountGroupedRejectsUnknownColumn(t *testing.T) {
	base, _ := newMock(t)
	repo := NewAuditRepository(base)

	_, err := repo.CountGrouped(context.Background(), model.AuditFilter{}, repository.GroupColumn("user_agent; DROP TABLE x"), 0)
	assert.Error(t, err)
}

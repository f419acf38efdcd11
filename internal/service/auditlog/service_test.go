package auditlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository/memory"
	"github.com/jwalitptl/hospital-api/internal/service/access"
	"github.com/jwalitptl/hospital-api/internal/service/audit"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/httputil"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	recorder *audit.Service
	service  *Service
	admin    *model.Principal
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(), clock: base}
	f.recorder = audit.NewService(f.store.Audit(), audit.WithClock(func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}))
	links := access.NewLinkResolver(f.store.Patients(), f.store.Professionals(), time.Minute)
	evaluator := access.NewEvaluator(f.recorder, links, nil)
	f.service = NewService(f.store.Audit(), f.store.Accounts(), evaluator, f.recorder)

	account := &model.Account{Email: "admin@x.com", Role: model.RoleAdmin, Active: true}
	require.NoError(t, f.store.Accounts().Create(context.Background(), account))
	f.admin = &model.Principal{AccountID: account.ID, Email: account.Email, Role: account.Role}
	return f
}

func (f *fixture) record(ctx context.Context, actor *uuid.UUID, action model.AuditAction, err error) {
	f.recorder.Record(ctx, audit.Entry{ActorID: actor, Action: action, ResourceType: model.ResourceAuth, Err: err})
}

func fromIP(ip string) context.Context {
	return httputil.WithRequestInfo(context.Background(), httputil.RequestInfo{IP: ip})
}

func TestList_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	nurse := &model.Principal{AccountID: uuid.New(), Role: model.RoleNurse}

	_, err := f.service.List(context.Background(), nurse, model.AuditFilter{})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))
	entries := f.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionUnauthorizedAccess, entries[0].Action)
	assert.Equal(t, model.ResourceAudit, entries[0].ResourceType)
}

func TestList_FiltersNewestFirstAndAuditsItself(t *testing.T) {
	f := newFixture(t)
	actor := uuid.New()
	f.record(context.Background(), &actor, model.ActionLoginSuccess, nil)
	f.record(context.Background(), &actor, model.ActionLogout, nil)
	f.record(context.Background(), nil, model.ActionLoginFailed, assert.AnError)

	page, err := f.service.List(context.Background(), f.admin, model.AuditFilter{ActorID: &actor})

	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, model.ActionLogout, page.Items[0].Action)
	assert.Equal(t, model.ActionLoginSuccess, page.Items[1].Action)
	assert.Equal(t, DefaultPageSize, page.Pagination.Limit)
	assert.Equal(t, 1, page.Pagination.Page)

	entries := f.store.AuditEntries()
	last := entries[len(entries)-1]
	assert.Equal(t, model.ActionAuditLogsViewed, last.Action)
	assert.Equal(t, f.admin.AccountID, *last.ActorID)
}

func TestList_ClampsLimit(t *testing.T) {
	f := newFixture(t)

	page, err := f.service.List(context.Background(), f.admin, model.AuditFilter{Pagination: model.Pagination{Page: 1, Limit: 5000}})

	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, page.Pagination.Limit)
}

func TestGet_ReturnsOriginalEntry(t *testing.T) {
	f := newFixture(t)
	actor := uuid.New()
	f.record(context.Background(), &actor, model.ActionLoginSuccess, nil)
	original := f.store.AuditEntries()[0]

	got, err := f.service.Get(context.Background(), f.admin, original.ID)

	require.NoError(t, err)
	assert.Equal(t, original, *got)

	_, err = f.service.Get(context.Background(), f.admin, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestUserActivity(t *testing.T) {
	f := newFixture(t)
	account := &model.Account{Email: "doc@x.com", Role: model.RolePhysician, Active: true}
	require.NoError(t, f.store.Accounts().Create(context.Background(), account))
	f.record(context.Background(), &account.ID, model.ActionLoginSuccess, nil)
	f.record(context.Background(), &account.ID, model.ActionLoginSuccess, nil)
	f.record(context.Background(), &account.ID, model.ActionLogout, nil)

	report, err := f.service.UserActivity(context.Background(), f.admin, account.ID, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, account.Email, report.Account.Email)
	assert.EqualValues(t, 3, report.Total)
	require.NotEmpty(t, report.ByAction)
	assert.Equal(t, model.CountByKey{Key: "LOGIN_SUCCESS", Count: 2}, report.ByAction[0])
	assert.Len(t, report.RecentEvents, 3)

	_, err = f.service.UserActivity(context.Background(), f.admin, uuid.New(), nil, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestSecurityReport(t *testing.T) {
	f := newFixture(t)
	victim := uuid.New()
	for i := 0; i < 3; i++ {
		f.record(fromIP("203.0.113.9"), nil, model.ActionLoginFailed, assert.AnError)
	}
	f.record(fromIP("198.51.100.2"), nil, model.ActionLoginFailed, assert.AnError)
	f.record(fromIP("203.0.113.9"), &victim, model.ActionAccountLocked, nil)
	f.record(context.Background(), &victim, model.ActionProfileViewed, nil)

	report, err := f.service.SecurityReport(context.Background(), f.admin, nil, nil, "")

	require.NoError(t, err)
	assert.Equal(t, []model.CountByKey{
		{Key: "LOGIN_FAILED", Count: 4},
		{Key: "ACCOUNT_LOCKED", Count: 1},
	}, report.Counts)
	assert.Equal(t, []model.CountByKey{
		{Key: "203.0.113.9", Count: 3},
		{Key: "198.51.100.2", Count: 1},
	}, report.TopFailedLoginIPs)
	require.Len(t, report.RecentLockouts, 1)
	assert.Equal(t, victim, *report.RecentLockouts[0].ActorID)
}

func TestStatistics_DropsAnonymousActors(t *testing.T) {
	f := newFixture(t)
	actor := uuid.New()
	f.record(context.Background(), &actor, model.ActionLoginSuccess, nil)
	f.record(context.Background(), nil, model.ActionLoginFailed, assert.AnError)
	f.record(context.Background(), nil, model.ActionLoginFailed, assert.AnError)

	stats, err := f.service.Statistics(context.Background(), f.admin, nil, nil)

	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 2, stats.Failures)
	assert.Equal(t, []model.CountByKey{{Key: actor.String(), Count: 1}}, stats.TopActors)
}

func TestExport_RequiresDateRange(t *testing.T) {
	f := newFixture(t)
	from := base

	_, err := f.service.Export(context.Background(), f.admin, &from, nil, FormatJSON)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrBadRequest))

	_, err = f.service.Export(context.Background(), f.admin, nil, &from, FormatJSON)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrBadRequest))

	to := base.Add(time.Hour)
	_, err = f.service.Export(context.Background(), f.admin, &from, &to, "xml")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrBadRequest))
}

func TestExport_AscendingWithinRange(t *testing.T) {
	f := newFixture(t)
	actor := uuid.New()
	f.record(context.Background(), &actor, model.ActionLoginSuccess, nil)
	f.record(context.Background(), &actor, model.ActionProfileViewed, nil)
	f.record(context.Background(), &actor, model.ActionLogout, nil)

	from, to := base, base.Add(time.Hour)
	entries, err := f.service.Export(context.Background(), f.admin, &from, &to, FormatCSV)

	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, model.ActionLoginSuccess, entries[0].Action)
	assert.Equal(t, model.ActionLogout, entries[2].Action)

	all := f.store.AuditEntries()
	exported := all[len(all)-1]
	assert.Equal(t, model.ActionAuditLogsExported, exported.Action)
	assert.Equal(t, 3, exported.Context["count"])
	assert.Equal(t, FormatCSV, exported.Context["format"])

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, entries))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, actor.String(), rows[1][2])
	assert.Equal(t, "LOGIN_SUCCESS", rows[1][3])
	assert.Equal(t, "true", rows[1][8])
	assert.Equal(t, "{}", rows[1][10])
}

func TestWriteCSV_NeutralizesFormulas(t *testing.T) {
	msg := "-2+3"
	entries := []*model.AuditEntry{{
		ID:           "01HZX3M6Q4W8Y2K7T5R9N1B3C5",
		Action:       model.ActionLoginFailed,
		ResourceType: model.ResourceAuth,
		IPAddress:    "10.0.0.1",
		UserAgent:    `=HYPERLINK("http://evil.example","x")`,
		ErrorMessage: &msg,
		Context:      model.JSONMap{"email": "@SUM(A1)"},
		CreatedAt:    base,
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, entries))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "10.0.0.1", rows[1][6])
	assert.Equal(t, `'=HYPERLINK("http://evil.example","x")`, rows[1][7])
	assert.Equal(t, "'-2+3", rows[1][9])
	assert.Equal(t, `{"email":"@SUM(A1)"}`, rows[1][10])
}

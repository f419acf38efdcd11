package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository/memory"
	"github.com/jwalitptl/hospital-api/internal/service/audit"
	"github.com/jwalitptl/hospital-api/pkg/auth"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/security"
)

const password = "correct-horse-battery"

type fixture struct {
	store   *memory.Store
	service *Service
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(), now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	tokens, err := auth.NewTokenManager(auth.Config{
		Secret:   "test-secret-that-is-long-enough-for-hs256",
		Issuer:   "hospital-api",
		Audience: "hospital-api",
		Expiry:   time.Hour,
	})
	require.NoError(t, err)

	f.service = NewService(
		f.store.Accounts(),
		f.store.Patients(),
		f.store.Professionals(),
		security.NewBcryptHasher(bcrypt.MinCost),
		tokens,
		audit.NewService(f.store.Audit()),
		Config{MaxLoginAttempts: 5, LockoutDuration: 15 * time.Minute},
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) register(t *testing.T, email, cpf string) *model.Profile {
	t.Helper()
	profile, err := f.service.Register(context.Background(), &model.RegisterRequest{
		Email:       email,
		Password:    password,
		Name:        "Maria Souza",
		CPF:         cpf,
		LGPDConsent: true,
	})
	require.NoError(t, err)
	return profile
}

func (f *fixture) actions() []model.AuditAction {
	var actions []model.AuditAction
	for _, e := range f.store.AuditEntries() {
		actions = append(actions, e.Action)
	}
	return actions
}

func errorCode(t *testing.T, err error) apperrors.ErrorCode {
	t.Helper()
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected *AppError, got %v", err)
	return appErr.Code
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	registered := f.register(t, "a@x.com", "52998224725")

	resp, err := f.service.Login(context.Background(), "A@x.com ", password)

	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, registered.ID, resp.Profile.ID)
	assert.Equal(t, model.RolePatient, resp.Profile.Role)
	require.NotNil(t, resp.Profile.Patient)
	assert.Equal(t, "Maria Souza", resp.Profile.Patient.Name)
	require.NotNil(t, resp.Profile.LastLoginAt)
	assert.Equal(t, f.now, *resp.Profile.LastLoginAt)
	assert.Equal(t, []model.AuditAction{model.ActionRegisterSuccess, model.ActionLoginSuccess}, f.actions())

	principal, err := f.service.Authenticate(context.Background(), resp.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, principal.AccountID)
}

func TestLogin_UnknownEmailIsVague(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Login(context.Background(), "ghost@x.com", password)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrUnauthorized, appErr.Code)
	assert.Equal(t, "invalid credentials", appErr.Message)

	entries := f.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionLoginFailed, entries[0].Action)
	assert.Nil(t, entries[0].ActorID)
	assert.Equal(t, "not-found", entries[0].Context["reason"])
	assert.NotEqual(t, "ghost@x.com", entries[0].Context["email"])
}

func TestLogin_InactiveAccount(t *testing.T) {
	f := newFixture(t)
	profile := f.register(t, "a@x.com", "52998224725")
	require.NoError(t, f.store.Accounts().SetActive(context.Background(), profile.ID, false))

	_, err := f.service.Login(context.Background(), "a@x.com", password)

	assert.Equal(t, apperrors.ErrAccountInactive, errorCode(t, err))
	entries := f.store.AuditEntries()
	assert.Equal(t, "inactive", entries[len(entries)-1].Context["reason"])
}

// Five failures lock the account; the right password is refused until the
// window passes, after which the counter is back at zero.
func TestLogin_LockoutLifecycle(t *testing.T) {
	f := newFixture(t)
	profile := f.register(t, "b@x.com", "52998224725")
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := f.service.Login(ctx, "b@x.com", "wrong-password")
		assert.Equal(t, apperrors.ErrUnauthorized, errorCode(t, err), "attempt %d", i)
	}

	account, err := f.store.Accounts().GetByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, account.FailedAttempts)
	require.NotNil(t, account.LockedUntil)
	assert.Equal(t, f.now.Add(15*time.Minute), *account.LockedUntil)

	_, err = f.service.Login(ctx, "b@x.com", password)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrAccountLocked, appErr.Code)
	assert.Equal(t, 423, appErr.HTTPStatus())

	f.now = f.now.Add(15 * time.Minute)
	resp, err := f.service.Login(ctx, "b@x.com", password)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	account, err = f.store.Accounts().GetByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, account.FailedAttempts)
	assert.Nil(t, account.LockedUntil)

	var failed, locked int
	for _, e := range f.store.AuditEntries() {
		switch e.Action {
		case model.ActionLoginFailed:
			failed++
		case model.ActionAccountLocked:
			locked++
			assert.Equal(t, 5, e.Context["attempts"])
		}
	}
	assert.Equal(t, 6, failed)
	assert.Equal(t, 1, locked)
}

func TestLogin_ExpiredLockRestartsCount(t *testing.T) {
	f := newFixture(t)
	profile := f.register(t, "b@x.com", "52998224725")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = f.service.Login(ctx, "b@x.com", "wrong-password")
	}
	f.now = f.now.Add(16 * time.Minute)

	_, err := f.service.Login(ctx, "b@x.com", "wrong-password")
	assert.Equal(t, apperrors.ErrUnauthorized, errorCode(t, err))

	account, err := f.store.Accounts().GetByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, account.FailedAttempts)
	assert.Nil(t, account.LockedUntil)
}

func TestLogin_BelowThresholdDoesNotLock(t *testing.T) {
	f := newFixture(t)
	f.register(t, "b@x.com", "52998224725")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = f.service.Login(ctx, "b@x.com", "wrong-password")
	}
	_, err := f.service.Login(ctx, "b@x.com", password)

	require.NoError(t, err)
	assert.NotContains(t, f.actions(), model.ActionAccountLocked)
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "52998224725")

	_, err := f.service.Register(context.Background(), &model.RegisterRequest{
		Email:    "a@x.com",
		Password: password,
		Name:     "Outra Pessoa",
		CPF:      "11144477735",
	})
	assert.Equal(t, apperrors.ErrConflict, errorCode(t, err))

	_, err = f.service.Register(context.Background(), &model.RegisterRequest{
		Email:    "other@x.com",
		Password: password,
		Name:     "Outra Pessoa",
		CPF:      "529.982.247-25",
	})
	assert.Equal(t, apperrors.ErrConflict, errorCode(t, err))

	actions := f.actions()
	assert.Equal(t, model.ActionRegisterFailed, actions[len(actions)-1])
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	profile := f.register(t, "a@x.com", "52998224725")
	principal := &model.Principal{AccountID: profile.ID, Email: profile.Email, Role: profile.Role}
	ctx := context.Background()

	err := f.service.ChangePassword(ctx, principal, "not-my-password", "new-password-123")
	assert.Equal(t, apperrors.ErrUnauthorized, errorCode(t, err))

	require.NoError(t, f.service.ChangePassword(ctx, principal, password, "new-password-123"))

	_, err = f.service.Login(ctx, "a@x.com", password)
	assert.Error(t, err)
	_, err = f.service.Login(ctx, "a@x.com", "new-password-123")
	assert.NoError(t, err)

	assert.Contains(t, f.actions(), model.ActionPasswordChangeFailed)
	assert.Contains(t, f.actions(), model.ActionPasswordChangeSuccess)
}

func TestRefresh_RequiresActiveAccount(t *testing.T) {
	f := newFixture(t)
	profile := f.register(t, "a@x.com", "52998224725")
	principal := &model.Principal{AccountID: profile.ID, Email: profile.Email, Role: profile.Role}
	ctx := context.Background()

	token, err := f.service.Refresh(ctx, principal)
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)

	require.NoError(t, f.store.Accounts().SetActive(ctx, profile.ID, false))
	_, err = f.service.Refresh(ctx, principal)
	assert.Equal(t, apperrors.ErrAccountInactive, errorCode(t, err))

	_, err = f.service.Authenticate(ctx, token.Token)
	assert.Equal(t, apperrors.ErrAccountInactive, errorCode(t, err))
	assert.Contains(t, f.actions(), model.ActionTokenRefreshed)
}

func TestAuthenticate_RejectsGarbage(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Authenticate(context.Background(), "not-a-token")

	assert.Equal(t, apperrors.ErrUnauthorized, errorCode(t, err))
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	profile := f.register(t, "a@x.com", "52998224725")
	f.register(t, "taken@x.com", "11144477735")
	principal := &model.Principal{AccountID: profile.ID, Email: profile.Email, Role: profile.Role}
	ctx := context.Background()

	_, err := f.service.UpdateProfile(ctx, principal, &model.UpdateProfileRequest{Email: "taken@x.com"})
	assert.Equal(t, apperrors.ErrConflict, errorCode(t, err))

	updated, err := f.service.UpdateProfile(ctx, principal, &model.UpdateProfileRequest{Email: "New@X.com"})
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", updated.Email)

	entries := f.store.AuditEntries()
	last := entries[len(entries)-1]
	assert.Equal(t, model.ActionProfileUpdated, last.Action)
	assert.Equal(t, "a@x.com", last.PreviousData["email"])
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	profile := f.register(t, "a@x.com", "52998224725")

	f.service.Logout(context.Background(), &model.Principal{AccountID: profile.ID, Role: model.RolePatient})

	assert.Equal(t, model.ActionLogout, f.actions()[len(f.actions())-1])
}

func TestLogin_UpgradesOutdatedHash(t *testing.T) {
	f := newFixture(t)
	old, err := security.NewBcryptHasher(bcrypt.MinCost + 1).Hash(password)
	require.NoError(t, err)
	require.NoError(t, f.store.Accounts().Create(context.Background(), &model.Account{
		Email:        "staff@x.com",
		PasswordHash: old,
		Role:         model.RoleReceptionist,
		Active:       true,
	}))

	_, err = f.service.Login(context.Background(), "staff@x.com", password)
	require.NoError(t, err)

	account, err := f.store.Accounts().GetByEmail(context.Background(), "staff@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, old, account.PasswordHash)
	cost, err := bcrypt.Cost([]byte(account.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	_, err = f.service.Login(context.Background(), "staff@x.com", password)
	assert.NoError(t, err)
}

type countingHasher struct {
	security.PasswordHasher
	compares int
}

func (h *countingHasher) Compare(hashedPassword, password string) error {
	h.compares++
	return h.PasswordHasher.Compare(hashedPassword, password)
}

func TestLogin_UnknownEmailPaysHashCost(t *testing.T) {
	f := newFixture(t)
	hasher := &countingHasher{PasswordHasher: security.NewBcryptHasher(bcrypt.MinCost)}
	f.service.hasher = hasher

	_, err := f.service.Login(context.Background(), "ghost@x.com", password)
	assert.Equal(t, apperrors.ErrUnauthorized, errorCode(t, err))
	_, err = f.service.Login(context.Background(), "ghost@x.com", "another-password")
	assert.Equal(t, apperrors.ErrUnauthorized, errorCode(t, err))

	assert.Equal(t, 2, hasher.compares)
	require.NotEmpty(t, f.service.decoyHash)
	cost, err := bcrypt.Cost([]byte(f.service.decoyHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hospital-api/internal/model"
)

const testSecret = "a-very-long-test-secret-with-32-chars!"

func newManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(Config{
		Secret:   testSecret,
		Issuer:   "hospital-api",
		Audience: "hospital-clients",
		Expiry:   time.Hour,
	})
	require.NoError(t, err)
	return m
}

func TestIssueAndParse(t *testing.T) {
	m := newManager(t)
	principal := model.Principal{AccountID: uuid.New(), Email: "ana@hospital.com", Role: model.RolePhysician}

	token, expiresAt, err := m.Issue(principal)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	parsed, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, principal, *parsed)
}

func TestParseExpired(t *testing.T) {
	m := newManager(t)
	past := time.Now().Add(-2 * time.Hour)
	m.WithClock(func() time.Time { return past })

	token, _, err := m.Issue(model.Principal{AccountID: uuid.New(), Role: model.RoleNurse})
	require.NoError(t, err)

	m.WithClock(time.Now)
	_, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseRejectsWrongAudience(t *testing.T) {
	m := newManager(t)
	other, err := NewTokenManager(Config{Secret: testSecret, Issuer: "hospital-api", Audience: "someone-else", Expiry: time.Hour})
	require.NoError(t, err)

	token, _, err := other.Issue(model.Principal{AccountID: uuid.New(), Role: model.RoleAdmin})
	require.NoError(t, err)

	_, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsForeignSignature(t *testing.T) {
	m := newManager(t)
	other, err := NewTokenManager(Config{Secret: testSecret + "x", Issuer: "hospital-api", Audience: "hospital-clients", Expiry: time.Hour})
	require.NoError(t, err)

	token, _, err := other.Issue(model.Principal{AccountID: uuid.New(), Role: model.RoleAdmin})
	require.NoError(t, err)

	_, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsNoneAlgorithm(t *testing.T) {
	m := newManager(t)
	claims := Claims{
		Role: model.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    "hospital-api",
			Audience:  jwt.ClaimStrings{"hospital-clients"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenManagerRejectsShortSecret(t *testing.T) {
	_, err := NewTokenManager(Config{Secret: "short", Expiry: time.Hour})
	assert.Error(t, err)
}

package postgres

import (
	"database/sql/driver"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hospital-api/pkg/security"
)

func newMock(t *testing.T) (BaseRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewBaseRepository(sqlx.NewDb(db, "postgres"), nil), mock
}

func newCrypto(t *testing.T) (*security.Envelope, *security.BlindIndex) {
	t.Helper()
	enc, err := security.NewAESEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	index, err := security.NewBlindIndex([]byte("index-key-for-tests"))
	require.NoError(t, err)
	return security.NewEnvelope(enc), index
}

// withoutPlaintext matches any argument that does not carry one of the values.
type withoutPlaintext []string

func (w withoutPlaintext) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return true
	}
	for _, plain := range w {
		if strings.Contains(s, plain) {
			return false
		}
	}
	return true
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func matchAll(m sqlmock.Argument, n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = m
	}
	return args
}

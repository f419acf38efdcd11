package security

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func newTestEnvelope(t *testing.T) *Envelope {
	t.Helper()
	enc, err := NewAESEncryptor(testKey())
	require.NoError(t, err)
	return NewEnvelope(enc)
}

func ptr(s string) *string { return &s }

func TestEnvelopeRoundTrip(t *testing.T) {
	env := newTestEnvelope(t)

	for _, v := range []string{"", "123.456.789-09", "Rua das Flores, 42 - São Paulo", strings.Repeat("x", 4096)} {
		sealed, err := env.Seal(ptr(v))
		require.NoError(t, err)
		require.NotNil(t, sealed)
		assert.True(t, strings.HasPrefix(*sealed, "v1:"))
		if v != "" {
			assert.NotContains(t, *sealed, v)
		}

		opened, err := env.Open(sealed)
		require.NoError(t, err)
		require.NotNil(t, opened)
		assert.Equal(t, v, *opened)
	}
}

func TestEnvelopeNil(t *testing.T) {
	env := newTestEnvelope(t)

	sealed, err := env.Seal(nil)
	assert.NoError(t, err)
	assert.Nil(t, sealed)

	opened, err := env.Open(nil)
	assert.NoError(t, err)
	assert.Nil(t, opened)
}

func TestEnvelopeSurvivesNewEncryptorWithSameKey(t *testing.T) {
	sealed, err := newTestEnvelope(t).SealString("11987654321")
	require.NoError(t, err)

	opened, err := newTestEnvelope(t).OpenString(sealed)
	require.NoError(t, err)
	assert.Equal(t, "11987654321", opened)
}

func TestEnvelopeRejectsTampering(t *testing.T) {
	env := newTestEnvelope(t)
	sealed, err := env.SealString("12345678909")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, "v1:"))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := "v1:" + base64.StdEncoding.EncodeToString(raw)

	_, err = env.OpenString(tampered)
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = env.OpenString("MTIzNDU2Nzg5MDk=")
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestAESEncryptorKeySize(t *testing.T) {
	_, err := NewAESEncryptor([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	key, err := DecodeKey(base64.StdEncoding.EncodeToString(testKey()))
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	_, err = DecodeKey("not base64!")
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestBlindIndex(t *testing.T) {
	idx, err := NewBlindIndex([]byte("index-key-for-tests"))
	require.NoError(t, err)

	assert.Equal(t, idx.Compute("123.456.789-09"), idx.Compute("12345678909"))
	assert.NotEqual(t, idx.Compute("12345678909"), idx.Compute("12345678900"))
	assert.Len(t, idx.Compute("12345678909"), 64)

	other, err := NewBlindIndex([]byte("another-index-key-123"))
	require.NoError(t, err)
	assert.NotEqual(t, idx.Compute("12345678909"), other.Compute("12345678909"))

	_, err = NewBlindIndex([]byte("short"))
	assert.Error(t, err)
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(4)

	first, err := h.Hash("Secret123!")
	require.NoError(t, err)
	second, err := h.Hash("Secret123!")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotContains(t, first, "Secret123!")
	assert.NoError(t, h.Compare(first, "Secret123!"))
	assert.NoError(t, h.Compare(second, "Secret123!"))
	assert.Error(t, h.Compare(first, "Secret124!"))

	_, err = h.Hash("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
	_, err = h.Hash(strings.Repeat("a", MaxPasswordLen+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestBcryptHasher_NeedsRehash(t *testing.T) {
	weak := NewBcryptHasher(4)
	strong := NewBcryptHasher(5)

	hashed, err := weak.Hash("Secret123!")
	require.NoError(t, err)

	assert.False(t, weak.NeedsRehash(hashed))
	assert.True(t, strong.NeedsRehash(hashed))
	assert.True(t, weak.NeedsRehash("not-a-bcrypt-hash"))
}

func TestAnonymize(t *testing.T) {
	tests := []struct {
		name  string
		value string
		kind  Kind
		want  string
	}{
		{"cpf digits", "12345678909", KindCPF, "123.***.**-09"},
		{"cpf formatted", "123.456.789-09", KindCPF, "123.***.**-09"},
		{"cpf malformed", "1234", KindCPF, "****"},
		{"mobile", "11987654321", KindPhone, "(11) 9****-4321"},
		{"mobile formatted", "(11) 98765-4321", KindPhone, "(11) 9****-4321"},
		{"landline", "1133334444", KindPhone, "(11) ****-4444"},
		{"email", "maria.silva@hospital.com", KindEmail, "m*********a@hospital.com"},
		{"short email", "ab@x.com", KindEmail, "a*@x.com"},
		{"email without at", "nodomain", KindEmail, "********"},
		{"name", "Maria da Silva", KindName, "Maria d* S****"},
		{"name accents", "João Árvore", KindName, "João Á*****"},
		{"generic", "abc", KindGeneric, "***"},
		{"unknown kind", "ção", Kind("other"), "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Anonymize(ptr(tt.value), tt.kind)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestAnonymizeEmptyAndNil(t *testing.T) {
	for _, kind := range []Kind{KindCPF, KindPhone, KindEmail, KindName, KindGeneric} {
		assert.Nil(t, Anonymize(nil, kind))
		assert.Nil(t, Anonymize(ptr(""), kind))
	}
	assert.Equal(t, "", AnonymizeString("", KindCPF))
}

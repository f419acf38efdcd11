package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfigDefaultsAndFile(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 8080
jwt:
  secret: "a-very-long-secret-used-only-in-tests"
crypto:
  encryption_key: "`+testKey+`"
  index_key: "index-key-for-tests"
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Security.MaxLoginAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Security.LockoutDuration)
	assert.Equal(t, 3, cfg.RateLimit.Register.Limit)
	assert.Equal(t, time.Hour, cfg.RateLimit.Register.Block)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 12, cfg.Crypto.BcryptCost)
	assert.False(t, cfg.IsProduction())
}

func TestSecretsOverrideFile(t *testing.T) {
	dir := writeConfig(t, `
jwt:
  secret: "a-very-long-secret-used-only-in-tests"
crypto:
  encryption_key: "`+testKey+`"
  index_key: "index-key-for-tests"
database:
  password: "from-file"
`)
	t.Setenv("HOSPITAL_DB_PASSWORD", "from-env")
	t.Setenv("HOSPITAL_JWT_SECRET", "another-very-long-secret-from-the-env")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "another-very-long-secret-from-the-env", cfg.JWT.Secret)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			JWT:       JWTConfig{Secret: "a-very-long-secret-used-only-in-tests"},
			Crypto:    CryptoConfig{EncryptionKey: testKey, IndexKey: "index-key-for-tests"},
			Security:  SecurityConfig{MaxLoginAttempts: 5},
			RateLimit: RateLimitConfig{Backend: "memory"},
		}
	}

	assert.NoError(t, valid().Validate())

	cfg := valid()
	cfg.JWT.Secret = "short"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Crypto.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("too-short"))
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.RateLimit.Backend = "redis"
	assert.Error(t, cfg.Validate())
	cfg.Redis.Enabled = true
	assert.NoError(t, cfg.Validate())
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/hospital-api/pkg/security"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HOSPITAL"

type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	JWT         JWTConfig       `mapstructure:"jwt"`
	Crypto      CryptoConfig    `mapstructure:"crypto"`
	Security    SecurityConfig  `mapstructure:"security"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Redis       RedisConfig     `mapstructure:"redis"`
	SMTP        SMTPConfig      `mapstructure:"smtp"`
	Alerts      AlertsConfig    `mapstructure:"alerts"`
	Log         LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type JWTConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	Expiry   time.Duration `mapstructure:"expiry"`
}

type CryptoConfig struct {
	// EncryptionKey is a base64 encoded 32 byte AES key.
	EncryptionKey string `mapstructure:"encryption_key"`
	// IndexKey keys the blind index used for CPF lookups.
	IndexKey   string `mapstructure:"index_key"`
	BcryptCost int    `mapstructure:"bcrypt_cost"`
}

type SecurityConfig struct {
	MaxLoginAttempts int           `mapstructure:"max_login_attempts"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration"`
}

type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend   string       `mapstructure:"backend"`
	General   PolicyConfig `mapstructure:"general"`
	Login     PolicyConfig `mapstructure:"login"`
	Register  PolicyConfig `mapstructure:"register"`
	Sensitive PolicyConfig `mapstructure:"sensitive"`
}

type PolicyConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
	Block  time.Duration `mapstructure:"block"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type AlertsConfig struct {
	Channel    string   `mapstructure:"channel"`
	Recipients []string `mapstructure:"recipients"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Secrets are read from the environment only and override the file values.
type Secrets struct {
	JWTSecret     string `envconfig:"JWT_SECRET"`
	EncryptionKey string `envconfig:"ENCRYPTION_KEY"`
	IndexKey      string `envconfig:"INDEX_KEY"`
	DBPassword    string `envconfig:"DB_PASSWORD"`
	SMTPPassword  string `envconfig:"SMTP_PASSWORD"`
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "hospital")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("jwt.issuer", "hospital-api")
	v.SetDefault("jwt.audience", "hospital-clients")
	v.SetDefault("jwt.expiry", 24*time.Hour)

	v.SetDefault("crypto.bcrypt_cost", security.DefaultBcryptCost)

	v.SetDefault("security.max_login_attempts", 5)
	v.SetDefault("security.lockout_duration", 15*time.Minute)

	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.general.limit", 100)
	v.SetDefault("rate_limit.general.window", 15*time.Minute)
	v.SetDefault("rate_limit.login.limit", 5)
	v.SetDefault("rate_limit.login.window", 15*time.Minute)
	v.SetDefault("rate_limit.login.block", 15*time.Minute)
	v.SetDefault("rate_limit.register.limit", 3)
	v.SetDefault("rate_limit.register.window", time.Hour)
	v.SetDefault("rate_limit.register.block", time.Hour)
	v.SetDefault("rate_limit.sensitive.limit", 10)
	v.SetDefault("rate_limit.sensitive.window", time.Minute)
	v.SetDefault("rate_limit.sensitive.block", 5*time.Minute)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("smtp.port", 587)
	v.SetDefault("alerts.channel", "security.alerts")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads .env, config.yaml and HOSPITAL_* environment variables, in
// increasing order of precedence.
func LoadConfig(paths ...string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var secrets Secrets
	if err := envconfig.Process(EnvPrefix, &secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	config.applySecrets(secrets)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applySecrets(s Secrets) {
	if s.JWTSecret != "" {
		c.JWT.Secret = s.JWTSecret
	}
	if s.EncryptionKey != "" {
		c.Crypto.EncryptionKey = s.EncryptionKey
	}
	if s.IndexKey != "" {
		c.Crypto.IndexKey = s.IndexKey
	}
	if s.DBPassword != "" {
		c.Database.Password = s.DBPassword
	}
	if s.SMTPPassword != "" {
		c.SMTP.Password = s.SMTPPassword
	}
}

// Validate rejects configurations the server cannot safely start with.
func (c *Config) Validate() error {
	if len(c.JWT.Secret) < 32 {
		return errors.New("jwt secret must be at least 32 characters")
	}
	if _, err := security.DecodeKey(c.Crypto.EncryptionKey); err != nil {
		return fmt.Errorf("crypto.encryption_key: %w", err)
	}
	if len(c.Crypto.IndexKey) < 16 {
		return errors.New("crypto.index_key must be at least 16 characters")
	}
	if c.Security.MaxLoginAttempts < 1 {
		return errors.New("security.max_login_attempts must be positive")
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("rate_limit.backend is redis but redis is disabled")
		}
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", c.RateLimit.Backend)
	}
	return nil
}

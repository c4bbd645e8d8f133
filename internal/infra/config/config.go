package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported credential store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverRedis    = "redis"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Store     StoreSettings     `mapstructure:"store"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	SQLite    SQLiteSettings    `mapstructure:"sqlite"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
	Policy    PolicySettings    `mapstructure:"policy"`
}

type AppSettings struct {
	Name       string `mapstructure:"name"`
	Env        string `mapstructure:"env"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	AdminToken string `mapstructure:"admin_token"`
}

// StoreSettings selects the credential store adapter.
type StoreSettings struct {
	Driver string `mapstructure:"driver"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// SQLiteSettings configures the embedded store used for single-node deployments.
type SQLiteSettings struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	MaxRetries int    `mapstructure:"max_tx_retries"`
}

// KafkaSettings configures Kafka producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// PolicySettings holds the static credential policy parameters.
type PolicySettings struct {
	MaxLoginAttempts         int           `mapstructure:"max_login_attempts"`
	LockExpiration           time.Duration `mapstructure:"lock_expiration"`
	PasswordChangeInterval   time.Duration `mapstructure:"password_change_interval"`
	LastPasswordChangesCount int           `mapstructure:"last_password_changes_count"`
	EnforceFirstLoginChange  bool          `mapstructure:"enforce_first_login_change"`
	MinPasswordStrength      int           `mapstructure:"min_password_strength"`
}

// DefaultPolicySettings returns the documented policy defaults.
func DefaultPolicySettings() PolicySettings {
	return PolicySettings{
		MaxLoginAttempts:         5,
		LockExpiration:           3600 * time.Second,
		PasswordChangeInterval:   60 * 60 * 24 * 30 * 2 * time.Second,
		LastPasswordChangesCount: 5,
		EnforceFirstLoginChange:  true,
	}
}

// Validate rejects policy parameters that cannot be evaluated.
func (p PolicySettings) Validate() error {
	var errs []error
	if p.MaxLoginAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max_login_attempts must be positive, got %d", p.MaxLoginAttempts))
	}
	if p.LockExpiration <= 0 {
		errs = append(errs, fmt.Errorf("lock_expiration must be positive, got %s", p.LockExpiration))
	}
	if p.PasswordChangeInterval < 0 {
		errs = append(errs, fmt.Errorf("password_change_interval must not be negative, got %s", p.PasswordChangeInterval))
	}
	if p.LastPasswordChangesCount < 0 {
		errs = append(errs, fmt.Errorf("last_password_changes_count must not be negative, got %d", p.LastPasswordChangesCount))
	}
	if p.MinPasswordStrength < 0 || p.MinPasswordStrength > 4 {
		errs = append(errs, fmt.Errorf("min_password_strength must be within 0..4, got %d", p.MinPasswordStrength))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid policy configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks the whole configuration at startup.
func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverSQLite, StoreDriverRedis:
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	return c.Policy.Validate()
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("CREDPOL")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.admin_token",
		"store.driver",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"sqlite.path",
		"sqlite.busy_timeout",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"redis.max_tx_retries",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"telemetry.tracing_enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"policy.max_login_attempts",
		"policy.lock_expiration",
		"policy.password_change_interval",
		"policy.last_password_changes_count",
		"policy.enforce_first_login_change",
		"policy.min_password_strength",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "credential-policy")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.admin_token", "")

	v.SetDefault("store.driver", StoreDriverPostgres)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "credpol")
	v.SetDefault("postgres.password", "credpol_password")
	v.SetDefault("postgres.database", "credpol")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("sqlite.path", "./credpol.db")
	v.SetDefault("sqlite.busy_timeout", "5s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "credpol")
	v.SetDefault("redis.max_tx_retries", 5)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "credpol")
	v.SetDefault("kafka.async", true)

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "credential-policy")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	policy := DefaultPolicySettings()
	v.SetDefault("policy.max_login_attempts", policy.MaxLoginAttempts)
	v.SetDefault("policy.lock_expiration", policy.LockExpiration.String())
	v.SetDefault("policy.password_change_interval", policy.PasswordChangeInterval.String())
	v.SetDefault("policy.last_password_changes_count", policy.LastPasswordChangesCount)
	v.SetDefault("policy.enforce_first_login_change", policy.EnforceFirstLoginChange)
	v.SetDefault("policy.min_password_strength", policy.MinPasswordStrength)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "CREDPOL_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "AUTH"

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	OTP       OTPSettings       `mapstructure:"otp"`
	PIN       PINSettings       `mapstructure:"pin"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
	Mail      MailSettings      `mapstructure:"mail"`
	Janitor   JanitorSettings   `mapstructure:"janitor"`
}

type AppSettings struct {
	Name           string        `mapstructure:"name"`
	Env            string        `mapstructure:"env"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// DevMode echoes OTP codes in API responses. Never enable outside local development.
	DevMode        bool     `mapstructure:"dev_mode"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	AutoMigrate    bool     `mapstructure:"auto_migrate"`
	MigrationsPath string   `mapstructure:"migrations_path"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	Schema            string        `mapstructure:"schema"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// DSN renders a pgx connection string.
func (p PostgresSettings) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// RedisSettings configures the Redis connection and key namespaces.
type RedisSettings struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	DB                int    `mapstructure:"db"`
	Password          string `mapstructure:"password"`
	TLSEnabled        bool   `mapstructure:"tls_enabled"`
	FlowTokenPrefix   string `mapstructure:"flow_token_prefix"`
	StatusCachePrefix string `mapstructure:"status_cache_prefix"`
	RateLimitPrefix   string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the event producer. An empty broker list disables publishing.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

type JWTSettings struct {
	KeyDirectory    string        `mapstructure:"key_directory"`
	KeyID           string        `mapstructure:"key_id"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	ClockSkew       time.Duration `mapstructure:"clock_skew"`
	StatusCacheTTL  time.Duration `mapstructure:"status_cache_ttl"`
}

type OTPSettings struct {
	TTL                  time.Duration `mapstructure:"ttl"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	ResendInterval       time.Duration `mapstructure:"resend_interval"`
	CodeLength           int           `mapstructure:"code_length"`
	RegistrationTokenTTL time.Duration `mapstructure:"registration_token_ttl"`
}

type PINSettings struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	LockDuration time.Duration `mapstructure:"lock_duration"`
}

// RateLimitSettings configures per-endpoint sliding windows.
type RateLimitSettings struct {
	WindowDuration      time.Duration `mapstructure:"window_duration"`
	OTPMaxAttempts      int           `mapstructure:"otp_max_attempts"`
	VerifyMaxAttempts   int           `mapstructure:"verify_max_attempts"`
	PINMaxAttempts      int           `mapstructure:"pin_max_attempts"`
	RefreshMaxAttempts  int           `mapstructure:"refresh_max_attempts"`
	RegisterMaxAttempts int           `mapstructure:"register_max_attempts"`
}

// Argon2Settings configures Argon2id hashing for PINs and OTP codes.
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// MailSettings configures SMTP delivery. With Enabled false mail is logged instead of sent.
type MailSettings struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	From      string `mapstructure:"from"`
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`
}

type JanitorSettings struct {
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.request_timeout",
		"app.dev_mode",
		"app.cors_origins",
		"app.auto_migrate",
		"app.migrations_path",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.schema",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.flow_token_prefix",
		"redis.status_cache_prefix",
		"redis.rate_limit_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"jwt.key_directory",
		"jwt.key_id",
		"jwt.issuer",
		"jwt.audience",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"jwt.clock_skew",
		"jwt.status_cache_ttl",
		"otp.ttl",
		"otp.max_attempts",
		"otp.resend_interval",
		"otp.code_length",
		"otp.registration_token_ttl",
		"pin.max_attempts",
		"pin.lock_duration",
		"rate_limit.window_duration",
		"rate_limit.otp_max_attempts",
		"rate_limit.verify_max_attempts",
		"rate_limit.pin_max_attempts",
		"rate_limit.refresh_max_attempts",
		"rate_limit.register_max_attempts",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"mail.enabled",
		"mail.host",
		"mail.port",
		"mail.username",
		"mail.password",
		"mail.from",
		"mail.workers",
		"mail.queue_size",
		"janitor.interval",
		"janitor.retention",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AppConfig) validate() error {
	switch {
	case c.JWT.AccessTokenTTL <= 0:
		return fmt.Errorf("jwt.access_token_ttl must be positive")
	case c.JWT.RefreshTokenTTL <= c.JWT.AccessTokenTTL:
		return fmt.Errorf("jwt.refresh_token_ttl must exceed jwt.access_token_ttl")
	case c.JWT.StatusCacheTTL <= 0 || c.JWT.StatusCacheTTL > c.JWT.AccessTokenTTL:
		return fmt.Errorf("jwt.status_cache_ttl must be positive and not exceed jwt.access_token_ttl")
	case c.OTP.TTL <= 0:
		return fmt.Errorf("otp.ttl must be positive")
	case c.OTP.MaxAttempts <= 0:
		return fmt.Errorf("otp.max_attempts must be positive")
	case c.OTP.CodeLength < 4 || c.OTP.CodeLength > 10:
		return fmt.Errorf("otp.code_length must be between 4 and 10")
	case c.PIN.MaxAttempts <= 0:
		return fmt.Errorf("pin.max_attempts must be positive")
	case c.App.DevMode && c.App.Env == "production":
		return fmt.Errorf("app.dev_mode cannot be enabled in production")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "process-manager-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.request_timeout", "10s")
	v.SetDefault("app.dev_mode", false)
	v.SetDefault("app.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("app.auto_migrate", false)
	v.SetDefault("app.migrations_path", "")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "process_manager")
	v.SetDefault("postgres.password", "process_manager")
	v.SetDefault("postgres.database", "process_manager")
	v.SetDefault("postgres.schema", "auth")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.flow_token_prefix", "auth:flow")
	v.SetDefault("redis.status_cache_prefix", "auth:account_state")
	v.SetDefault("redis.rate_limit_prefix", "auth:ratelimit")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "auth")
	v.SetDefault("kafka.async", true)

	v.SetDefault("jwt.key_directory", "./secrets")
	v.SetDefault("jwt.key_id", "")
	v.SetDefault("jwt.issuer", "process-manager")
	v.SetDefault("jwt.audience", "process-manager-api")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")
	v.SetDefault("jwt.clock_skew", "30s")
	v.SetDefault("jwt.status_cache_ttl", "1m")

	v.SetDefault("otp.ttl", "5m")
	v.SetDefault("otp.max_attempts", 5)
	v.SetDefault("otp.resend_interval", "60s")
	v.SetDefault("otp.code_length", 6)
	v.SetDefault("otp.registration_token_ttl", "30m")

	v.SetDefault("pin.max_attempts", 5)
	v.SetDefault("pin.lock_duration", "15m")

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.otp_max_attempts", 5)
	v.SetDefault("rate_limit.verify_max_attempts", 10)
	v.SetDefault("rate_limit.pin_max_attempts", 10)
	v.SetDefault("rate_limit.refresh_max_attempts", 20)
	v.SetDefault("rate_limit.register_max_attempts", 5)

	v.SetDefault("argon2.memory", 65536)
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 2)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.host", "localhost")
	v.SetDefault("mail.port", 1025)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "no-reply@process-manager.local")
	v.SetDefault("mail.workers", 2)
	v.SetDefault("mail.queue_size", 100)

	v.SetDefault("janitor.interval", "10m")
	v.SetDefault("janitor.retention", "24h")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

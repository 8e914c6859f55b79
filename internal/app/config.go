package app

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/horsemanagement/stablegate/internal/platform/cache"
)

// Config holds runtime configuration for the gateway.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	BackendURL         string        `envconfig:"BACKEND_URL" required:"true"`
	BackendTimeout     time.Duration `envconfig:"BACKEND_TIMEOUT" default:"10s"`
	PermissionsTimeout time.Duration `envconfig:"PERMISSIONS_TIMEOUT" default:"5s"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"12h"`

	FeaturesFile string `envconfig:"FEATURES_FILE"`

	AuditPGDSN        string        `envconfig:"AUDIT_PG_DSN"`
	AuditPGMaxConns   int32         `envconfig:"AUDIT_PG_MAX_CONNS" default:"4"`
	AuditAsync        bool          `envconfig:"AUDIT_ASYNC" default:"false"`
	AuditRetention    time.Duration `envconfig:"AUDIT_RETENTION" default:"2160h"`
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerMetricsAddr string        `envconfig:"WORKER_METRICS_ADDR" default:":9091"`

	RateLimitPerMinute int      `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt secret must be provided")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend url %q must be an absolute URL", c.BackendURL)
	}
	if c.PermissionsTimeout <= 0 {
		return errors.New("permissions timeout must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.AuditAsync && c.AuditPGDSN == "" {
		return errors.New("audit async requires AUDIT_PG_DSN for the worker")
	}
	return nil
}

// WorkerConfig holds runtime configuration for the audit worker. It reads
// the same variables as Config but only those the worker uses.
type WorkerConfig struct {
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AuditPGDSN        string        `envconfig:"AUDIT_PG_DSN" required:"true"`
	AuditPGMaxConns   int32         `envconfig:"AUDIT_PG_MAX_CONNS" default:"4"`
	AuditRetention    time.Duration `envconfig:"AUDIT_RETENTION" default:"2160h"`
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerMetricsAddr string        `envconfig:"WORKER_METRICS_ADDR" default:":9091"`
}

// LoadWorkerConfig reads the worker configuration from environment variables.
func LoadWorkerConfig() (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *WorkerConfig) Validate() error {
	if c.AuditPGDSN == "" {
		return errors.New("worker requires AUDIT_PG_DSN")
	}
	if c.AuditRetention <= 0 {
		return errors.New("audit retention must be positive")
	}
	if c.WorkerConcurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}

// Redis returns the connection options for REDIS_*.
func (c *WorkerConfig) Redis() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// Redis returns the connection options for REDIS_*.
func (c *Config) Redis() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

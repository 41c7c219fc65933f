package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BackoffStrategy names a retry delay shape.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "Constant"
	BackoffLinear      BackoffStrategy = "Linear"
	BackoffExponential BackoffStrategy = "Exponential"
)

// StatusStoreDriver selects the JobStatusStore backend.
type StatusStoreDriver string

const (
	StatusStoreMemory   StatusStoreDriver = "memory"
	StatusStorePostgres StatusStoreDriver = "postgres"
	StatusStoreMySQL    StatusStoreDriver = "mysql"
	StatusStoreSQLite   StatusStoreDriver = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	StatusStore StatusStoreConfig `mapstructure:"status_store"`
	AuditLog    AuditLogConfig    `mapstructure:"audit_log"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// JWTConfig holds JWT token settings.
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

// AuthConfig gates mutating HTTP endpoints behind a bearer token.
type AuthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RetryPolicyConfig mirrors jobs.RetryPolicy in mapstructure form.
type RetryPolicyConfig struct {
	Enabled         bool            `mapstructure:"enabled"`
	MaxRetries      int             `mapstructure:"max_retries"`
	BackoffStrategy BackoffStrategy `mapstructure:"backoff_strategy"`
	BaseDelayMs     int64           `mapstructure:"base_delay_ms"`
	MaxDelayMs      int64           `mapstructure:"max_delay_ms"`
	MinJitterFactor float64         `mapstructure:"min_jitter_factor"`
	MaxJitterFactor float64         `mapstructure:"max_jitter_factor"`
}

// JobsConfig holds the background job orchestration core's settings.
type JobsConfig struct {
	MaxConcurrency         int               `mapstructure:"max_concurrency"`
	MaxQueueSize           int               `mapstructure:"max_queue_size"`
	EnablePrioritization   bool              `mapstructure:"enable_prioritization"`
	ShutdownTimeoutSeconds int               `mapstructure:"shutdown_timeout_seconds"`
	RetryPolicy            RetryPolicyConfig `mapstructure:"retry_policy"`
	PlanTimeoutSeconds      int              `mapstructure:"plan_timeout_seconds"`
	ExecutionTimeoutSeconds int              `mapstructure:"execution_timeout_seconds"`
}

// StatusStoreConfig selects and configures the C4 JobStatusStore backend.
type StatusStoreConfig struct {
	Driver          StatusStoreDriver `mapstructure:"driver"`
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	Name            string            `mapstructure:"name"`
	User            string            `mapstructure:"user"`
	Password        string            `mapstructure:"password"`
	SSLMode         string            `mapstructure:"ssl_mode"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration     `mapstructure:"conn_max_lifetime"`
}

// AuditLogConfig controls audit event retention.
type AuditLogConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/jobcore/")

	v.SetEnvPrefix("JOBCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "jobcore")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", true)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("jwt.secret", os.Getenv("JWT_SECRET"))
	v.SetDefault("jwt.issuer", "jobcore")
	v.SetDefault("jwt.token_ttl", time.Hour)

	v.SetDefault("auth.enabled", false)

	v.SetDefault("jobs.max_concurrency", 2)
	v.SetDefault("jobs.max_queue_size", 100)
	v.SetDefault("jobs.enable_prioritization", true)
	v.SetDefault("jobs.shutdown_timeout_seconds", 30)
	v.SetDefault("jobs.retry_policy.enabled", true)
	v.SetDefault("jobs.retry_policy.max_retries", 3)
	v.SetDefault("jobs.retry_policy.backoff_strategy", string(BackoffExponential))
	v.SetDefault("jobs.retry_policy.base_delay_ms", 5000)
	v.SetDefault("jobs.retry_policy.max_delay_ms", 300000)
	v.SetDefault("jobs.retry_policy.min_jitter_factor", 0.0)
	v.SetDefault("jobs.retry_policy.max_jitter_factor", 0.2)
	v.SetDefault("jobs.plan_timeout_seconds", 0)
	v.SetDefault("jobs.execution_timeout_seconds", 0)

	v.SetDefault("status_store.driver", string(StatusStoreMemory))
	v.SetDefault("status_store.max_open_conns", 25)
	v.SetDefault("status_store.max_idle_conns", 10)
	v.SetDefault("status_store.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("audit_log.retention_days", 90)
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required when auth.enabled is true")
	}
	if c.StatusStore.Driver != StatusStoreMemory && c.StatusStore.Name == "" && c.StatusStore.Driver != StatusStoreSQLite {
		return fmt.Errorf("status_store.name is required for driver %q", c.StatusStore.Driver)
	}
	if c.Jobs.MaxConcurrency <= 0 {
		return fmt.Errorf("jobs.max_concurrency must be positive")
	}
	return nil
}

// DSN returns the database connection string for SQL-backed status stores.
func (c *StatusStoreConfig) DSN() string {
	switch c.Driver {
	case StatusStoreMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.Name)
	case StatusStorePostgres:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	case StatusStoreSQLite:
		if c.Name == "" {
			return "file::memory:?cache=shared"
		}
		return c.Name
	default:
		return ""
	}
}

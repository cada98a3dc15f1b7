package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/counter"
	"github.com/labcontrol/labcontrol/pkg/observability"
	"github.com/labcontrol/labcontrol/pkg/ratelimit"
	"github.com/labcontrol/labcontrol/pkg/storage"
	"github.com/labcontrol/labcontrol/pkg/tokens"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	CounterStore  counter.Config
	Auth          AuthConfig
	Throttle      ThrottleConfig
	Policy        PolicyConfig
	Notify        NotifyConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds session and token lifetimes.
type AuthConfig struct {
	SessionTTL       time.Duration
	EmailVerifyTTL   time.Duration
	PasswordResetTTL time.Duration
}

// ThrottleConfig holds per-class rate limit policies.
type ThrottleConfig struct {
	Policies map[string]ratelimit.Policy
}

// PolicyConfig points at an optional capability rules file. Empty means the
// built-in table.
type PolicyConfig struct {
	RulesPath string
}

// NotifyConfig holds the dispatcher schedule.
type NotifyConfig struct {
	DispatchSchedule string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// Load reads configuration from LABCONTROL_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("LABCONTROL_HOST", "0.0.0.0"),
			Port:            getEnv("LABCONTROL_PORT", "8080"),
			ReadTimeout:     getEnvDuration("LABCONTROL_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("LABCONTROL_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("LABCONTROL_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("LABCONTROL_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("LABCONTROL_HEALTH_PORT", "9090"),
		},
		Storage:      loadStorageConfig(),
		CounterStore: loadCounterStoreConfig(),
		Auth: AuthConfig{
			SessionTTL:       getEnvDuration("LABCONTROL_SESSION_TTL", auth.DefaultSessionTTL),
			EmailVerifyTTL:   getEnvDuration("LABCONTROL_EMAIL_VERIFY_TTL", tokens.DefaultEmailVerifyTTL),
			PasswordResetTTL: getEnvDuration("LABCONTROL_PASSWORD_RESET_TTL", tokens.DefaultPasswordResetTTL),
		},
		Throttle: loadThrottleConfig(),
		Policy: PolicyConfig{
			RulesPath: getEnv("LABCONTROL_POLICY_RULES_PATH", ""),
		},
		Notify: NotifyConfig{
			DispatchSchedule: getEnv("LABCONTROL_NOTIFY_SCHEDULE", "@every 1m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("LABCONTROL_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("LABCONTROL_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadStorageConfig() storage.Config {
	return storage.Config{
		PostgresURL:      getEnv("LABCONTROL_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("LABCONTROL_POSTGRES_MAX_CONNS", 25),
		PostgresMinConns: getEnvInt("LABCONTROL_POSTGRES_MIN_CONNS", 5),
		PostgresTimeout:  getEnvDuration("LABCONTROL_POSTGRES_TIMEOUT", 5*time.Second),

		AssetBackend:   getEnv("LABCONTROL_ASSET_BACKEND", "filesystem"),
		FilesystemRoot: getEnv("LABCONTROL_ASSET_ROOT", "/var/lib/labcontrol/assets"),

		S3Endpoint:     getEnv("LABCONTROL_S3_ENDPOINT", ""),
		S3Region:       getEnv("LABCONTROL_S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("LABCONTROL_S3_BUCKET", ""),
		S3AccessKey:    getEnv("LABCONTROL_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("LABCONTROL_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("LABCONTROL_S3_USE_PATH_STYLE", false),

		UserCacheSize: getEnvInt("LABCONTROL_USER_CACHE_SIZE", 1024),
	}
}

func loadCounterStoreConfig() counter.Config {
	return counter.Config{
		URL:        getEnv("LABCONTROL_REDIS_URL", "redis://localhost:6379/0"),
		Password:   getEnv("LABCONTROL_REDIS_PASSWORD", ""),
		DB:         getEnvInt("LABCONTROL_REDIS_DB", -1),
		MaxRetries: getEnvInt("LABCONTROL_REDIS_MAX_RETRIES", 0),
		PoolSize:   getEnvInt("LABCONTROL_REDIS_POOL_SIZE", 0),
	}
}

func loadThrottleConfig() ThrottleConfig {
	policies := ratelimit.DefaultPolicies()
	for class, p := range policies {
		prefix := "LABCONTROL_THROTTLE_" + strings.ToUpper(class)
		p.Limit = getEnvInt(prefix+"_LIMIT", p.Limit)
		p.Window = getEnvDuration(prefix+"_WINDOW", p.Window)
		policies[class] = p
	}
	return ThrottleConfig{Policies: policies}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	switch c.Storage.AssetBackend {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("asset root is required for the filesystem backend")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid asset backend: %s (must be filesystem or s3)", c.Storage.AssetBackend)
	}

	if c.CounterStore.URL == "" {
		return fmt.Errorf("redis URL is required")
	}

	for class, p := range c.Throttle.Policies {
		if p.Limit <= 0 {
			return fmt.Errorf("throttle class %q: limit must be positive", class)
		}
		if p.Window < time.Second {
			return fmt.Errorf("throttle class %q: window must be at least one second", class)
		}
	}

	if c.Auth.SessionTTL <= 0 || c.Auth.EmailVerifyTTL <= 0 || c.Auth.PasswordResetTTL <= 0 {
		return fmt.Errorf("session and token lifetimes must be positive")
	}
	return nil
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

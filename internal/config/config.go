package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable at startup.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	Server   ServerConfig
	Lockout  LockoutConfig
	Store    StoreConfig
	Database DatabaseConfig
	Admin    AdminConfig
	Alerts   AlertConfig
	Cleanup  CleanupConfig
}

// LockoutConfig is the decision-engine surface. Invalid values are a startup
// error, never silently corrected.
type LockoutConfig struct {
	// FailureLimit is the number of consecutive failures that locks a scope.
	// The Nth failure (N = FailureLimit) is the one that trips the lock.
	FailureLimit int
	// CooloffTime is how long after the last failure a scope stays eligible
	// for lockout. Expiry is computed lazily at read time.
	CooloffTime time.Duration
	// LockByCombination counts failures per (username, ip) pair instead of
	// per username and per IP independently.
	LockByCombination bool
	// UseUserAgent folds the (truncated) user agent into every scope key.
	UseUserAgent bool
	// OnlyUserFailures scopes solely by username; IPs are ignored unless the
	// username is missing, in which case scoping falls back to the IP.
	OnlyUserFailures bool
	// LockAtFailure=false puts the guard in shadow mode: failures are still
	// counted and logged but every verdict is Allowed and no events fire.
	LockAtFailure bool
}

type StoreConfig struct {
	Kind       string // memory | postgres | sqlite
	SQLitePath string
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port         string
	Env          string
	LogLevel     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// TrustedProxies are CIDR ranges whose X-Forwarded-For headers are honored.
	TrustedProxies []string
}

type AdminConfig struct {
	// Secret verifies operator tokens (HS256). Tokens are minted out-of-band
	// with cmd/admintoken; the service only validates them.
	Secret string
	// ResetRequestsPerMinute rate-limits the admin mutation endpoints by IP.
	ResetRequestsPerMinute int
}

type AlertConfig struct {
	WebhookURL   string
	EmailFrom    string
	EmailTo      []string
	AWSRegion    string
	EmailEnabled bool
}

type CleanupConfig struct {
	// Retention is how long settled attempt records are kept before the
	// janitor deletes them. Never below the cooloff window.
	Retention time.Duration
	Interval  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	adminSecret := getEnv("WARDEN_ADMIN_SECRET", "")
	if adminSecret == "" {
		return nil, fmt.Errorf("WARDEN_ADMIN_SECRET is required")
	}
	if err := validateAdminSecret(adminSecret, env); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies: parseList(getEnv("WARDEN_TRUSTED_PROXIES", "")),
		},
		Lockout: LockoutConfig{
			FailureLimit:      getEnvAsInt("WARDEN_FAILURE_LIMIT", 3),
			CooloffTime:       getEnvAsDuration("WARDEN_COOLOFF_TIME", 1*time.Hour),
			LockByCombination: getEnvAsBool("WARDEN_LOCK_BY_COMBINATION_USER_AND_IP", false),
			UseUserAgent:      getEnvAsBool("WARDEN_USE_USER_AGENT", false),
			OnlyUserFailures:  getEnvAsBool("WARDEN_ONLY_USER_FAILURES", false),
			LockAtFailure:     getEnvAsBool("WARDEN_LOCK_AT_FAILURE", true),
		},
		Store: StoreConfig{
			Kind:       getEnv("WARDEN_STORE", StoreMemory),
			SQLitePath: getEnv("WARDEN_SQLITE_PATH", "warden.db"),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Admin: AdminConfig{
			Secret:                 adminSecret,
			ResetRequestsPerMinute: getEnvAsInt("WARDEN_ADMIN_RATE_LIMIT", 10),
		},
		Alerts: AlertConfig{
			WebhookURL:   getEnv("WARDEN_ALERT_WEBHOOK_URL", ""),
			EmailFrom:    getEnv("WARDEN_ALERT_EMAIL_FROM", ""),
			EmailTo:      parseList(getEnv("WARDEN_ALERT_EMAIL_TO", "")),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			EmailEnabled: getEnvAsBool("WARDEN_ALERT_EMAIL_ENABLED", false),
		},
		Cleanup: CleanupConfig{
			Retention: getEnvAsDuration("WARDEN_RETENTION", 7*24*time.Hour),
			Interval:  getEnvAsDuration("WARDEN_CLEANUP_INTERVAL", 1*time.Hour),
		},
	}

	if err := cfg.Lockout.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Store.Kind {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if cfg.Database.Password == "" {
			return nil, fmt.Errorf("DB_PASSWORD is required when WARDEN_STORE=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown WARDEN_STORE %q (want memory, postgres or sqlite)", cfg.Store.Kind)
	}

	if cfg.Cleanup.Retention < cfg.Lockout.CooloffTime {
		return nil, fmt.Errorf("WARDEN_RETENTION (%s) must not be shorter than WARDEN_COOLOFF_TIME (%s)",
			cfg.Cleanup.Retention, cfg.Lockout.CooloffTime)
	}

	if cfg.Alerts.EmailEnabled && (cfg.Alerts.EmailFrom == "" || len(cfg.Alerts.EmailTo) == 0) {
		return nil, fmt.Errorf("WARDEN_ALERT_EMAIL_FROM and WARDEN_ALERT_EMAIL_TO are required when email alerts are enabled")
	}

	return cfg, nil
}

// Validate rejects limits and windows that would make the engine misbehave.
func (c LockoutConfig) Validate() error {
	if c.FailureLimit < 1 {
		return fmt.Errorf("WARDEN_FAILURE_LIMIT must be at least 1 (got %d)", c.FailureLimit)
	}
	if c.CooloffTime <= 0 {
		return fmt.Errorf("WARDEN_COOLOFF_TIME must be positive (got %s)", c.CooloffTime)
	}
	return nil
}

// validateAdminSecret enforces minimum strength for the operator token secret
func validateAdminSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("WARDEN_ADMIN_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("WARDEN_ADMIN_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

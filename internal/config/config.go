package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kopa-credit/kopa/internal/money"
)

const (
	defaultAppName        = "Kopa"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultSweepSpec      = "@hourly"
	defaultMaxTermMonths  = 60
	defaultMinInstallment = 100 // minor units
	defaultDepositPerMin  = 30
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// SweepSpec is the cron expression driving the overdue sweep.
	SweepSpec string
	// MaxTermMonths caps the installment count a loan schedule may request.
	MaxTermMonths int
	// MinInstallment rejects schedules whose per-installment amount would
	// fall below this many minor units.
	MinInstallment money.Money
	// DepositRateLimit caps deposit calls per wallet per minute.
	DepositRateLimit int
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		AppEnv:           getEnv("APP_ENV", defaultAppEnv),
		Port:             getEnv("PORT", defaultPort),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		ShutdownPeriod:   defaultShutdownDelay,
		IdempotencyTTL:   defaultIdempotencyTTL,
		SweepSpec:        getEnv("OVERDUE_SWEEP_SPEC", defaultSweepSpec),
		MaxTermMonths:    defaultMaxTermMonths,
		MinInstallment:   money.FromMinorUnits(defaultMinInstallment),
		DepositRateLimit: defaultDepositPerMin,
	}

	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv("IDEMPOTENCY_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid IDEMPOTENCY_TTL: %w", err)
		}
		cfg.IdempotencyTTL = d
	}

	if v := os.Getenv("MAX_TERM_MONTHS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid MAX_TERM_MONTHS: %q", v)
		}
		cfg.MaxTermMonths = n
	}

	if v := os.Getenv("MIN_INSTALLMENT_MINOR_UNITS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid MIN_INSTALLMENT_MINOR_UNITS: %q", v)
		}
		cfg.MinInstallment = money.FromMinorUnits(n)
	}

	if v := os.Getenv("DEPOSIT_RATE_LIMIT_PER_MIN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid DEPOSIT_RATE_LIMIT_PER_MIN: %q", v)
		}
		cfg.DepositRateLimit = n
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

// IsDev reports whether the process runs in a development environment, where
// the in-memory ledger substitutes for Postgres.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

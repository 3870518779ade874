// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/mbd888/repscore/internal/validation"
)

// Clock modes
const (
	ClockWall   = "wall"   // block height derived from wall time since genesis
	ClockChain  = "chain"  // latest block number from RPC_URL
	ClockManual = "manual" // starts at 0, advanced by tests and tooling
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Shared pause flag (optional, process-local flag if not set)

	// Clock
	ClockMode         string
	RPCURL            string
	BlockInterval     time.Duration
	GenesisTime       time.Time
	ClockPollInterval time.Duration

	// Access
	Operators   []common.Address // may record activity for any user
	AdminSecret string           // guards /v1/admin; admin routes disabled if empty

	// HTTP edge
	RateLimitRPM   int      // per caller (or IP) per minute; zero disables limiting
	RateLimitBurst int
	CORSOrigins    []string // "*" allows any origin

	// Background risk sweep; zero disables it
	WorkerInterval time.Duration

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultClockMode         = ClockWall
	DefaultBlockInterval     = 10 * time.Minute
	DefaultClockPollInterval = 2 * time.Second
	DefaultGenesisTime       = "2025-01-01T00:00:00Z"
	DefaultRateLimitRPM      = 600
	DefaultRateLimitBurst    = 50
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", DefaultPort),
		Env:          getEnv("ENV", DefaultEnv),
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:    getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		ClockMode:    strings.ToLower(getEnv("CLOCK_MODE", DefaultClockMode)),
		RPCURL:       os.Getenv("RPC_URL"),
		AdminSecret:  os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst: int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "*")),
	}

	var err error
	if cfg.BlockInterval, err = getEnvDuration("BLOCK_INTERVAL", DefaultBlockInterval); err != nil {
		return nil, err
	}
	if cfg.ClockPollInterval, err = getEnvDuration("CLOCK_POLL_INTERVAL", DefaultClockPollInterval); err != nil {
		return nil, err
	}
	if cfg.WorkerInterval, err = getEnvDuration("WORKER_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.GenesisTime, err = parseTime("GENESIS_TIME", getEnv("GENESIS_TIME", DefaultGenesisTime)); err != nil {
		return nil, err
	}
	if cfg.Operators, err = validation.ParseAddressList(os.Getenv("OPERATORS")); err != nil {
		return nil, fmt.Errorf("OPERATORS: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MigrateConfig is the subset of configuration cmd/migrate needs.
type MigrateConfig struct {
	DatabaseURL string
	LogLevel    string
	LogFormat   string
}

// LoadMigrate reads DATABASE_URL and the logging settings, loading .env if
// present. Server-only settings are not read or validated.
func LoadMigrate() (*MigrateConfig, error) {
	_ = godotenv.Load()

	cfg := &MigrateConfig{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
	}
	errs := validation.Validate(
		validation.Required("DATABASE_URL", cfg.DatabaseURL),
		validation.OneOf("LOG_FORMAT", cfg.LogFormat, "json", "text"),
	)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errs)
	}
	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	errs := validation.Validate(
		validation.Required("PORT", c.Port),
		validation.OneOf("CLOCK_MODE", c.ClockMode, ClockWall, ClockChain, ClockManual),
		validation.OneOf("LOG_FORMAT", c.LogFormat, "json", "text"),
	)
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errs)
	}

	if c.ClockMode == ClockChain && c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required when CLOCK_MODE=%s", ClockChain)
	}
	if c.ClockMode == ClockWall && c.BlockInterval <= 0 {
		return fmt.Errorf("BLOCK_INTERVAL must be positive")
	}
	if c.WorkerInterval < 0 {
		return fmt.Errorf("WORKER_INTERVAL must not be negative")
	}
	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must not be negative")
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs := getEnvInt64(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}

// parseTime accepts RFC 3339 or unix seconds.
func parseTime(key, value string) (time.Time, error) {
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: want RFC 3339 or unix seconds, got %q", key, value)
	}
	return t.UTC(), nil
}

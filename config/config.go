// Package config loads server configuration from the environment, with an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Payroll  PayrollConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Port          int
	Env           string
	LogLevel      string
	CORSOrigins   []string
	PublicBaseURL string
}

type DatabaseConfig struct {
	Driver     string // sqlite or postgres
	SQLitePath string
	URL        string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
}

// PayrollConfig holds the tunable validation thresholds.
type PayrollConfig struct {
	MinimumWage        decimal.Decimal
	GrossMultiplierCap decimal.Decimal
	Currencies         []string
	RejectionReasonMin int
	BatchConcurrency   int
}

// Load reads the given .env files (".env" when none are given) and then the
// process environment. Missing files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	config := &Config{}

	appPort, err := strconv.Atoi(getEnv("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}
	config.App = AppConfig{
		Port:          appPort,
		Env:           getEnv("APP_ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		CORSOrigins:   getEnvSlice("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", appPort)),
	}

	config.Database = DatabaseConfig{
		Driver:     getEnv("DB_DRIVER", "sqlite"),
		SQLitePath: getEnv("SQLITE_PATH", "payroll.db"),
		URL:        getEnv("DATABASE_URL", ""),
	}

	config.JWT = JWTConfig{
		Secret: getEnv("JWT_SECRET", ""),
	}

	if config.Payroll.MinimumWage, err = decimal.NewFromString(getEnv("MIN_WAGE", "6000")); err != nil {
		return nil, fmt.Errorf("invalid MIN_WAGE: %w", err)
	}
	if config.Payroll.GrossMultiplierCap, err = decimal.NewFromString(getEnv("GROSS_MULTIPLIER_CAP", "10")); err != nil {
		return nil, fmt.Errorf("invalid GROSS_MULTIPLIER_CAP: %w", err)
	}
	config.Payroll.Currencies = getEnvSlice("CURRENCIES", "EGP")
	if config.Payroll.RejectionReasonMin, err = strconv.Atoi(getEnv("REJECTION_REASON_MIN", "10")); err != nil {
		return nil, fmt.Errorf("invalid REJECTION_REASON_MIN: %w", err)
	}
	if config.Payroll.BatchConcurrency, err = strconv.Atoi(getEnv("BATCH_CONCURRENCY", "4")); err != nil {
		return nil, fmt.Errorf("invalid BATCH_CONCURRENCY: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.IsProduction() && c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if !c.Payroll.MinimumWage.IsPositive() {
		return fmt.Errorf("MIN_WAGE must be positive")
	}
	if c.Payroll.GrossMultiplierCap.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("GROSS_MULTIPLIER_CAP must be at least 1")
	}
	if len(c.Payroll.Currencies) == 0 {
		return fmt.Errorf("CURRENCIES is required")
	}
	if c.Payroll.RejectionReasonMin < 1 {
		return fmt.Errorf("REJECTION_REASON_MIN must be at least 1")
	}
	if c.Payroll.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Rules maps the payroll thresholds onto the validation rules.
func (c *Config) Rules() payroll.Rules {
	rules := payroll.DefaultRules()
	rules.MinimumWage = c.Payroll.MinimumWage
	rules.GrossMultiplierCap = c.Payroll.GrossMultiplierCap
	rules.Currencies = c.Payroll.Currencies
	return rules
}

// LogLevel parses App.LogLevel, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.App.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(key, fallback string) []string {
	value := getEnv(key, fallback)
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

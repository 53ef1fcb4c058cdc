// Package config loads the process-wide settings of the session server from
// the environment (optionally seeded from a .env file).
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeBalance is returned when INITIAL_BALANCE is below zero.
	ErrNegativeBalance = errors.New("config: INITIAL_BALANCE must not be negative")

	// ErrPriceBelowFloor is returned when INITIAL_PRICE is below 1.
	ErrPriceBelowFloor = errors.New("config: INITIAL_PRICE must be at least 1")
)

// Config is fixed at startup.
type Config struct {
	Port           string          `envconfig:"PORT" default:"3000"`
	InitialBalance decimal.Decimal `envconfig:"INITIAL_BALANCE" default:"1000"`
	InitialPrice   decimal.Decimal `envconfig:"INITIAL_PRICE" default:"100"`

	// ScenarioFile replaces the built-in news corpus when set.
	ScenarioFile string `envconfig:"SCENARIO_FILE"`

	// Journal backends. Without DATABASE_URL the journal is in-memory;
	// REDIS_URL only applies on top of a database.
	DatabaseURL string        `envconfig:"DATABASE_URL"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	CacheTTL    time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
}

// Load reads a .env file if present, then the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges that envconfig cannot express.
func (c *Config) Validate() error {
	if c.InitialBalance.IsNegative() {
		return ErrNegativeBalance
	}
	if c.InitialPrice.LessThan(decimal.NewFromInt(1)) {
		return ErrPriceBelowFloor
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

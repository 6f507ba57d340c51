// Package config loads the marketplace configuration from environment variables.
// envconfig maps variables onto the Config struct; an optional .env file is read first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"auction-marketplace/internal/models"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config holds every application setting.
type Config struct {
	// --- HTTP ---
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// --- Application ---
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// --- Storage ---
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"memory"`
	DBHost        string `envconfig:"DB_HOST" default:"localhost"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"auction"`
	DBPassword    string `envconfig:"DB_PASSWORD"`
	DBName        string `envconfig:"DB_NAME" default:"auction_marketplace"`
	DBSSLMode     string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns    int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns    int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// --- Lifecycle ---
	// cron spec, robfig/cron syntax
	SweepSchedule string        `envconfig:"SWEEP_SCHEDULE" default:"@every 5s"`
	SweepTimeout  time.Duration `envconfig:"SWEEP_TIMEOUT" default:"30s"`

	// --- Marketplace rules ---
	// decoded through decimal.Decimal's UnmarshalText
	WalletInitialGrant decimal.Decimal `envconfig:"WALLET_INITIAL_GRANT" default:"1000"`
	AuctionMaxDuration time.Duration   `envconfig:"AUCTION_MAX_DURATION" default:"720h"`

	// --- Notifications ---
	NotifyBuffer       int           `envconfig:"NOTIFY_BUFFER" default:"16"`
	StreamPingInterval time.Duration `envconfig:"STREAM_PING_INTERVAL" default:"30s"`
}

// DatabaseDSN returns the PostgreSQL connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return ":" + c.HTTPPort
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DBPassword == "" {
			return errors.New("DB_PASSWORD is required for the postgres driver")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return errors.New("invalid DB_MIN_CONNS/DB_MAX_CONNS")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.SweepSchedule == "" {
		return errors.New("SWEEP_SCHEDULE must not be empty")
	}
	if c.SweepTimeout <= 0 {
		return errors.New("SWEEP_TIMEOUT must be > 0")
	}
	if c.WalletInitialGrant.IsNegative() {
		return errors.New("WALLET_INITIAL_GRANT must be >= 0")
	}
	if err := models.ValidateAmount(c.WalletInitialGrant); err != nil {
		return fmt.Errorf("WALLET_INITIAL_GRANT: %w", err)
	}
	if c.AuctionMaxDuration <= 0 {
		return errors.New("AUCTION_MAX_DURATION must be > 0")
	}
	if c.NotifyBuffer <= 0 {
		return errors.New("NOTIFY_BUFFER must be > 0")
	}
	if c.StreamPingInterval <= 0 {
		return errors.New("STREAM_PING_INTERVAL must be > 0")
	}
	return nil
}

// Load reads an optional .env file, then the environment, into a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

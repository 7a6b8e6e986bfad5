// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting of the server process.
type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	// DBDriver selects the store: sqlite or postgres.
	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"./data/kixikila.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	JWTSecret     string `env:"JWT_SECRET"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`

	Currency string `env:"CURRENCY" envDefault:"AOA"`

	// DrawLock selects the draw lock: memory or database.
	DrawLock    string        `env:"DRAW_LOCK" envDefault:"memory"`
	DrawLockTTL time.Duration `env:"DRAW_LOCK_TTL" envDefault:"30s"`

	OutboxInterval    time.Duration `env:"OUTBOX_INTERVAL" envDefault:"5s"`
	OutboxBatch       int           `env:"OUTBOX_BATCH" envDefault:"50"`
	OutboxMaxAttempts int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"8"`

	NotifyWebhookURL string `env:"NOTIFY_WEBHOOK_URL"`

	ArchiveBucket    string `env:"ARCHIVE_BUCKET"`
	ArchiveEndpoint  string `env:"ARCHIVE_ENDPOINT"`
	ArchiveRegion    string `env:"ARCHIVE_REGION" envDefault:"us-east-1"`
	ArchiveAccessKey string `env:"ARCHIVE_ACCESS_KEY"`
	ArchiveSecretKey string `env:"ARCHIVE_SECRET_KEY"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads an optional .env file and parses the environment.
func Load(files ...string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load(files...)
	return Parse()
}

// Parse builds a Config from the process environment and validates it.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option combinations.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required with DB_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver))
	}
	switch c.DrawLock {
	case "memory", "database":
	default:
		errs = append(errs, fmt.Errorf("unknown DRAW_LOCK %q", c.DrawLock))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.WebhookSecret != "" && len(c.WebhookSecret) > 64 {
		errs = append(errs, errors.New("WEBHOOK_SECRET must be at most 64 bytes"))
	}
	if c.DrawLockTTL <= 0 {
		errs = append(errs, errors.New("DRAW_LOCK_TTL must be positive"))
	}
	if c.OutboxInterval <= 0 || c.OutboxBatch <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox interval, batch and max attempts must be positive"))
	}
	if len(c.Currency) != 3 {
		errs = append(errs, fmt.Errorf("CURRENCY %q is not an ISO-4217 code", c.Currency))
	}
	return errors.Join(errs...)
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

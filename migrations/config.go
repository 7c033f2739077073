package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/healthdash-io/healthdash/internal/config"
	"github.com/healthdash-io/healthdash/internal/storage"
)

const defaultMigrationTable = "schema_migrations"

var (
	// ErrDatabaseURLEmpty is returned when DATABASE_URL is not set.
	ErrDatabaseURLEmpty = errors.New("DATABASE_URL cannot be empty")

	// ErrMigrationTableEmpty is returned when MIGRATION_TABLE is set to an empty name.
	ErrMigrationTableEmpty = errors.New("MIGRATION_TABLE cannot be empty")
)

// Config holds migrator configuration.
type Config struct {
	DatabaseURL    string
	MigrationTable string
	LogLevel       slog.Level
}

// LoadConfig loads migrator configuration from environment variables.
//
// Environment variables:
//   - DATABASE_URL: PostgreSQL connection string (required)
//   - MIGRATION_TABLE: Migration tracking table (default: schema_migrations)
//   - LOG_LEVEL: debug, info, warn or error (default: info)
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", defaultMigrationTable),
		LogLevel:       config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLEmpty
	}

	if c.MigrationTable == "" {
		return ErrMigrationTableEmpty
	}

	return nil
}

// MaskedDatabaseURL returns the database URL with its password masked.
func (c *Config) MaskedDatabaseURL() string {
	return storage.NewConfig(storage.KindPostgres, c.DatabaseURL).MaskDatabaseURL()
}

// String returns a representation of the configuration that is safe to log.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}", c.MaskedDatabaseURL(), c.MigrationTable)
}

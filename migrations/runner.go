package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const pingTimeout = 10 * time.Second

type (
	// Runner applies the embedded migrations to a PostgreSQL database with golang-migrate.
	Runner struct {
		migrate    *migrate.Migrate
		db         *sql.DB
		migrations *MigrationSet
		logger     *slog.Logger
	}

	// Status is the schema version of the database relative to the embedded migrations.
	Status struct {
		// Version is the applied schema version; 0 when nothing is applied.
		Version int
		Dirty   bool
		Latest  int
	}

	// migrateLogger forwards golang-migrate's log output to slog.
	migrateLogger struct {
		logger *slog.Logger
	}
)

var _ migrate.Logger = (*migrateLogger)(nil)

// NewRunner validates migrations and connects to cfg.DatabaseURL.
// A nil migrations uses the embedded set.
func NewRunner(cfg *Config, migrations *MigrationSet, logger *slog.Logger) (*Runner, error) {
	if migrations == nil {
		migrations = NewMigrationSet(nil)
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := migrations.Validate(); err != nil {
		return nil, fmt.Errorf("migration validation failed: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.MigrationTable})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(migrations.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	logger.Info("Migration runner initialized",
		slog.String("database_url", cfg.MaskedDatabaseURL()),
		slog.String("migration_table", cfg.MigrationTable),
		slog.Int("latest_version", migrations.Latest()))

	return &Runner{
		migrate:    m,
		db:         db,
		migrations: migrations,
		logger:     logger,
	}, nil
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	err := r.migrate.Up()

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		r.logger.Info("No new migrations to apply")
	case err != nil:
		return fmt.Errorf("migration up failed: %w", err)
	default:
		r.logger.Info("All migrations applied")
	}

	return nil
}

// Down rolls back the last applied migration.
func (r *Runner) Down() error {
	err := r.migrate.Steps(-1)

	switch {
	case errors.Is(err, migrate.ErrNoChange), errors.Is(err, fs.ErrNotExist):
		// Stepping down from the nil version reports fs.ErrNotExist.
		r.logger.Info("No migrations to roll back")
	case err != nil:
		return fmt.Errorf("migration down failed: %w", err)
	default:
		r.logger.Info("Last migration rolled back")
	}

	return nil
}

// Drop drops every table in the database.
func (r *Runner) Drop() error {
	r.logger.Warn("Dropping all tables")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	return nil
}

// Status returns the applied schema version.
func (r *Runner) Status() (Status, error) {
	status := Status{Latest: r.migrations.Latest()}

	version, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return status, nil
		}

		return status, fmt.Errorf("failed to get migration version: %w", err)
	}

	status.Version = int(version) // #nosec G115 - migration sequences are three digits
	status.Dirty = dirty

	return status, nil
}

// Close releases the migrate instance and the database connection.
func (r *Runner) Close() error {
	var errs []error

	sourceErr, dbErr := r.migrate.Close()
	if sourceErr != nil {
		errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
	}

	if dbErr != nil {
		errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
	}

	if err := r.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		errs = append(errs, fmt.Errorf("database connection close error: %w", err))
	}

	return errors.Join(errs...)
}

// Describe summarizes s for humans.
func (s Status) Describe() string {
	var state string

	switch {
	case s.Dirty:
		state = "dirty, needs manual intervention"
	case s.Version == s.Latest:
		state = "up to date"
	case s.Version < s.Latest:
		state = fmt.Sprintf("%d migration(s) pending", s.Latest-s.Version)
	default:
		state = "database schema is newer than this migrator"
	}

	return fmt.Sprintf("schema v%03d, migrator v%03d: %s", s.Version, s.Latest, state)
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}

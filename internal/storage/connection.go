// Package storage provides the datastore implementations behind the ingestion store
// interfaces: a SQL store for PostgreSQL and SQLite, and an in-memory store.
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Kind names a SQL backend.
type Kind string

// Supported SQL backends.
const (
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
)

const healthCheckTimeout = 5 * time.Second

var (
	// ErrNoDatabaseConnection is returned when a store is created without a connection.
	ErrNoDatabaseConnection = errors.New("no database connection")
)

// Connection is a pooled database handle that knows its SQL dialect.
type Connection struct {
	*sql.DB

	kind Kind
}

// NewConnection opens a connection pool for cfg and verifies it with a ping.
//
// SQLite connections are limited to a single open connection with foreign keys enabled.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(string(cfg.Kind), cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Kind, err)
	}

	switch cfg.Kind {
	case KindSQLite:
		// One long-lived connection keeps ":memory:" databases and the foreign_keys pragma alive.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	case KindPostgres:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	conn := &Connection{DB: db, kind: cfg.Kind}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := conn.HealthCheck(ctx); err != nil {
		_ = db.Close()

		return nil, err
	}

	if cfg.Kind == KindSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed to enable sqlite foreign keys: %w", err)
		}
	}

	return conn, nil
}

// Kind returns the backend of the connection.
func (c *Connection) Kind() Kind {
	return c.kind
}

// HealthCheck verifies the database connection is healthy and ready to serve requests.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return ErrNoDatabaseConnection
	}

	if err := c.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// builder returns a statement builder with the connection's placeholder format.
func (c *Connection) builder() squirrel.StatementBuilderType {
	if c.kind == KindPostgres {
		return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	}

	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
}

// isDatabaseConnectionError checks if an error indicates database connection failure.
// Uses PostgreSQL error codes (Class 08) and standard database/sql errors.
func isDatabaseConnectionError(err error) bool {
	if err == nil {
		return false
	}

	// Class 08 = Connection Exception (08000, 08003, 08006, 08001, 08004)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	// modernc.org/sqlite reports constraint failures by message.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

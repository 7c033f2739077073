package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/healthdash-io/healthdash/internal/config"
	"github.com/healthdash-io/healthdash/internal/ingestion"
	"github.com/healthdash-io/healthdash/internal/storage"
	"github.com/healthdash-io/healthdash/internal/taxonomy"
	"github.com/healthdash-io/healthdash/internal/telemetry"
)

// app holds the dependencies shared by the ingester commands.
type app struct {
	logger   *slog.Logger
	conn     *storage.Connection
	ingester *ingestion.Ingester
	metrics  *telemetry.Metrics
	shutdown telemetry.ShutdownFunc
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))
}

// newApp connects to the datastore and builds an ingester recording to a fresh metrics registry.
func newApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	logger.Info("Starting healthdash ingester",
		slog.String("service", name),
		slog.String("version", Version),
	)

	shutdown, err := telemetry.InitTracing(ctx, telemetry.LoadTracingConfig(Version), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	ingestConfig := ingestion.LoadConfig()
	if err := ingestConfig.Validate(); err != nil {
		return nil, errors.Join(fmt.Errorf("invalid ingestion configuration: %w", err), shutdown(ctx))
	}

	tax, err := taxonomy.LoadFromEnv()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to load taxonomy: %w", err), shutdown(ctx))
	}

	storageConfig := storage.LoadConfig()

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to connect to database: %w", err), shutdown(ctx))
	}

	a := &app{
		logger:   logger,
		conn:     conn,
		metrics:  telemetry.NewMetrics(nil),
		shutdown: shutdown,
	}

	if conn.Kind() == storage.KindSQLite {
		if err := storage.EnsureSchema(ctx, conn); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create sqlite schema: %w", err), a.close(ctx))
		}
	}

	registry, err := storage.NewSQLRegistry(conn)
	if err != nil {
		return nil, errors.Join(err, a.close(ctx))
	}

	opts := append(ingestConfig.Options(),
		ingestion.WithLogger(logger),
		ingestion.WithRecorder(a.metrics),
		ingestion.WithTaxonomy(tax),
	)

	a.ingester, err = ingestion.New(registry, opts...)
	if err != nil {
		return nil, errors.Join(err, a.close(ctx))
	}

	logger.Info("Ingester initialized",
		slog.String("database_kind", string(conn.Kind())),
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("batch_size", ingestConfig.BatchSize),
		slog.Bool("auth_enabled", ingestConfig.AuthEnabled),
		slog.Bool("dedupe_timeseries", ingestConfig.DedupeTimeSeries),
	)

	return a, nil
}

func (a *app) close(ctx context.Context) error {
	return errors.Join(a.conn.Close(), a.shutdown(ctx))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/healthdash-io/healthdash/internal/config"
	"github.com/healthdash-io/healthdash/internal/consumer"
)

const (
	defaultMetricsAddr = ":9090"
	readHeaderTimeout  = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
	healthCheckTimeout = 2 * time.Second
)

func newConsumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Ingest payloads from a Kafka topic",
		Long: `Consume payloads from KAFKA_TOPIC until interrupted.

Rejected payloads are forwarded to KAFKA_DLQ_TOPIC when set. Prometheus metrics
and a health check are served on METRICS_ADDR.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := newLogger(cmd.ErrOrStderr())

			consumerConfig := consumer.LoadConfig()
			if err := consumerConfig.Validate(); err != nil {
				logger.Error("Invalid consumer configuration", slog.String("error", err.Error()))

				return err
			}

			a, err := newApp(ctx, logger)
			if err != nil {
				logger.Error("Failed to start ingester", slog.String("error", err.Error()))

				return err
			}

			defer func() {
				if err := a.close(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("Failed to close ingester", slog.String("error", err.Error()))
				}
			}()

			return runConsumer(ctx, a, consumerConfig, config.GetEnvStr("METRICS_ADDR", defaultMetricsAddr))
		},
	}
}

func runConsumer(ctx context.Context, a *app, cfg *consumer.Config, metricsAddr string) error {
	reader := consumer.NewReader(cfg)

	opts := []consumer.Option{
		consumer.WithLogger(a.logger),
		consumer.WithRecorder(a.metrics),
		consumer.WithRateLimit(cfg.MaxPerSecond, cfg.Burst),
	}

	dlq := consumer.NewDeadLetterWriter(cfg)
	if dlq != nil {
		opts = append(opts, consumer.WithDeadLetterWriter(dlq))
	} else {
		a.logger.Warn("No dead letter topic configured, rejected payloads will be dropped",
			slog.String("note", "Set KAFKA_DLQ_TOPIC to keep rejected payloads"))
	}

	c := consumer.New(reader, a.ingester, opts...)

	server := &http.Server{
		Addr:              metricsAddr,
		Handler:           newMetricsMux(a),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	a.logger.Info("Consumer configured",
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic", cfg.Topic),
		slog.String("group_id", cfg.GroupID),
		slog.String("dlq_topic", cfg.DLQTopic),
		slog.Float64("max_per_second", cfg.MaxPerSecond),
		slog.String("metrics_addr", metricsAddr),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer func() {
			if err := reader.Close(); err != nil {
				a.logger.Warn("Failed to close kafka reader", slog.String("error", err.Error()))
			}
		}()

		err := c.Run(gctx)
		if err == nil && ctx.Err() == nil {
			// The metrics server failed and cancelled gctx.
			return nil
		}

		return err
	})

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		errs := []error{server.Shutdown(shutdownCtx)}
		if dlq != nil {
			errs = append(errs, dlq.Close())
		}

		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	a.logger.Info("Ingester stopped")

	return nil
}

func newMetricsMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := a.conn.HealthCheck(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

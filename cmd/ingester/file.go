package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/healthdash-io/healthdash/internal/ingestion"
)

var errFilesFailed = errors.New("files failed to ingest")

func newFileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "file <path>...",
		Short: "Ingest JSON files named after their metric group",
		Long: `Ingest JSON files in the order given.

Each file name must carry a metric group keyword (headline, cases, deaths,
healthcare, testing or vaccinations). A failing file is reported and the
remaining files are still ingested, unless the datastore becomes unavailable.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, paths []string) error {
			ctx := cmd.Context()
			logger := newLogger(cmd.ErrOrStderr())

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

			return ingestFiles(ctx, a, cmd.OutOrStdout(), paths)
		},
	}
}

func ingestFiles(ctx context.Context, a *app, out io.Writer, paths []string) error {
	failed := 0

	for _, path := range paths {
		result, err := ingestFile(ctx, a.ingester, path)
		if err != nil {
			failed++

			a.logger.Error("File ingest failed",
				slog.String("path", path),
				slog.String("error_kind", ingestion.ErrorKind(err)),
				slog.String("error", err.Error()))
			_, _ = fmt.Fprintf(out, "%s: FAILED %s\n", path, ingestion.ErrorKind(err))

			if errors.Is(err, ingestion.ErrStoreUnavailable) || ctx.Err() != nil {
				return err
			}

			continue
		}

		_, _ = fmt.Fprintf(out, "%s: %s rows_written=%d api_rows_written=%d rows_superseded=%d\n",
			path, result.MetricGroup, result.RowsWritten, result.APIRowsWritten, result.RowsSuperseded)
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errFilesFailed, failed, len(paths))
	}

	return nil
}

func ingestFile(ctx context.Context, ingester *ingestion.Ingester, path string) (*ingestion.Result, error) {
	f, err := os.Open(path) // #nosec G304 - paths are operator supplied
	if err != nil {
		return nil, err
	}

	defer func() { _ = f.Close() }()

	return ingester.IngestFile(ctx, filepath.Base(path), f)
}

// Package main provides the database migration CLI for healthdash.
//
// The reference and fact table migrations are embedded in the binary and applied
// with golang-migrate. SQLite databases are not migrated here; the ingester
// creates their schema on startup.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const name = "migrator"

type runnerFactory func(cfg *Config, logger *slog.Logger) (migrationRunner, error)

// migrationRunner is the part of *Runner the commands drive.
type migrationRunner interface {
	Up() error
	Down() error
	Drop() error
	Status() (Status, error)
	Close() error
}

func main() {
	if err := newRootCommand(openRunner).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func openRunner(cfg *Config, logger *slog.Logger) (migrationRunner, error) {
	return NewRunner(cfg, nil, logger)
}

func newRootCommand(open runnerFactory) *cobra.Command {
	root := &cobra.Command{
		Use:          name,
		Short:        "Apply healthdash schema migrations to PostgreSQL",
		SilenceUsage: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withRunner(open, func(cmd *cobra.Command, r migrationRunner) error {
				return r.Up()
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: withRunner(open, func(cmd *cobra.Command, r migrationRunner) error {
				return r.Down()
			}),
		},
		&cobra.Command{
			Use:     "status",
			Aliases: []string{"version"},
			Short:   "Show the applied schema version",
			RunE: withRunner(open, func(cmd *cobra.Command, r migrationRunner) error {
				status, err := r.Status()
				if err != nil {
					return err
				}

				_, err = fmt.Fprintln(cmd.OutOrStdout(), status.Describe())

				return err
			}),
		},
		newDropCommand(open),
		newCheckCommand(),
		&cobra.Command{
			Use:   "build-info",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s v%s (commit %s, built %s)\n", name, Version, GitCommit, BuildTime)
			},
		},
	)

	return root
}

func newDropCommand(open runnerFactory) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop all tables",
		RunE: withRunner(open, func(cmd *cobra.Command, r migrationRunner) error {
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout()) {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Operation cancelled.")

				return err
			}

			return r.Drop()
		}),
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the embedded migrations without connecting to a database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			migrations := NewMigrationSet(nil)
			if err := migrations.Validate(); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "migrations valid, latest v%03d\n", migrations.Latest())

			return err
		},
	}
}

func withRunner(
	open runnerFactory,
	fn func(cmd *cobra.Command, r migrationRunner) error,
) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))

		runner, err := open(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create migration runner: %w", err)
		}

		defer func() {
			if err := runner.Close(); err != nil {
				logger.Warn("Failed to close migration runner", slog.String("error", err.Error()))
			}
		}()

		return fn(cmd, runner)
	}
}

func confirm(in io.Reader, out io.Writer) bool {
	_, _ = fmt.Fprint(out, "WARNING: This will drop all tables. Are you sure? (y/N): ")

	answer, _ := bufio.NewReader(in).ReadString('\n')

	return strings.EqualFold(strings.TrimSpace(answer), "y")
}

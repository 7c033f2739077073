package ingestion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/healthdash-io/healthdash/internal/config"
)

const supportedTimezone = "UTC"

var (
	// ErrUnsupportedTimezone is returned when TIMEZONE is anything but UTC.
	ErrUnsupportedTimezone = errors.New("only the UTC timezone is supported")
)

// Config holds process-wide ingestion settings.
type Config struct {
	AuthEnabled      bool   // Accept is_public=false items
	BatchSize        int    // Fact rows per insert statement
	Timezone         string // Zone naive timestamps are read in; must be UTC
	DedupeTimeSeries bool   // Collapse same-date time series items
}

// LoadConfig loads ingestion configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		AuthEnabled:      config.GetEnvBool("AUTH_ENABLED", false),
		BatchSize:        config.GetEnvInt("BATCH_SIZE", DefaultBatchSize),
		Timezone:         config.GetEnvStr("TIMEZONE", supportedTimezone),
		DedupeTimeSeries: config.GetEnvBool("INGEST_DEDUPE_TIMESERIES", true),
	}
}

// Validate checks if the ingestion configuration is valid.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidBatchSize, c.BatchSize)
	}

	if !strings.EqualFold(strings.TrimSpace(c.Timezone), supportedTimezone) {
		return fmt.Errorf("%w: got %q", ErrUnsupportedTimezone, c.Timezone)
	}

	return nil
}

// Options converts the configuration to Ingester options.
func (c *Config) Options() []Option {
	return []Option{
		WithAuthEnabled(c.AuthEnabled),
		WithBatchSize(c.BatchSize),
		WithDedupe(c.DedupeTimeSeries),
	}
}

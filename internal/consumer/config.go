package consumer

import (
	"errors"
	"fmt"
	"time"

	"github.com/healthdash-io/healthdash/internal/config"
)

const (
	defaultGroupID  = "healthdash-ingester"
	defaultMinBytes = 1
	defaultMaxBytes = 10e6
	defaultMaxWait  = 500 * time.Millisecond
)

var (
	// ErrNoBrokers is returned when KAFKA_BROKERS is empty.
	ErrNoBrokers = errors.New("at least one Kafka broker is required")

	// ErrNoTopic is returned when KAFKA_TOPIC is empty.
	ErrNoTopic = errors.New("kafka topic is required")

	// ErrInvalidRate is returned when INGEST_MAX_PER_SECOND is negative.
	ErrInvalidRate = errors.New("max messages per second must not be negative")

	// ErrDeadLetterLoop is returned when the dead-letter topic is the consumed topic.
	ErrDeadLetterLoop = errors.New("dead-letter topic must differ from the consumed topic")
)

// Config holds Kafka consumer settings.
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	DLQTopic string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	// MaxPerSecond throttles ingestion. Zero disables throttling.
	MaxPerSecond float64
	Burst        int
}

// LoadConfig loads consumer configuration from environment variables.
//
// Environment variables:
//   - KAFKA_BROKERS: Comma-separated broker addresses (required)
//   - KAFKA_TOPIC: Topic carrying payload messages (required)
//   - KAFKA_GROUP_ID: Consumer group (default: healthdash-ingester)
//   - KAFKA_DLQ_TOPIC: Dead-letter topic for rejected payloads (default: none, rejected payloads are dropped)
//   - KAFKA_MIN_BYTES, KAFKA_MAX_BYTES, KAFKA_MAX_WAIT: Fetch tuning
//   - INGEST_MAX_PER_SECOND: Message throttle (default: 0, unthrottled)
//   - INGEST_BURST: Throttle burst (default: 1)
func LoadConfig() *Config {
	return &Config{
		Brokers:      config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "")),
		Topic:        config.GetEnvStr("KAFKA_TOPIC", ""),
		GroupID:      config.GetEnvStr("KAFKA_GROUP_ID", defaultGroupID),
		DLQTopic:     config.GetEnvStr("KAFKA_DLQ_TOPIC", ""),
		MinBytes:     config.GetEnvInt("KAFKA_MIN_BYTES", defaultMinBytes),
		MaxBytes:     config.GetEnvInt("KAFKA_MAX_BYTES", defaultMaxBytes),
		MaxWait:      config.GetEnvDuration("KAFKA_MAX_WAIT", defaultMaxWait),
		MaxPerSecond: config.GetEnvFloat64("INGEST_MAX_PER_SECOND", 0),
		Burst:        config.GetEnvInt("INGEST_BURST", 1),
	}
}

// Validate checks the consumer configuration.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	if c.Topic == "" {
		return ErrNoTopic
	}

	if c.DLQTopic != "" && c.DLQTopic == c.Topic {
		return fmt.Errorf("%w: %s", ErrDeadLetterLoop, c.Topic)
	}

	if c.MaxPerSecond < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRate, c.MaxPerSecond)
	}

	return nil
}

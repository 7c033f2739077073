package consumer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthdash-io/healthdash/internal/consumer"
)

func TestLoadConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := consumer.LoadConfig()

		assert.Empty(t, cfg.Brokers)
		assert.Equal(t, "healthdash-ingester", cfg.GroupID)
		assert.Equal(t, 500*time.Millisecond, cfg.MaxWait)
		assert.Zero(t, cfg.MaxPerSecond)
		require.ErrorIs(t, cfg.Validate(), consumer.ErrNoBrokers)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
		t.Setenv("KAFKA_TOPIC", "payloads")
		t.Setenv("KAFKA_DLQ_TOPIC", "payloads.dlq")
		t.Setenv("INGEST_MAX_PER_SECOND", "2.5")

		cfg := consumer.LoadConfig()

		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
		assert.Equal(t, "payloads", cfg.Topic)
		assert.InDelta(t, 2.5, cfg.MaxPerSecond, 1e-9)
		require.NoError(t, cfg.Validate())
		assert.NotNil(t, consumer.NewDeadLetterWriter(cfg))
	})
}

func TestConfig_Validate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	valid := func() *consumer.Config {
		return &consumer.Config{Brokers: []string{"localhost:9092"}, Topic: "payloads"}
	}

	tests := []struct {
		name    string
		mutate  func(c *consumer.Config)
		wantErr error
	}{
		{"valid", func(*consumer.Config) {}, nil},
		{"no brokers", func(c *consumer.Config) { c.Brokers = nil }, consumer.ErrNoBrokers},
		{"no topic", func(c *consumer.Config) { c.Topic = "" }, consumer.ErrNoTopic},
		{"dead letter loop", func(c *consumer.Config) { c.DLQTopic = "payloads" }, consumer.ErrDeadLetterLoop},
		{"negative rate", func(c *consumer.Config) { c.MaxPerSecond = -1 }, consumer.ErrInvalidRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Nil(t, consumer.NewDeadLetterWriter(cfg))

				return
			}

			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

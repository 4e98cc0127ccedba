package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "telemetry", cfg.Postgres.Database)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "activity-events", cfg.Kafka.Topic)
	assert.Equal(t, 10, cfg.Queue.HighWaterMark)
	assert.Equal(t, 5*time.Second, cfg.Queue.FlushInterval)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Queue.RetryDelay)
	assert.Equal(t, 256, cfg.WebSocket.SubscriberBuffer)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("INGEST_HTTP_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("QUEUE_HIGH_WATER_MARK", "25")
	t.Setenv("QUEUE_FLUSH_INTERVAL", "10s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 25, cfg.Queue.HighWaterMark)
	assert.Equal(t, 10*time.Second, cfg.Queue.FlushInterval)
}

func TestPostgresDSN(t *testing.T) {
	pg := PostgresConfig{
		Host:     "localhost",
		Port:     "5432",
		Database: "telemetry",
		Username: "admin",
		Password: "secret",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=admin password=secret dbname=telemetry sslmode=disable",
		pg.PostgresDSN())
}

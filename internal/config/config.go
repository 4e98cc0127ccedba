package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	HTTPPort    string
	Postgres    PostgresConfig
	Kafka       KafkaConfig
	Queue       QueueConfig
	WebSocket   WebSocketConfig
}

type PostgresConfig struct {
	Host            string
	Port            string
	Database        string
	Username        string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowQuery       time.Duration
	SSLMode         string
}

type KafkaConfig struct {
	Enabled          bool
	Brokers          []string
	Topic            string
	ProducerRetries  int
	ProducerTimeout  time.Duration
	RequiredAcks     int
	CompressionType  string
	MaxMessageBytes  int
	IdempotentWrites bool
}

// QueueConfig drives the client-side delivery queue (collector agent).
type QueueConfig struct {
	IngestURL     string
	HighWaterMark int
	FlushInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	SendTimeout   time.Duration
}

type WebSocketConfig struct {
	SubscriberBuffer int
	WriteWait        time.Duration
	PongWait         time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTPPort:    getEnv("INGEST_HTTP_PORT", "8080"),
	}

	cfg.Postgres = PostgresConfig{
		Host:            getEnv("POSTGRES_HOST", "localhost"),
		Port:            getEnv("POSTGRES_PORT", "5432"),
		Database:        getEnv("POSTGRES_DB", "telemetry"),
		Username:        getEnv("POSTGRES_USER", "admin"),
		Password:        getEnv("POSTGRES_PASSWORD", "password"),
		MaxOpenConns:    getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		SlowQuery:       getEnvAsDuration("POSTGRES_SLOW_QUERY", 200*time.Millisecond),
		SSLMode:         getEnv("POSTGRES_SSL_MODE", "disable"),
	}

	brokers := getEnv("KAFKA_BROKERS", "localhost:9092")
	cfg.Kafka = KafkaConfig{
		Enabled:          getEnvAsBool("KAFKA_ENABLED", false),
		Brokers:          strings.Split(brokers, ","),
		Topic:            getEnv("KAFKA_TOPIC_EVENTS", "activity-events"),
		ProducerRetries:  getEnvAsInt("KAFKA_PRODUCER_RETRIES", 3),
		ProducerTimeout:  getEnvAsDuration("KAFKA_PRODUCER_TIMEOUT", 10*time.Second),
		RequiredAcks:     getEnvAsInt("KAFKA_REQUIRED_ACKS", -1),
		CompressionType:  getEnv("KAFKA_COMPRESSION", "snappy"),
		IdempotentWrites: getEnvAsBool("KAFKA_IDEMPOTENT", true),
		MaxMessageBytes:  getEnvAsInt("KAFKA_MAX_MESSAGE_BYTES", 1000000),
	}

	cfg.Queue = QueueConfig{
		IngestURL:     getEnv("INGEST_URL", "http://localhost:8080"),
		HighWaterMark: getEnvAsInt("QUEUE_HIGH_WATER_MARK", 10),
		FlushInterval: getEnvAsDuration("QUEUE_FLUSH_INTERVAL", 5*time.Second),
		MaxRetries:    getEnvAsInt("QUEUE_MAX_RETRIES", 3),
		RetryDelay:    getEnvAsDuration("QUEUE_RETRY_DELAY", 2*time.Second),
		SendTimeout:   getEnvAsDuration("QUEUE_SEND_TIMEOUT", 10*time.Second),
	}

	cfg.WebSocket = WebSocketConfig{
		SubscriberBuffer: getEnvAsInt("WS_SUBSCRIBER_BUFFER", 256),
		WriteWait:        getEnvAsDuration("WS_WRITE_WAIT", 10*time.Second),
		PongWait:         getEnvAsDuration("WS_PONG_WAIT", 60*time.Second),
	}

	return cfg, nil
}

func (c *PostgresConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/internal/activity"
	"github.com/classpulse/telemetry-pipeline/internal/config"
	"github.com/classpulse/telemetry-pipeline/internal/gateway"
	"github.com/classpulse/telemetry-pipeline/internal/reconciler"
	"github.com/classpulse/telemetry-pipeline/internal/session"
	"github.com/classpulse/telemetry-pipeline/internal/student"
	"github.com/classpulse/telemetry-pipeline/internal/telemetry"
	"github.com/classpulse/telemetry-pipeline/internal/ws"
	"github.com/classpulse/telemetry-pipeline/pkg/kafka"
	"github.com/classpulse/telemetry-pipeline/pkg/logger"
	"github.com/classpulse/telemetry-pipeline/pkg/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	log = logger.WithService(log, "ingest-service")
	log.Info("Starting Ingest Service",
		zap.String("environment", cfg.Environment),
		zap.String("http_port", cfg.HTTPPort),
		zap.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	db, err := postgres.New(postgres.Config{
		DSN:             cfg.Postgres.PostgresDSN(),
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		SlowQuery:       cfg.Postgres.SlowQuery,
	}, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()

	eventRepo := telemetry.NewRepository(db, logger.WithComponent(log, "events"))
	sessionRepo := session.NewRepository(db, logger.WithComponent(log, "sessions"))
	studentRepo := student.NewRepository(db, logger.WithComponent(log, "students"))
	activityRepo := activity.NewRepository(db, logger.WithComponent(log, "activity"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(cfg.WebSocket.SubscriberBuffer, logger.WithComponent(log, "broadcaster"))
	go func() {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("Hub stopped unexpectedly", zap.Error(err))
		}
	}()

	broadcasters := reconciler.MultiBroadcaster{hub}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:          cfg.Kafka.Brokers,
			Topic:            cfg.Kafka.Topic,
			Retries:          cfg.Kafka.ProducerRetries,
			Timeout:          cfg.Kafka.ProducerTimeout,
			RequiredAcks:     cfg.Kafka.RequiredAcks,
			Compression:      cfg.Kafka.CompressionType,
			IdempotentWrites: cfg.Kafka.IdempotentWrites,
			MaxMessageBytes:  cfg.Kafka.MaxMessageBytes,
		}, log)
		if err != nil {
			log.Fatal("Failed to create Kafka producer", zap.Error(err))
		}
		defer producer.Close()

		stream := reconciler.NewStreamPublisher(producer, 256, logger.WithComponent(log, "stream"))
		go stream.Run(ctx)
		broadcasters = append(broadcasters, stream)
	}

	recService := reconciler.NewService(
		eventRepo,
		sessionRepo,
		studentRepo,
		activityRepo,
		broadcasters,
		logger.WithComponent(log, "reconciler"),
	)

	handler := gateway.NewHandler(
		recService,
		sessionRepo,
		activityRepo,
		hub,
		db,
		ws.ClientConfig{
			WriteWait: cfg.WebSocket.WriteWait,
			PongWait:  cfg.WebSocket.PongWait,
		},
		logger.WithComponent(log, "gateway"),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           gateway.Routes(handler, logger.WithComponent(log, "gateway")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown timed out, forcing close", zap.Error(err))
		_ = srv.Close()
	}

	// Stops the hub and the stream publisher.
	cancel()

	log.Info("Ingest Service stopped")
}

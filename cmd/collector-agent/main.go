package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/internal/collector"
	"github.com/classpulse/telemetry-pipeline/internal/config"
	"github.com/classpulse/telemetry-pipeline/internal/delivery"
	"github.com/classpulse/telemetry-pipeline/internal/session"
	"github.com/classpulse/telemetry-pipeline/pkg/logger"
)

// collector-agent is a reference client for the ingest service. It
// simulates one browsing session: page views, clicks and media
// interactions flow through the delivery queue, identity resolution and
// session metadata go over the side channel.
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

	log = logger.WithService(log, "collector-agent")

	sender := delivery.NewHTTPSender(cfg.Queue.IngestURL, cfg.Queue.SendTimeout, log)
	queue := delivery.NewQueue(sender, delivery.Config{
		HighWaterMark: cfg.Queue.HighWaterMark,
		FlushInterval: cfg.Queue.FlushInterval,
		MaxRetries:    cfg.Queue.MaxRetries,
		RetryDelay:    cfg.Queue.RetryDelay,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("Interrupted, flushing and exiting")
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		queue.Run(ctx)
	}()

	sessionID := uuid.New().String()
	col := collector.New(sessionID)
	log.Info("Simulating session", zap.String("session_id", sessionID))

	sessionStart := time.Now().UTC()
	pagesVisited := 0

	visit := func(url, path, title string) {
		pagesVisited++
		queue.Enqueue(col.PageView(url, path, title))
	}

	visit("https://learn.example.com/", "/", "Home")
	pause(ctx, 300*time.Millisecond)

	visit("https://learn.example.com/courses/algebra", "/courses/algebra", "Algebra I")
	queue.Enqueue(col.Click("https://learn.example.com/courses/algebra", "/courses/algebra", "button", "enroll"))
	pause(ctx, 300*time.Millisecond)

	// Login happens mid-session; every event from here on carries the
	// student identity.
	studentID := "STU-" + uuid.New().String()[:8]
	col.SetStudentID(studentID)
	queue.PushSessionUpdate(ctx, session.Update{
		SessionID: sessionID,
		StudentID: &studentID,
		StartTime: &sessionStart,
	})
	log.Info("Identity resolved", zap.String("student_id", studentID))

	visit("https://learn.example.com/courses/algebra/lesson-1", "/courses/algebra/lesson-1", "Lesson 1")
	queue.Enqueue(col.MediaInteraction("https://learn.example.com/courses/algebra/lesson-1", "/courses/algebra/lesson-1", "video", "play", 0))
	pause(ctx, time.Second)
	queue.Enqueue(col.MediaInteraction("https://learn.example.com/courses/algebra/lesson-1", "/courses/algebra/lesson-1", "video", "pause", 64.5))

	queue.Enqueue(col.ResourceAccess("https://learn.example.com/courses/algebra/lesson-1", "/courses/algebra/lesson-1", "worksheet-01", "pdf"))
	queue.Enqueue(col.FormSubmit("https://learn.example.com/courses/algebra/quiz-1", "/courses/algebra/quiz-1", "quiz-1"))
	pause(ctx, 300*time.Millisecond)

	// Session close: cumulative metrics over the side channel, events
	// through the queue as usual.
	endTime := time.Now().UTC()
	totalTime := endTime.Sub(sessionStart).Milliseconds()
	pages := pagesVisited
	queue.PushSessionUpdate(ctx, session.Update{
		SessionID:      sessionID,
		EndTime:        &endTime,
		TotalTimeSpent: &totalTime,
		PagesVisited:   &pages,
	})

	log.Info("Session simulated, draining queue",
		zap.Int("pages_visited", pagesVisited),
		zap.Int64("total_time_ms", totalTime),
	)

	cancel()
	<-done

	log.Info("Collector agent stopped")
}

func pause(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

package delivery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/internal/session"
	"github.com/classpulse/telemetry-pipeline/internal/telemetry"
)

// Sender delivers one snapshot of the queue, or one side-channel session
// update, to the ingestion gateway.
type Sender interface {
	SendBatch(ctx context.Context, events []telemetry.Event) error
	SendSessionUpdate(ctx context.Context, update session.Update) error
}

type Config struct {
	HighWaterMark int
	FlushInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = 10
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	return c
}

// Queue buffers events produced faster than the network can take them and
// delivers them at-least-once. Enqueue never blocks the producer; only the
// flush path waits on the network. Duplicates are possible after a partial
// delivery and are the reconciler's problem, not prevented here.
type Queue struct {
	sender Sender
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	events  []telemetry.Event
	sending bool

	flushNow chan struct{}
}

func NewQueue(sender Sender, cfg Config, logger *zap.Logger) *Queue {
	return &Queue{
		sender:   sender,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		flushNow: make(chan struct{}, 1),
	}
}

// Enqueue validates and buffers one event. Malformed input is dropped and
// logged; tracking must never disrupt the producing page. Hitting the
// high-water mark nudges an immediate flush instead of waiting for the
// timer.
func (q *Queue) Enqueue(event telemetry.Event) {
	if err := event.Validate(); err != nil {
		q.logger.Warn("dropping malformed event",
			zap.Error(err),
			zap.String("event_type", event.EventType),
		)
		return
	}

	q.mu.Lock()
	q.events = append(q.events, event)
	nudge := len(q.events) >= q.cfg.HighWaterMark && !q.sending
	q.mu.Unlock()

	if nudge {
		select {
		case q.flushNow <- struct{}{}:
		default:
		}
	}
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Run flushes on a fixed interval and on high-water nudges until the
// context is canceled, then makes one best-effort final flush so a clean
// shutdown does not strand buffered events.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.Flush(ctx)
		case <-q.flushNow:
			q.Flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), q.cfg.FlushInterval)
			q.Flush(flushCtx)
			cancel()
			q.logger.Info("delivery queue stopped", zap.Int("stranded", q.Len()))
			return
		}
	}
}

// Flush snapshots and clears the queue, then delivers the snapshot as one
// batch with bounded retries. Only one flush may be in flight: a
// concurrent call while one is outstanding is a no-op. If every retry
// fails the whole batch is prepended back onto the live queue, ahead of
// anything enqueued meanwhile, so no event is lost client-side.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	if q.sending || len(q.events) == 0 {
		q.mu.Unlock()
		return
	}
	q.sending = true
	batch := q.events
	q.events = nil
	q.mu.Unlock()

	err := q.sendWithRetry(ctx, batch)

	q.mu.Lock()
	if err != nil {
		q.events = append(batch, q.events...)
	}
	q.sending = false
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("flush failed, batch requeued",
			zap.Error(err),
			zap.Int("batch_size", len(batch)),
		)
	}
}

func (q *Queue) sendWithRetry(ctx context.Context, batch []telemetry.Event) error {
	var err error
	for attempt := 1; attempt <= q.cfg.MaxRetries; attempt++ {
		err = q.sender.SendBatch(ctx, batch)
		if err == nil {
			q.logger.Debug("batch delivered",
				zap.Int("batch_size", len(batch)),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		q.logger.Warn("batch delivery failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", q.cfg.MaxRetries),
		)

		if attempt < q.cfg.MaxRetries {
			select {
			case <-time.After(q.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

// PushSessionUpdate sends a side-channel session payload with the same
// bounded retry. Best-effort: exhausted retries are logged, never
// requeued.
func (q *Queue) PushSessionUpdate(ctx context.Context, update session.Update) {
	var err error
	for attempt := 1; attempt <= q.cfg.MaxRetries; attempt++ {
		err = q.sender.SendSessionUpdate(ctx, update)
		if err == nil {
			return
		}
		if attempt < q.cfg.MaxRetries {
			select {
			case <-time.After(q.cfg.RetryDelay):
			case <-ctx.Done():
				return
			}
		}
	}
	q.logger.Error("session update dropped after retries",
		zap.Error(err),
		zap.String("session_id", update.SessionID),
	)
}

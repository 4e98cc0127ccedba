package postgres

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// QueryTracker records the most recent statement executed on the pool and
// flags statements slower than the configured threshold. It is an explicit
// decorator around the connection; nothing patches the pool at runtime.
type QueryTracker struct {
	mu           sync.Mutex
	lastQuery    string
	lastDuration time.Duration
	slowQuery    time.Duration
	logger       *zap.Logger
}

func NewQueryTracker(slowQuery time.Duration, logger *zap.Logger) *QueryTracker {
	if slowQuery <= 0 {
		slowQuery = 200 * time.Millisecond
	}
	return &QueryTracker{
		slowQuery: slowQuery,
		logger:    logger,
	}
}

func (t *QueryTracker) Observe(query string, d time.Duration) {
	t.mu.Lock()
	t.lastQuery = query
	t.lastDuration = d
	t.mu.Unlock()

	if d >= t.slowQuery {
		t.logger.Warn("slow query",
			zap.String("query", query),
			zap.Duration("duration", d),
		)
	}
}

// Last returns the most recently observed statement and its duration.
func (t *QueryTracker) Last() (string, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastQuery, t.lastDuration
}

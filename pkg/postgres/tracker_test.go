package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestQueryTrackerObserve(t *testing.T) {
	tracker := NewQueryTracker(100*time.Millisecond, zap.NewNop())

	tracker.Observe("SELECT 1", 5*time.Millisecond)

	query, duration := tracker.Last()
	assert.Equal(t, "SELECT 1", query)
	assert.Equal(t, 5*time.Millisecond, duration)

	tracker.Observe("SELECT 2", time.Millisecond)
	query, _ = tracker.Last()
	assert.Equal(t, "SELECT 2", query)
}

func TestQueryTrackerDefaultThreshold(t *testing.T) {
	tracker := NewQueryTracker(0, zap.NewNop())
	assert.Equal(t, 200*time.Millisecond, tracker.slowQuery)
}

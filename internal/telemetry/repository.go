package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/pkg/postgres"
)

type Repository interface {
	Insert(ctx context.Context, event *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	GetBySessionID(ctx context.Context, sessionID string, limit int) ([]*Event, error)
}

type repository struct {
	db     *postgres.DB
	logger *zap.Logger
}

func NewRepository(db *postgres.DB, logger *zap.Logger) Repository {
	return &repository{
		db:     db,
		logger: logger,
	}
}

// Insert appends the raw event row. The events table is append-only; rows
// are never updated or deleted by the pipeline.
func (r *repository) Insert(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (id, event_type, occurred_at, url, path, session_id, student_id, details, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		event.ID,
		event.EventType,
		event.Timestamp,
		event.URL,
		event.Path,
		event.SessionID,
		event.StudentID,
		event.Details,
		event.ReceivedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			// Foreign key: the session row is missing. Surfaced as its
			// own error class so the caller can drop just this event.
			return fmt.Errorf("event %s session %q: %w", event.ID, event.SessionID, ErrSessionNotFound)
		}
		r.logger.Error("Failed to insert event", zap.Error(err))
		return fmt.Errorf("failed to insert event: %w", err)
	}

	r.logger.Debug("Event persisted",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("session_id", event.SessionID),
	)

	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	query := `
		SELECT id, event_type, occurred_at, url, path, session_id, student_id, details, received_at
		FROM events
		WHERE id = $1
	`

	var event Event
	err := r.db.GetContext(ctx, &event, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return &event, nil
}

func (r *repository) GetBySessionID(ctx context.Context, sessionID string, limit int) ([]*Event, error) {
	query := `
		SELECT id, event_type, occurred_at, url, path, session_id, student_id, details, received_at
		FROM events
		WHERE session_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	var events []*Event
	err := r.db.SelectContext(ctx, &events, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get session events: %w", err)
	}

	return events, nil
}

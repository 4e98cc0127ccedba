package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/pkg/postgres"
)

type Repository interface {
	// Upsert merges the update into the session row in one atomic
	// statement and returns the stored row plus whether it was created.
	Upsert(ctx context.Context, update Update) (*Session, bool, error)
	GetByID(ctx context.Context, sessionID string) (*Session, error)
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

// Upsert is the only write path for sessions. Merge rules live in the
// statement itself so concurrent batches serialize on the row without any
// read-modify-write in application code:
//   - student_id: immutable once set
//   - end_time: GREATEST, so it only moves forward (NULL-tolerant)
//   - total_time_spent / pages_visited: overwritten only when supplied
//   - start_time: first write wins
func (r *repository) Upsert(ctx context.Context, update Update) (*Session, bool, error) {
	if err := update.Validate(); err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO sessions (session_id, student_id, start_time, end_time, total_time_spent, pages_visited, updated_at)
		VALUES ($1, $2, COALESCE($3, NOW()), $4, COALESCE($5, 0), COALESCE($6, 0), NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			student_id       = COALESCE(sessions.student_id, EXCLUDED.student_id),
			end_time         = GREATEST(sessions.end_time, EXCLUDED.end_time),
			total_time_spent = COALESCE($5, sessions.total_time_spent),
			pages_visited    = COALESCE($6, sessions.pages_visited),
			updated_at       = NOW()
		RETURNING session_id, student_id, start_time, end_time, total_time_spent, pages_visited, updated_at, (xmax = 0) AS created
	`

	var (
		stored  Session
		created bool
	)
	err := r.db.QueryRowContext(
		ctx,
		query,
		update.SessionID,
		update.StudentID,
		update.StartTime,
		update.EndTime,
		update.TotalTimeSpent,
		update.PagesVisited,
	).Scan(
		&stored.SessionID,
		&stored.StudentID,
		&stored.StartTime,
		&stored.EndTime,
		&stored.TotalTimeSpent,
		&stored.PagesVisited,
		&stored.UpdatedAt,
		&created,
	)
	if err != nil {
		r.logger.Error("Failed to upsert session",
			zap.Error(err),
			zap.String("session_id", update.SessionID),
		)
		return nil, false, fmt.Errorf("failed to upsert session: %w", err)
	}

	r.logger.Debug("Session upserted",
		zap.String("session_id", stored.SessionID),
		zap.Bool("created", created),
	)

	return &stored, created, nil
}

func (r *repository) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	query := `
		SELECT session_id, student_id, start_time, end_time, total_time_spent, pages_visited, updated_at
		FROM sessions
		WHERE session_id = $1
	`

	var s Session
	err := r.db.GetContext(ctx, &s, query, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &s, nil
}

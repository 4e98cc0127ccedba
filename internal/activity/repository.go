package activity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/pkg/postgres"
)

type Repository interface {
	// Apply merges a delta into the (student_id, date) row with a single
	// additive upsert. Counters are never read back and rewritten, so
	// concurrent increments for the same key cannot lose updates.
	Apply(ctx context.Context, delta Delta) error
	GetByStudent(ctx context.Context, studentID string, from, to time.Time) ([]*Aggregate, error)
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

func (r *repository) Apply(ctx context.Context, delta Delta) error {
	query := `
		INSERT INTO activity_daily (student_id, activity_date, session_count, total_time_spent, page_views, interactions, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (student_id, activity_date) DO UPDATE SET
			session_count    = activity_daily.session_count + EXCLUDED.session_count,
			total_time_spent = activity_daily.total_time_spent + EXCLUDED.total_time_spent,
			page_views       = activity_daily.page_views + EXCLUDED.page_views,
			interactions     = activity_daily.interactions + EXCLUDED.interactions,
			updated_at       = NOW()
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		delta.StudentID,
		delta.Date,
		delta.SessionCount,
		delta.TotalTimeSpent,
		delta.PageViews,
		delta.Interactions,
	)
	if err != nil {
		r.logger.Error("Failed to apply activity delta",
			zap.Error(err),
			zap.String("student_id", delta.StudentID),
		)
		return fmt.Errorf("failed to apply activity delta: %w", err)
	}

	r.logger.Debug("Activity delta applied",
		zap.String("student_id", delta.StudentID),
		zap.Time("date", delta.Date),
		zap.Int64("page_views", delta.PageViews),
		zap.Int64("interactions", delta.Interactions),
	)

	return nil
}

func (r *repository) GetByStudent(ctx context.Context, studentID string, from, to time.Time) ([]*Aggregate, error) {
	query := `
		SELECT student_id, activity_date, session_count, total_time_spent, page_views, interactions, updated_at
		FROM activity_daily
		WHERE student_id = $1
		  AND activity_date >= $2
		  AND activity_date <= $3
		ORDER BY activity_date
	`

	var aggregates []*Aggregate
	err := r.db.SelectContext(ctx, &aggregates, query, studentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity aggregates: %w", err)
	}

	return aggregates, nil
}

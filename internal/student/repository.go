package student

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/pkg/postgres"
)

var ErrInvalidStudentID = errors.New("invalid student id")

type Repository interface {
	// EnsureExists creates the stub row if absent. A single statement, so
	// two concurrent events for a never-before-seen student cannot race a
	// duplicate create.
	EnsureExists(ctx context.Context, studentID string) error
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

func (r *repository) EnsureExists(ctx context.Context, studentID string) error {
	if studentID == "" {
		return ErrInvalidStudentID
	}

	query := `
		INSERT INTO students (student_id, created_at)
		VALUES ($1, NOW())
		ON CONFLICT (student_id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, studentID); err != nil {
		r.logger.Error("Failed to ensure student",
			zap.Error(err),
			zap.String("student_id", studentID),
		)
		return fmt.Errorf("failed to ensure student: %w", err)
	}

	return nil
}

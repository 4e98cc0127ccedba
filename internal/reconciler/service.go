package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/internal/activity"
	"github.com/classpulse/telemetry-pipeline/internal/session"
	"github.com/classpulse/telemetry-pipeline/internal/telemetry"
)

// The reconciler owns all writes to Session, Student and Aggregate state.
// Correctness under concurrent ingestion comes entirely from the three
// atomic store operations below; there is no application-level locking or
// optimistic retry.

type EventRepository interface {
	Insert(ctx context.Context, event *telemetry.Event) error
}

type SessionRepository interface {
	Upsert(ctx context.Context, update session.Update) (*session.Session, bool, error)
}

type StudentRepository interface {
	EnsureExists(ctx context.Context, studentID string) error
}

type ActivityRepository interface {
	Apply(ctx context.Context, delta activity.Delta) error
}

type Service struct {
	events      EventRepository
	sessions    SessionRepository
	students    StudentRepository
	activities  ActivityRepository
	broadcaster Broadcaster
	logger      *zap.Logger
}

func NewService(
	events EventRepository,
	sessions SessionRepository,
	students StudentRepository,
	activities ActivityRepository,
	broadcaster Broadcaster,
	logger *zap.Logger,
) *Service {
	return &Service{
		events:      events,
		sessions:    sessions,
		students:    students,
		activities:  activities,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// ReconcileEvent runs the full per-event pipeline: resolve student, merge
// session, append the raw event, bump the daily aggregate, emit. Duplicate
// delivery is tolerated: steps 1-3 are idempotent upserts; the aggregate
// increment is not deduplicated and may over-count redelivered events.
func (s *Service) ReconcileEvent(ctx context.Context, event *telemetry.Event) (*telemetry.Event, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	// The payload's student id can come from the piggybacked session
	// update, not just the event itself; both must exist before the
	// session and aggregate rows reference them.
	payload := event.SessionPayload()
	if err := s.ensureStudents(ctx, event.StudentID, payload.StudentID); err != nil {
		return nil, fmt.Errorf("ensure student: %w", err)
	}

	sess, created, err := s.sessions.Upsert(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}

	if event.StudentID != nil && sess.StudentID != nil && *event.StudentID != *sess.StudentID {
		// Data anomaly, not a valid update: the session keeps its first
		// student id.
		s.logger.Warn("event student does not match session student",
			zap.String("session_id", event.SessionID),
			zap.String("event_student_id", *event.StudentID),
			zap.String("session_student_id", *sess.StudentID),
		)
	}

	if err := s.events.Insert(ctx, event); err != nil {
		if errors.Is(err, telemetry.ErrSessionNotFound) {
			s.logger.Warn("dropping event for unknown session",
				zap.String("event_id", event.ID.String()),
				zap.String("session_id", event.SessionID),
			)
		}
		return nil, err
	}

	if err := s.applyActivity(ctx, event, sess, created); err != nil {
		// The event is already durable; a failed counter update is logged
		// and does not fail ingestion.
		s.logger.Error("failed to update activity aggregate",
			zap.Error(err),
			zap.String("event_id", event.ID.String()),
		)
	}

	s.broadcaster.PublishEvent(event)
	if created || event.Session != nil {
		s.broadcaster.PublishSession(sess)
	}

	s.logger.Debug("Event reconciled",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("session_id", event.SessionID),
		zap.Bool("session_created", created),
	)

	return event, nil
}

// ensureStudents creates stub rows for every distinct student id about to
// be referenced by a foreign key.
func (s *Service) ensureStudents(ctx context.Context, ids ...*string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == nil {
			continue
		}
		if _, ok := seen[*id]; ok {
			continue
		}
		seen[*id] = struct{}{}
		if err := s.students.EnsureExists(ctx, *id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyActivity(ctx context.Context, event *telemetry.Event, sess *session.Session, created bool) error {
	studentID := event.StudentID
	if studentID == nil {
		studentID = sess.StudentID
	}
	if studentID == nil {
		// Anonymous until identity resolves; nothing to roll up.
		return nil
	}

	delta := activity.Delta{
		StudentID: *studentID,
		Date:      activity.DayOf(event.Timestamp),
	}
	if created {
		delta.SessionCount = 1
	}
	if event.IsPageView() {
		delta.PageViews = 1
	} else {
		delta.Interactions = 1
	}

	return s.activities.Apply(ctx, delta)
}

// BatchFailure reports one rejected event of a batch by its position.
type BatchFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type BatchResult struct {
	Accepted int            `json:"accepted"`
	Failures []BatchFailure `json:"failures,omitempty"`
}

// ReconcileBatch processes events in arrival order, continuing past
// per-event failures so one bad row does not sink the batch.
func (s *Service) ReconcileBatch(ctx context.Context, events []*telemetry.Event) BatchResult {
	result := BatchResult{}

	for i, event := range events {
		if _, err := s.ReconcileEvent(ctx, event); err != nil {
			s.logger.Warn("event rejected in batch",
				zap.Int("index", i),
				zap.Error(err),
			)
			result.Failures = append(result.Failures, BatchFailure{
				Index: i,
				Error: err.Error(),
			})
			continue
		}
		result.Accepted++
	}

	s.logger.Info("Batch reconciled",
		zap.Int("total", len(events)),
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", len(result.Failures)),
	)

	return result
}

// ReconcileSessionUpdate handles the side-channel session metadata path
// (identity resolution, heartbeat totals, session close).
func (s *Service) ReconcileSessionUpdate(ctx context.Context, update session.Update) (*session.Session, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	if update.StudentID != nil {
		if err := s.students.EnsureExists(ctx, *update.StudentID); err != nil {
			return nil, fmt.Errorf("ensure student: %w", err)
		}
	}

	sess, created, err := s.sessions.Upsert(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}

	if created && sess.StudentID != nil {
		delta := activity.Delta{
			StudentID:    *sess.StudentID,
			Date:         activity.DayOf(sess.StartTime),
			SessionCount: 1,
		}
		if err := s.activities.Apply(ctx, delta); err != nil {
			s.logger.Error("failed to count session in aggregate",
				zap.Error(err),
				zap.String("session_id", sess.SessionID),
			)
		}
	}

	s.broadcaster.PublishSession(sess)

	return sess, nil
}

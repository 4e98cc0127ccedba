package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/internal/activity"
	"github.com/classpulse/telemetry-pipeline/internal/session"
	"github.com/classpulse/telemetry-pipeline/internal/telemetry"
)

type fakeEventRepo struct {
	mu       sync.Mutex
	inserted []*telemetry.Event
	// session ids whose insert fails the foreign key check
	unknownSessions map[string]bool
}

func (f *fakeEventRepo) Insert(_ context.Context, event *telemetry.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unknownSessions[event.SessionID] {
		return fmt.Errorf("event %s session %q: %w", event.ID, event.SessionID, telemetry.ErrSessionNotFound)
	}
	f.inserted = append(f.inserted, event)
	return nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	upserts  int
}

func (f *fakeSessionRepo) Upsert(_ context.Context, update session.Update) (*session.Session, bool, error) {
	if err := update.Validate(); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if s, ok := f.sessions[update.SessionID]; ok {
		s.Apply(update)
		return s, false, nil
	}
	s := session.FromUpdate(update)
	f.sessions[update.SessionID] = s
	return s, true, nil
}

// fakeStudentRepo mimics the create-if-absent statement: every call is
// recorded, but only the first sighting of an id is a create.
type fakeStudentRepo struct {
	mu      sync.Mutex
	rows    map[string]struct{}
	ensured []string
	creates int
}

func (f *fakeStudentRepo) EnsureExists(_ context.Context, studentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, studentID)
	if _, ok := f.rows[studentID]; !ok {
		f.rows[studentID] = struct{}{}
		f.creates++
	}
	return nil
}

type fakeActivityRepo struct {
	mu     sync.Mutex
	deltas []activity.Delta
}

func (f *fakeActivityRepo) Apply(_ context.Context, delta activity.Delta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = append(f.deltas, delta)
	return nil
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	events   []*telemetry.Event
	sessions []*session.Session
}

func (b *recordingBroadcaster) PublishEvent(event *telemetry.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) PublishSession(s *session.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = append(b.sessions, s)
}

type fixture struct {
	events      *fakeEventRepo
	sessions    *fakeSessionRepo
	students    *fakeStudentRepo
	activities  *fakeActivityRepo
	broadcaster *recordingBroadcaster
	service     *Service
}

func newFixture() *fixture {
	f := &fixture{
		events:      &fakeEventRepo{unknownSessions: map[string]bool{}},
		sessions:    &fakeSessionRepo{sessions: map[string]*session.Session{}},
		students:    &fakeStudentRepo{rows: map[string]struct{}{}},
		activities:  &fakeActivityRepo{},
		broadcaster: &recordingBroadcaster{},
	}
	f.service = NewService(f.events, f.sessions, f.students, f.activities, f.broadcaster, zap.NewNop())
	return f
}

func pageView(sessionID string, studentID *string) *telemetry.Event {
	return &telemetry.Event{
		EventType: telemetry.EventTypePageView,
		Timestamp: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		URL:       "https://learn.example.com/home",
		Path:      "/home",
		SessionID: sessionID,
		StudentID: studentID,
	}
}

func click(sessionID string, studentID *string) *telemetry.Event {
	e := pageView(sessionID, studentID)
	e.EventType = telemetry.EventTypeClick
	return e
}

func TestReconcileEventFirstOfSession(t *testing.T) {
	f := newFixture()
	studentID := "stu-1"

	persisted, err := f.service.ReconcileEvent(context.Background(), pageView("sess-1", &studentID))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, persisted.ID)
	assert.False(t, persisted.ReceivedAt.IsZero())

	assert.Equal(t, []string{"stu-1"}, f.students.ensured)

	sess, ok := f.sessions.sessions["sess-1"]
	require.True(t, ok)
	require.NotNil(t, sess.StudentID)
	assert.Equal(t, "stu-1", *sess.StudentID)

	require.Len(t, f.events.inserted, 1)

	require.Len(t, f.activities.deltas, 1)
	delta := f.activities.deltas[0]
	assert.Equal(t, "stu-1", delta.StudentID)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), delta.Date)
	assert.Equal(t, int64(1), delta.SessionCount)
	assert.Equal(t, int64(1), delta.PageViews)
	assert.Equal(t, int64(0), delta.Interactions)

	require.Len(t, f.broadcaster.events, 1)
	require.Len(t, f.broadcaster.sessions, 1)
}

func TestReconcileEventRejectsInvalid(t *testing.T) {
	f := newFixture()

	e := pageView("sess-1", nil)
	e.EventType = "bogus"
	_, err := f.service.ReconcileEvent(context.Background(), e)

	require.ErrorIs(t, err, telemetry.ErrInvalidEventType)
	assert.Empty(t, f.events.inserted)
	assert.Equal(t, 0, f.sessions.upserts)
}

func TestReconcileEventExistingSessionNoSessionCount(t *testing.T) {
	f := newFixture()
	studentID := "stu-1"

	_, err := f.service.ReconcileEvent(context.Background(), pageView("sess-1", &studentID))
	require.NoError(t, err)
	_, err = f.service.ReconcileEvent(context.Background(), click("sess-1", &studentID))
	require.NoError(t, err)

	require.Len(t, f.activities.deltas, 2)
	second := f.activities.deltas[1]
	assert.Equal(t, int64(0), second.SessionCount)
	assert.Equal(t, int64(0), second.PageViews)
	assert.Equal(t, int64(1), second.Interactions)

	// Session state is only pushed when it changed shape: once on create.
	assert.Len(t, f.broadcaster.sessions, 1)
	assert.Len(t, f.broadcaster.events, 2)
}

func TestReconcileEventAnonymousSkipsAggregate(t *testing.T) {
	f := newFixture()

	_, err := f.service.ReconcileEvent(context.Background(), pageView("sess-1", nil))
	require.NoError(t, err)

	assert.Empty(t, f.students.ensured)
	assert.Empty(t, f.activities.deltas)
	require.Len(t, f.events.inserted, 1)
	assert.Len(t, f.broadcaster.events, 1)
}

func TestReconcileEventAggregateUsesSessionStudent(t *testing.T) {
	f := newFixture()
	studentID := "stu-1"

	// Identity arrives first over the side channel.
	_, err := f.service.ReconcileSessionUpdate(context.Background(), session.Update{
		SessionID: "sess-1",
		StudentID: &studentID,
	})
	require.NoError(t, err)

	// Later events are anonymous but the session already knows the student.
	_, err = f.service.ReconcileEvent(context.Background(), pageView("sess-1", nil))
	require.NoError(t, err)

	// One delta for the new session, one for the page view attributed
	// through the session's student.
	require.Len(t, f.activities.deltas, 2)
	assert.Equal(t, int64(1), f.activities.deltas[0].SessionCount)
	assert.Equal(t, "stu-1", f.activities.deltas[1].StudentID)
	assert.Equal(t, int64(1), f.activities.deltas[1].PageViews)
}

func TestReconcileEventSessionKeepsFirstStudent(t *testing.T) {
	f := newFixture()
	first := "stu-1"
	second := "stu-2"

	_, err := f.service.ReconcileEvent(context.Background(), pageView("sess-1", &first))
	require.NoError(t, err)
	_, err = f.service.ReconcileEvent(context.Background(), click("sess-1", &second))
	require.NoError(t, err)

	sess := f.sessions.sessions["sess-1"]
	require.NotNil(t, sess.StudentID)
	assert.Equal(t, "stu-1", *sess.StudentID)

	// The event itself still records what the client sent.
	require.Len(t, f.events.inserted, 2)
	assert.Equal(t, "stu-2", *f.events.inserted[1].StudentID)
}

func TestReconcileEventEnsuresPiggybackedStudent(t *testing.T) {
	f := newFixture()
	studentID := "stu-1"

	// The event itself is anonymous; identity rides in on the session
	// payload.
	e := pageView("sess-1", nil)
	e.Session = &session.Update{SessionID: "sess-1", StudentID: &studentID}

	_, err := f.service.ReconcileEvent(context.Background(), e)
	require.NoError(t, err)

	// The student row must exist before the session row references it.
	assert.Contains(t, f.students.ensured, "stu-1")

	sess := f.sessions.sessions["sess-1"]
	require.NotNil(t, sess.StudentID)
	assert.Equal(t, "stu-1", *sess.StudentID)

	// Attribution flows through the session's student.
	require.Len(t, f.activities.deltas, 1)
	assert.Equal(t, "stu-1", f.activities.deltas[0].StudentID)
}

func TestReconcileEventEnsuresBothStudents(t *testing.T) {
	f := newFixture()
	eventStudent := "stu-1"
	payloadStudent := "stu-2"

	e := pageView("sess-1", &eventStudent)
	e.Session = &session.Update{SessionID: "sess-1", StudentID: &payloadStudent}

	_, err := f.service.ReconcileEvent(context.Background(), e)
	require.NoError(t, err)

	// Both ids end up referenced (session row and aggregate row), so both
	// rows must be ensured.
	assert.ElementsMatch(t, []string{"stu-1", "stu-2"}, f.students.ensured)
}

func TestConcurrentBatchesCreateStudentOnce(t *testing.T) {
	f := newFixture()
	studentID := "stu-1"

	var wg sync.WaitGroup
	results := make([]BatchResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("sess-%d", i)
			results[i] = f.service.ReconcileBatch(context.Background(), []*telemetry.Event{
				pageView(sessionID, &studentID),
				click(sessionID, &studentID),
			})
		}(i)
	}
	wg.Wait()

	for _, result := range results {
		assert.Equal(t, 2, result.Accepted)
		assert.Empty(t, result.Failures)
	}

	// Both batches saw the student as unseen; create-if-absent collapses
	// that to a single row.
	assert.Equal(t, 1, f.students.creates)
	assert.Len(t, f.events.inserted, 4)
	assert.Len(t, f.sessions.sessions, 2)
}

func TestReconcileBatchContinuesPastFailures(t *testing.T) {
	f := newFixture()
	f.events.unknownSessions["sess-orphan"] = true

	events := []*telemetry.Event{
		pageView("sess-1", nil),
		click("sess-1", nil),
		pageView("sess-orphan", nil),
		click("sess-1", nil),
		pageView("sess-2", nil),
	}

	result := f.service.ReconcileBatch(context.Background(), events)

	assert.Equal(t, 4, result.Accepted)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, 2, result.Failures[0].Index)
	require.Len(t, f.events.inserted, 4)

	// Later items of the batch were not blocked by the failed one.
	assert.Equal(t, "sess-2", f.events.inserted[3].SessionID)
}

func TestReconcileBatchPreservesArrivalOrder(t *testing.T) {
	f := newFixture()

	events := []*telemetry.Event{
		pageView("sess-1", nil),
		click("sess-1", nil),
		pageView("sess-1", nil),
	}
	result := f.service.ReconcileBatch(context.Background(), events)

	assert.Equal(t, 3, result.Accepted)
	require.Len(t, f.events.inserted, 3)
	assert.Equal(t, telemetry.EventTypePageView, f.events.inserted[0].EventType)
	assert.Equal(t, telemetry.EventTypeClick, f.events.inserted[1].EventType)
	assert.Equal(t, telemetry.EventTypePageView, f.events.inserted[2].EventType)
}

func TestReconcileSessionUpdateCreate(t *testing.T) {
	f := newFixture()
	studentID := "stu-1"
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	sess, err := f.service.ReconcileSessionUpdate(context.Background(), session.Update{
		SessionID: "sess-1",
		StudentID: &studentID,
		StartTime: &start,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"stu-1"}, f.students.ensured)
	require.NotNil(t, sess.StudentID)

	// A brand-new session with a known student counts toward the day.
	require.Len(t, f.activities.deltas, 1)
	assert.Equal(t, int64(1), f.activities.deltas[0].SessionCount)
	assert.Equal(t, activity.DayOf(start), f.activities.deltas[0].Date)

	assert.Len(t, f.broadcaster.sessions, 1)
}

func TestReconcileSessionUpdateIdentityResolution(t *testing.T) {
	f := newFixture()
	studentID := "stu-1"

	// Anonymous session exists before login.
	_, err := f.service.ReconcileEvent(context.Background(), pageView("sess-1", nil))
	require.NoError(t, err)

	sess, err := f.service.ReconcileSessionUpdate(context.Background(), session.Update{
		SessionID: "sess-1",
		StudentID: &studentID,
	})
	require.NoError(t, err)

	require.NotNil(t, sess.StudentID)
	assert.Equal(t, "stu-1", *sess.StudentID)
	// Resolving identity on an existing session is not a new session.
	assert.Empty(t, f.activities.deltas)
}

func TestReconcileSessionUpdateInvalid(t *testing.T) {
	f := newFixture()

	_, err := f.service.ReconcileSessionUpdate(context.Background(), session.Update{})
	require.ErrorIs(t, err, session.ErrInvalidSessionID)
}

func TestDuplicateDeliveryOverCountsAggregates(t *testing.T) {
	f := newFixture()
	studentID := "stu-1"

	e1 := pageView("sess-1", &studentID)
	e2 := pageView("sess-1", &studentID)

	_, err := f.service.ReconcileEvent(context.Background(), e1)
	require.NoError(t, err)
	_, err = f.service.ReconcileEvent(context.Background(), e2)
	require.NoError(t, err)

	// Redelivery produces distinct rows and a second counter bump; session
	// state stays merged.
	assert.Len(t, f.events.inserted, 2)
	assert.NotEqual(t, f.events.inserted[0].ID, f.events.inserted[1].ID)
	require.Len(t, f.activities.deltas, 2)
	assert.Equal(t, int64(1), f.activities.deltas[1].PageViews)
	assert.Len(t, f.sessions.sessions, 1)
}

package telemetry

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/telemetry-pipeline/internal/session"
)

// Event is one immutable observed user action. The id is assigned by the
// server at reconcile time and carries no deduplication semantics: a batch
// redelivered by the client produces distinct rows.
type Event struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	EventType string          `db:"event_type" json:"event_type"`
	Timestamp time.Time       `db:"occurred_at" json:"timestamp"`
	URL       string          `db:"url" json:"url"`
	Path      string          `db:"path" json:"path"`
	SessionID string          `db:"session_id" json:"session_id"`
	StudentID *string         `db:"student_id" json:"student_id,omitempty"`
	Details   json.RawMessage `db:"details" json:"details,omitempty"`

	// Session carries the optional session payload piggybacked on the
	// event by the collector. Not persisted on the event row.
	Session *session.Update `db:"-" json:"session,omitempty"`

	ReceivedAt time.Time `db:"received_at" json:"received_at"`
}

const (
	EventTypePageView   = "page_view"
	EventTypeClick      = "click"
	EventTypeFormSubmit = "form_submit"
	EventTypeMedia      = "media"
	EventTypeResource   = "resource"
)

func KnownEventType(eventType string) bool {
	switch eventType {
	case EventTypePageView, EventTypeClick, EventTypeFormSubmit, EventTypeMedia, EventTypeResource:
		return true
	}
	return false
}

func (e *Event) Validate() error {
	if !KnownEventType(e.EventType) {
		return ErrInvalidEventType
	}
	if e.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	if e.SessionID == "" {
		return ErrInvalidSessionID
	}
	return nil
}

// IsPageView decides which aggregate counter the event feeds: page views
// for page_view events, interactions for everything else.
func (e *Event) IsPageView() bool {
	return e.EventType == EventTypePageView
}

// SessionPayload returns the session update derived from this event: the
// piggybacked payload when present, otherwise a minimal create/update from
// the event's own fields.
func (e *Event) SessionPayload() session.Update {
	if e.Session != nil {
		up := *e.Session
		up.SessionID = e.SessionID
		if up.StudentID == nil {
			up.StudentID = e.StudentID
		}
		if up.StartTime == nil {
			ts := e.Timestamp
			up.StartTime = &ts
		}
		return up
	}
	ts := e.Timestamp
	return session.Update{
		SessionID: e.SessionID,
		StudentID: e.StudentID,
		StartTime: &ts,
	}
}

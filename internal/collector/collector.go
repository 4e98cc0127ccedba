package collector

import (
	"encoding/json"
	"time"

	"github.com/classpulse/telemetry-pipeline/internal/telemetry"
)

// Collector produces typed event records for one browsing context. Pure
// generation: no network I/O, no buffering; produced events go to the
// delivery queue.
type Collector struct {
	sessionID string
	studentID *string
	now       func() time.Time
}

func New(sessionID string) *Collector {
	return &Collector{
		sessionID: sessionID,
		now:       time.Now,
	}
}

// SetStudentID attaches resolved identity; events produced from here on
// carry the student id.
func (c *Collector) SetStudentID(studentID string) {
	c.studentID = &studentID
}

func (c *Collector) PageView(url, path, title string) telemetry.Event {
	return c.event(telemetry.EventTypePageView, url, path, map[string]any{
		"kind":  "page_view",
		"title": title,
	})
}

func (c *Collector) Click(url, path, element, elementID string) telemetry.Event {
	return c.event(telemetry.EventTypeClick, url, path, map[string]any{
		"kind":       "click",
		"element":    element,
		"element_id": elementID,
	})
}

func (c *Collector) FormSubmit(url, path, formID string) telemetry.Event {
	return c.event(telemetry.EventTypeFormSubmit, url, path, map[string]any{
		"kind":    "form_submit",
		"form_id": formID,
	})
}

// MediaInteraction records play/pause/seek against an embedded medium;
// position is the playhead in seconds.
func (c *Collector) MediaInteraction(url, path, mediaType, action string, position float64) telemetry.Event {
	return c.event(telemetry.EventTypeMedia, url, path, map[string]any{
		"kind":       "media",
		"media_type": mediaType,
		"action":     action,
		"position":   position,
	})
}

func (c *Collector) ResourceAccess(url, path, resourceID, resourceType string) telemetry.Event {
	return c.event(telemetry.EventTypeResource, url, path, map[string]any{
		"kind":          "resource",
		"resource_id":   resourceID,
		"resource_type": resourceType,
	})
}

func (c *Collector) event(eventType, url, path string, details map[string]any) telemetry.Event {
	return telemetry.Event{
		EventType: eventType,
		Timestamp: c.now().UTC(),
		URL:       url,
		Path:      path,
		SessionID: c.sessionID,
		StudentID: c.studentID,
		Details:   mustDetails(details),
	}
}

func mustDetails(details map[string]any) json.RawMessage {
	raw, err := json.Marshal(details)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

package reconciler

import (
	"github.com/classpulse/telemetry-pipeline/internal/session"
	"github.com/classpulse/telemetry-pipeline/internal/telemetry"
)

// Broadcaster receives reconciled updates. Implementations must not block:
// publishing is fire-and-forget relative to the ingestion response, and a
// slow or absent subscriber never holds up the pipeline.
type Broadcaster interface {
	PublishEvent(event *telemetry.Event)
	PublishSession(sess *session.Session)
}

// NopBroadcaster satisfies Broadcaster when no live fan-out is wired
// (tests, offline reprocessing).
type NopBroadcaster struct{}

func (NopBroadcaster) PublishEvent(*telemetry.Event)   {}
func (NopBroadcaster) PublishSession(*session.Session) {}

// MultiBroadcaster fans a publish out to several sinks (websocket hub,
// Kafka stream) in order.
type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) PublishEvent(event *telemetry.Event) {
	for _, b := range m {
		b.PublishEvent(event)
	}
}

func (m MultiBroadcaster) PublishSession(sess *session.Session) {
	for _, b := range m {
		b.PublishSession(sess)
	}
}

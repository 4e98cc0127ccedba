package reconciler

import (
	"context"

	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/internal/session"
	"github.com/classpulse/telemetry-pipeline/internal/telemetry"
)

// StreamProducer is the slice of the Kafka producer the stream publisher
// needs.
type StreamProducer interface {
	SendMessage(ctx context.Context, key string, value any) error
}

// StreamMessage is the envelope published to the event stream topic.
type StreamMessage struct {
	Kind    string           `json:"kind"` // "event" or "session"
	Event   *telemetry.Event `json:"event,omitempty"`
	Session *session.Session `json:"session,omitempty"`
}

// StreamPublisher pushes reconciled updates onto a Kafka topic for
// downstream consumers. Publishing is decoupled from ingestion through a
// bounded channel; when the buffer is full the update is dropped and
// logged, never blocking the reconciler.
type StreamPublisher struct {
	producer StreamProducer
	messages chan StreamMessage
	logger   *zap.Logger
}

func NewStreamPublisher(producer StreamProducer, buffer int, logger *zap.Logger) *StreamPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &StreamPublisher{
		producer: producer,
		messages: make(chan StreamMessage, buffer),
		logger:   logger,
	}
}

// Run drains the publish buffer until the context is canceled.
func (p *StreamPublisher) Run(ctx context.Context) {
	for {
		select {
		case msg := <-p.messages:
			key := p.messageKey(msg)
			if err := p.producer.SendMessage(ctx, key, msg); err != nil {
				p.logger.Error("failed to publish stream message",
					zap.Error(err),
					zap.String("kind", msg.Kind),
					zap.String("key", key),
				)
			}
		case <-ctx.Done():
			p.logger.Info("stream publisher stopped")
			return
		}
	}
}

// Updates for one session share a partition key so they stay ordered.
func (p *StreamPublisher) messageKey(msg StreamMessage) string {
	switch {
	case msg.Event != nil:
		return msg.Event.SessionID
	case msg.Session != nil:
		return msg.Session.SessionID
	}
	return ""
}

func (p *StreamPublisher) PublishEvent(event *telemetry.Event) {
	p.enqueue(StreamMessage{Kind: "event", Event: event})
}

func (p *StreamPublisher) PublishSession(sess *session.Session) {
	p.enqueue(StreamMessage{Kind: "session", Session: sess})
}

func (p *StreamPublisher) enqueue(msg StreamMessage) {
	select {
	case p.messages <- msg:
	default:
		p.logger.Warn("stream buffer full, dropping message",
			zap.String("kind", msg.Kind),
		)
	}
}

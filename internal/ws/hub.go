package ws

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/internal/session"
	"github.com/classpulse/telemetry-pipeline/internal/telemetry"
)

// Topic names. Subscribers join and leave topics explicitly; a late joiner
// only sees messages published after it joined (no replay).
const TopicEvents = "events"

func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}

func StudentTopic(studentID string) string {
	return "student:" + studentID
}

func ValidTopic(topic string) bool {
	if topic == TopicEvents {
		return true
	}
	if id, ok := strings.CutPrefix(topic, "session:"); ok {
		return id != ""
	}
	if id, ok := strings.CutPrefix(topic, "student:"); ok {
		return id != ""
	}
	return false
}

// Message types pushed to subscribers.
const (
	MessageTypeEvent   = "event"
	MessageTypeSession = "session"
	MessageTypePong    = "pong"
	MessageTypeError   = "error"
)

type Message struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type subscription struct {
	sub   *Subscriber
	topic string
}

// Hub owns all subscription state from a single run loop; registration,
// topic joins and publishes flow through channels, so no handler ever
// touches the maps concurrently. Delivery to a subscriber is a
// non-blocking send: a subscriber whose buffer is full is disconnected
// rather than allowed to stall the loop.
type Hub struct {
	register    chan *Subscriber
	unregister  chan *Subscriber
	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan Message

	topics  map[string]map[*Subscriber]struct{}
	members map[*Subscriber]map[string]struct{}

	done   chan struct{}
	buffer int
	logger *zap.Logger
}

func NewHub(subscriberBuffer int, logger *zap.Logger) *Hub {
	if subscriberBuffer <= 0 {
		subscriberBuffer = 256
	}
	return &Hub{
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan Message, 256),
		topics:      make(map[string]map[*Subscriber]struct{}),
		members:     make(map[*Subscriber]map[string]struct{}),
		done:        make(chan struct{}),
		buffer:      subscriberBuffer,
		logger:      logger,
	}
}

// Run drives the hub until the context is canceled, then closes every
// subscriber. Restarting a stopped hub is not supported; build a new one.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return ctx.Err()

		case sub := <-h.register:
			h.members[sub] = make(map[string]struct{})
			h.logger.Debug("subscriber connected",
				zap.Uint64("subscriber_id", sub.id),
				zap.Int("total", len(h.members)),
			)

		case sub := <-h.unregister:
			h.drop(sub)

		case s := <-h.subscribe:
			if _, ok := h.members[s.sub]; !ok {
				continue
			}
			if h.topics[s.topic] == nil {
				h.topics[s.topic] = make(map[*Subscriber]struct{})
			}
			h.topics[s.topic][s.sub] = struct{}{}
			h.members[s.sub][s.topic] = struct{}{}
			h.logger.Debug("subscriber joined topic",
				zap.Uint64("subscriber_id", s.sub.id),
				zap.String("topic", s.topic),
			)

		case s := <-h.unsubscribe:
			if set, ok := h.topics[s.topic]; ok {
				delete(set, s.sub)
				if len(set) == 0 {
					delete(h.topics, s.topic)
				}
			}
			if topics, ok := h.members[s.sub]; ok {
				delete(topics, s.topic)
			}

		case msg := <-h.publish:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg Message) {
	var stalled []*Subscriber

	for sub := range h.topics[msg.Topic] {
		select {
		case sub.send <- msg:
		default:
			// Buffer full: the subscriber is too slow to keep up.
			stalled = append(stalled, sub)
		}
	}

	for _, sub := range stalled {
		h.logger.Warn("dropping slow subscriber",
			zap.Uint64("subscriber_id", sub.id),
			zap.String("topic", msg.Topic),
		)
		h.drop(sub)
	}
}

func (h *Hub) drop(sub *Subscriber) {
	topics, ok := h.members[sub]
	if !ok {
		return
	}
	for topic := range topics {
		if set, ok := h.topics[topic]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	delete(h.members, sub)
	close(sub.send)
	h.logger.Debug("subscriber disconnected",
		zap.Uint64("subscriber_id", sub.id),
		zap.Int("total", len(h.members)),
	)
}

func (h *Hub) closeAll() {
	count := len(h.members)
	for sub := range h.members {
		close(sub.send)
	}
	h.topics = make(map[string]map[*Subscriber]struct{})
	h.members = make(map[*Subscriber]map[string]struct{})
	h.logger.Info("websocket hub stopped", zap.Int("subscribers_closed", count))
}

// Register announces a subscriber to the hub. Must be paired with
// Unregister when the connection goes away. After shutdown the
// subscriber's channel is closed immediately instead of registering.
func (h *Hub) Register(sub *Subscriber) {
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.send)
	}
}

func (h *Hub) Unregister(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

func (h *Hub) Subscribe(sub *Subscriber, topic string) {
	select {
	case h.subscribe <- subscription{sub: sub, topic: topic}:
	case <-h.done:
	}
}

func (h *Hub) Unsubscribe(sub *Subscriber, topic string) {
	select {
	case h.unsubscribe <- subscription{sub: sub, topic: topic}:
	case <-h.done:
	}
}

// Publish enqueues a message for fan-out. Non-blocking: when the hub's
// buffer is full the message is dropped, never stalling the caller.
func (h *Hub) Publish(msg Message) {
	select {
	case h.publish <- msg:
	default:
		h.logger.Warn("publish buffer full, dropping message",
			zap.String("topic", msg.Topic),
			zap.String("type", msg.Type),
		)
	}
}

// PublishEvent fans a reconciled event out to the global stream and to the
// per-session and per-student topics. Implements reconciler.Broadcaster.
func (h *Hub) PublishEvent(event *telemetry.Event) {
	h.Publish(Message{Type: MessageTypeEvent, Topic: TopicEvents, Data: event})
	h.Publish(Message{Type: MessageTypeEvent, Topic: SessionTopic(event.SessionID), Data: event})
	if event.StudentID != nil {
		h.Publish(Message{Type: MessageTypeEvent, Topic: StudentTopic(*event.StudentID), Data: event})
	}
}

func (h *Hub) PublishSession(sess *session.Session) {
	h.Publish(Message{Type: MessageTypeSession, Topic: TopicEvents, Data: sess})
	h.Publish(Message{Type: MessageTypeSession, Topic: SessionTopic(sess.SessionID), Data: sess})
	if sess.StudentID != nil {
		h.Publish(Message{Type: MessageTypeSession, Topic: StudentTopic(*sess.StudentID), Data: sess})
	}
}

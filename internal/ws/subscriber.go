package ws

import "sync/atomic"

var subscriberIDCounter atomic.Uint64

// Subscriber is one fan-out endpoint: a buffered outbound channel owned by
// the hub. The websocket layer wraps it; tests can consume it directly.
type Subscriber struct {
	id   uint64
	send chan Message
}

func NewSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 256
	}
	return &Subscriber{
		id:   subscriberIDCounter.Add(1),
		send: make(chan Message, buffer),
	}
}

func (s *Subscriber) ID() uint64 {
	return s.id
}

// Out is the subscriber's message stream. The channel is closed by the hub
// when the subscriber is dropped or the hub shuts down.
func (s *Subscriber) Out() <-chan Message {
	return s.send
}

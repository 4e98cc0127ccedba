package telemetry

import "errors"

var (
	ErrInvalidEventType = errors.New("invalid event type")

	ErrInvalidTimestamp = errors.New("invalid timestamp")

	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrSessionNotFound marks a referential failure: the event points at
	// a session row that does not exist at persist time. Retryable; the
	// reconciler drops the single event and continues the batch.
	ErrSessionNotFound = errors.New("referenced session not found")

	ErrEventNotFound = errors.New("event not found")
)

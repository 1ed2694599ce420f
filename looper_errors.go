package looper

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by inserts after Shutdown.
	ErrClosed = errors.New("looper: scheduler closed")

	// ErrBarrierNotFound is returned when a token names no queued barrier.
	ErrBarrierNotFound = errors.New("looper: barrier not found")

	// ErrNoSink is returned by Start when no sink has been set.
	ErrNoSink = errors.New("looper: no sink")

	ErrAlreadyStarted = errors.New("looper: already started")

	// ErrShutdownTimeout is returned when the loop did not stop within the
	// time given to Shutdown.
	ErrShutdownTimeout = errors.New("looper: shutdown timeout")

	ErrInvalidObserver = errors.New("looper: invalid observer")
)

// DeliveryError wraps a failure raised by the sink while delivering Message.
// Panic holds the recovered value when the sink panicked.
type DeliveryError struct {
	Message Message
	Err     error
	Panic   any
}

func (e *DeliveryError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("looper: deliver message %d: panic: %v", e.Message.ID, e.Panic)
	}
	return fmt.Sprintf("looper: deliver message %d: %v", e.Message.ID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

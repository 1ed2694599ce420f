package looper

import (
	"context"
	"time"
)

// ============================================================================
// Core types
// ============================================================================

// Token identifies a posted synchronization barrier.
type Token uint64

// Message is a unit of scheduled work. It is copied into the queue on insertion
// and never changes afterwards; the loop and the sink only see copies.
type Message struct {
	ID      uint64
	When    time.Time
	Async   bool
	Barrier bool
	Payload any
}

// Token returns the barrier token for barrier messages and zero otherwise.
func (m Message) Token() Token {
	if !m.Barrier {
		return 0
	}
	return Token(m.ID)
}

// less orders messages by due time, then by id.
func (m *Message) less(other *Message) bool {
	if m.When.Equal(other.When) {
		return m.ID < other.ID
	}
	return m.When.Before(other.When)
}

// Sink receives delivered messages, one at a time, on the loop goroutine.
type Sink interface {
	Deliver(ctx context.Context, m Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, m Message) error

func (f SinkFunc) Deliver(ctx context.Context, m Message) error { return f(ctx, m) }

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// State is the scheduler loop's position in its state machine.
type State int32

const (
	StateIdle State = iota
	StateAwaitingDueTime
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingDueTime:
		return "awaiting"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ============================================================================
// Observer types
// ============================================================================

// EventKind classifies scheduler events published to observers.
type EventKind uint8

const (
	// EventAny subscribes to every kind.
	EventAny EventKind = iota
	EventEnqueued
	EventBarrierPosted
	EventBarrierRemoved
	EventDelivered
	EventDeliveryFailed
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventAny:
		return "*"
	case EventEnqueued:
		return "enqueued"
	case EventBarrierPosted:
		return "barrier-posted"
	case EventBarrierRemoved:
		return "barrier-removed"
	case EventDelivered:
		return "delivered"
	case EventDeliveryFailed:
		return "delivery-failed"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event describes something that happened to the queue.
// Duration is set for deliveries, Dropped for EventStopped.
type Event struct {
	Kind     EventKind
	Message  Message
	Err      error
	Duration time.Duration
	Dropped  int
	At       time.Time
}

type Observer interface {
	OnEvent(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// EventFilter reports whether an observer wants ev.
type EventFilter func(ev Event) bool

// SubscribeOptions 订阅选项
type SubscribeOptions struct {
	Filter   EventFilter
	Priority int // higher runs first
}

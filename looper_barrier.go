package looper

import (
	"fmt"
	"time"
)

// PostBarrier inserts a synchronization barrier due now. While it sits at the
// head of the queue only async messages behind it are delivered.
func (s *Scheduler) PostBarrier() (Token, error) {
	m, err := s.queue.insert(Message{When: time.Now(), Barrier: true})
	if err != nil {
		return 0, err
	}
	s.totalBarriers.Add(1)
	s.publish(Event{Kind: EventBarrierPosted, Message: m, At: time.Now()})
	return m.Token(), nil
}

// RemoveBarrier removes the barrier named by t, whether or not it is
// currently blocking anything.
func (s *Scheduler) RemoveBarrier(t Token) error {
	m, err := s.queue.removeBarrier(t)
	if err != nil {
		return fmt.Errorf("remove barrier %d: %w", t, err)
	}
	s.publish(Event{Kind: EventBarrierRemoved, Message: m, At: time.Now()})
	return nil
}

// Barriers returns the tokens of queued barriers in queue order. Only the
// first one engages skip mode, once it reaches the head.
func (s *Scheduler) Barriers() []Token {
	return s.queue.barriers()
}

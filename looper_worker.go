package looper

import (
	"context"
	"errors"
	"time"
)

// dispatch hands m to the sink. Failures stay here: they are logged, counted
// and published, and the loop moves on.
func (s *Scheduler) dispatch(m Message) {
	// Shutdown may land between take and here
	if s.queue.isClosed() {
		s.totalDropped.Add(1)
		s.logger.Infof("%s: dropped message %d taken before shutdown", s.name, m.ID)
		return
	}

	start := time.Now()
	err := s.deliver(m)
	dur := time.Since(start)

	s.totalDuration.Add(uint64(dur.Nanoseconds()))
	s.lastDeliveredAt.Store(time.Now().UnixNano())

	if s.slowDeliveryThreshold > 0 && dur > s.slowDeliveryThreshold {
		if s.slowDeliveryCallback != nil {
			s.slowDeliveryCallback(m, dur, s.slowDeliveryThreshold)
		} else {
			s.logger.Warnf("slow delivery: id=%d, async=%t, dur=%v, th=%v",
				m.ID, m.Async, dur, s.slowDeliveryThreshold)
		}
	}

	if err != nil {
		s.totalFailed.Add(1)
		s.failureLog.Do(func() {
			s.logger.Errorf("%s: %v", s.name, err)
		})
		s.publish(Event{Kind: EventDeliveryFailed, Message: m, Err: err, Duration: dur, At: time.Now()})
		return
	}

	s.totalDelivered.Add(1)
	s.publish(Event{Kind: EventDelivered, Message: m, Duration: dur, At: time.Now()})
}

func (s *Scheduler) deliver(m Message) (err error) {
	sink := s.loadSink()
	if sink == nil {
		return &DeliveryError{Message: m, Err: ErrNoSink}
	}

	ctx := s.ctx
	if s.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deliveryTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			perr, _ := r.(error)
			if perr == nil {
				perr = errors.New("sink panicked")
			}
			err = &DeliveryError{Message: m, Err: perr, Panic: r}
		}
	}()

	if derr := sink.Deliver(ctx, m); derr != nil {
		return &DeliveryError{Message: m, Err: derr}
	}
	return nil
}

package looper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ============================================================================
// Scheduler
// ============================================================================

// Scheduler owns a message queue and the single goroutine that drains it.
type Scheduler struct {
	name  string
	queue *messageQueue
	sink  atomic.Pointer[sinkHolder]
	obs   *observerHub

	ctx    context.Context
	cancel context.CancelFunc

	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}

	logger     Logger
	failureLog rate.Sometimes
	summarize  func(any) string

	deliveryTimeout       time.Duration
	slowDeliveryThreshold time.Duration
	slowDeliveryCallback  func(m Message, dur, threshold time.Duration)

	totalEnqueued   atomic.Uint64
	totalBarriers   atomic.Uint64
	totalDelivered  atomic.Uint64
	totalFailed     atomic.Uint64
	totalDropped    atomic.Uint64
	totalDuration   atomic.Uint64 // 纳秒
	lastDeliveredAt atomic.Int64
}

type sinkHolder struct{ sink Sink }

type Option func(*Scheduler)

func WithName(name string) Option { return func(s *Scheduler) { s.name = name } }
func WithLogger(l Logger) Option   { return func(s *Scheduler) { s.logger = l } }
func WithSink(sink Sink) Option    { return func(s *Scheduler) { s.SetSink(sink) } }

// WithDeliveryTimeout bounds the context handed to each Deliver call.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.deliveryTimeout = d }
}

// WithSlowDeliveryThreshold reports deliveries slower than th to cb, or to the
// logger when cb is nil.
func WithSlowDeliveryThreshold(th time.Duration, cb func(m Message, dur, threshold time.Duration)) Option {
	return func(s *Scheduler) { s.slowDeliveryThreshold = th; s.slowDeliveryCallback = cb }
}

// WithSummarizer sets how payloads are rendered in snapshots.
func WithSummarizer(f func(payload any) string) Option {
	return func(s *Scheduler) { s.summarize = f }
}

// WithFailureLogSampling logs the first n delivery failures and then at most
// one per interval.
func WithFailureLogSampling(first int, interval time.Duration) Option {
	return func(s *Scheduler) { s.failureLog = rate.Sometimes{First: first, Interval: interval} }
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		name:       "looper",
		queue:      newMessageQueue(),
		obs:        newObserverHub(),
		done:       make(chan struct{}),
		failureLog: rate.Sometimes{First: 5, Interval: time.Second},
		summarize:  defaultSummary,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = defaultLogger()
	}
	if s.summarize == nil {
		s.summarize = defaultSummary
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// SetSink installs the single active sink. It takes effect from the next
// delivery; a nil sink makes deliveries fail with ErrNoSink.
func (s *Scheduler) SetSink(sink Sink) {
	if sink == nil {
		s.sink.Store(nil)
		return
	}
	s.sink.Store(&sinkHolder{sink: sink})
}

func (s *Scheduler) loadSink() Sink {
	if h := s.sink.Load(); h != nil {
		return h.sink
	}
	return nil
}

// ============================================================================
// 启动 / 停止
// ============================================================================

// Start launches the loop goroutine.
func (s *Scheduler) Start() error {
	if s.queue.isClosed() {
		return ErrClosed
	}
	if s.loadSink() == nil {
		return ErrNoSink
	}
	if !s.started.CompareAndSwap(false, true) {
		if s.queue.isClosed() {
			return ErrClosed
		}
		return ErrAlreadyStarted
	}

	go s.run()
	s.logger.Infof("%s started", s.name)
	return nil
}

// Shutdown stops the loop and drops pending messages. It is safe to call more
// than once. With a positive timeout it waits for an in-flight delivery to
// return; calling it from inside Deliver with a timeout therefore always
// reports ErrShutdownTimeout.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.stopOnce.Do(func() {
		dropped := s.queue.close()
		s.totalDropped.Add(uint64(dropped))
		s.cancel()
		if s.started.CompareAndSwap(false, true) {
			// never started: nothing will close done
			close(s.done)
		}
		s.logger.Infof("%s stopping, dropped %d pending messages", s.name, dropped)
		s.publish(Event{Kind: EventStopped, Dropped: dropped, At: time.Now()})
	})

	if timeout <= 0 {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%s: %w after %v", s.name, ErrShutdownTimeout, timeout)
	}
}

// Done is closed once the loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) State() State {
	return s.queue.loopState()
}

// Len reports the number of queued entries, barriers included.
func (s *Scheduler) Len() int {
	return s.queue.len()
}

// ============================================================================
// 消息提交
// ============================================================================

// Enqueue schedules payload for delivery after delay. A negative delay is
// treated as zero.
func (s *Scheduler) Enqueue(payload any, delay time.Duration, async bool) (uint64, error) {
	if delay < 0 {
		delay = 0
	}
	return s.EnqueueAt(payload, time.Now().Add(delay), async)
}

// EnqueueAt schedules payload for delivery at when. Times in the past are
// kept as given, so such a message may be ordered ahead of a barrier.
func (s *Scheduler) EnqueueAt(payload any, when time.Time, async bool) (uint64, error) {
	m, err := s.queue.insert(Message{When: when, Async: async, Payload: payload})
	if err != nil {
		return 0, err
	}
	s.totalEnqueued.Add(1)
	s.publish(Event{Kind: EventEnqueued, Message: m, At: time.Now()})
	return m.ID, nil
}

// Remove cancels the pending entry with id. Barriers may be removed this way
// too, though RemoveBarrier reports a missing token more precisely.
func (s *Scheduler) Remove(id uint64) bool {
	m, ok := s.queue.remove(id)
	if ok && m.Barrier {
		s.publish(Event{Kind: EventBarrierRemoved, Message: m, At: time.Now()})
	}
	return ok
}

// RemoveFunc cancels every pending non-barrier message for which pred is true.
func (s *Scheduler) RemoveFunc(pred func(Message) bool) int {
	return s.queue.removeFunc(pred)
}

// Clear drops every pending entry, barriers included, without stopping the loop.
func (s *Scheduler) Clear() int {
	n := s.queue.clear()
	if n > 0 {
		s.logger.Infof("%s cleared %d pending entries", s.name, n)
	}
	return n
}

// ============================================================================
// Loop
// ============================================================================

func (s *Scheduler) run() {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		m, deadline, res := s.queue.take(time.Now())
		switch res {
		case takeStopped:
			s.logger.Infof("%s stopped", s.name)
			return
		case takeReady:
			s.dispatch(m)
			continue
		}

		if !deadline.IsZero() {
			timer.Reset(time.Until(deadline))
		}
		select {
		case <-s.queue.wake:
		case <-timer.C:
		case <-s.ctx.Done():
		}
		timer.Stop()
	}
}

package looper

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

type subscription struct {
	name     string
	priority int
	filter   EventFilter
	observer Observer
}

type kindSubscribers struct {
	mu          sync.RWMutex
	subscribers []*subscription // 按优先级排序
}

type observerHub struct {
	kinds sync.Map // map[EventKind]*kindSubscribers
}

func newObserverHub() *observerHub {
	return &observerHub{}
}

func (h *observerHub) subscribe(kind EventKind, sub *subscription) {
	val, _ := h.kinds.LoadOrStore(kind, &kindSubscribers{
		subscribers: make([]*subscription, 0),
	})

	ks := val.(*kindSubscribers)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	// drop an older subscription under the same name, then insert by priority
	for i, existing := range ks.subscribers {
		if existing.name == sub.name {
			ks.subscribers = append(ks.subscribers[:i], ks.subscribers[i+1:]...)
			break
		}
	}

	inserted := false
	for i, existing := range ks.subscribers {
		if sub.priority > existing.priority {
			ks.subscribers = append(ks.subscribers[:i], append([]*subscription{sub}, ks.subscribers[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		ks.subscribers = append(ks.subscribers, sub)
	}
}

func (h *observerHub) unsubscribe(kind EventKind, name string) bool {
	val, ok := h.kinds.Load(kind)
	if !ok {
		return false
	}

	ks := val.(*kindSubscribers)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	for i, sub := range ks.subscribers {
		if sub.name == name {
			ks.subscribers = append(ks.subscribers[:i], ks.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

func (h *observerHub) getSubscribers(kind EventKind) []*subscription {
	val, ok := h.kinds.Load(kind)
	if !ok {
		return nil
	}

	ks := val.(*kindSubscribers)
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	result := make([]*subscription, len(ks.subscribers))
	copy(result, ks.subscribers)
	return result
}

// publish notifies the subscribers of ev.Kind, then the EventAny ones.
func (h *observerHub) publish(ev Event) error {
	subs := h.getSubscribers(ev.Kind)
	if ev.Kind != EventAny {
		subs = append(subs, h.getSubscribers(EventAny)...)
	}

	var errs error
	for _, sub := range subs {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		errs = multierr.Append(errs, notify(sub, ev))
	}
	return errs
}

func notify(sub *subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer %s panicked on %s: %v", sub.name, ev.Kind, r)
		}
	}()
	sub.observer.OnEvent(ev)
	return nil
}

// ============================================================================
// Scheduler API
// ============================================================================

// Subscribe registers o for events of kind under name. Subscribing again with
// the same name replaces the earlier registration. Observers run synchronously
// on the goroutine that caused the event, delivery events on the loop itself,
// so they must not block.
func (s *Scheduler) Subscribe(kind EventKind, name string, o Observer, opts *SubscribeOptions) error {
	if name == "" || o == nil {
		return ErrInvalidObserver
	}
	if opts == nil {
		opts = &SubscribeOptions{}
	}

	s.obs.subscribe(kind, &subscription{
		name:     name,
		priority: opts.Priority,
		filter:   opts.Filter,
		observer: o,
	})
	return nil
}

func (s *Scheduler) Unsubscribe(kind EventKind, name string) bool {
	return s.obs.unsubscribe(kind, name)
}

// SubscriberStats returns the number of observers per event kind.
func (s *Scheduler) SubscriberStats() map[EventKind]int {
	stats := make(map[EventKind]int)
	s.obs.kinds.Range(func(key, val any) bool {
		kind := key.(EventKind)
		ks := val.(*kindSubscribers)
		ks.mu.RLock()
		stats[kind] = len(ks.subscribers)
		ks.mu.RUnlock()
		return true
	})
	return stats
}

func (s *Scheduler) publish(ev Event) {
	if err := s.obs.publish(ev); err != nil {
		for _, e := range multierr.Errors(err) {
			s.logger.Warnf("%s: %v", s.name, e)
		}
	}
}

package looper

import (
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

type takeResult uint8

const (
	takeReady takeResult = iota
	takeWait
	takeStopped
)

// messageQueue keeps pending messages ordered by (When, ID).
//
// Producers insert from any goroutine; only the loop takes. The loop's wait
// state lives here, under the same lock, so an insert can decide whether the
// loop has to re-evaluate before its current deadline.
type messageQueue struct {
	mu     sync.Mutex
	items  deque.Deque[*Message]
	nextID uint64
	closed bool

	state     State
	waitUntil time.Time

	wake chan struct{}
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		state: StateIdle,
		wake:  make(chan struct{}, 1),
	}
}

// insert assigns the next id to m and places it in order.
func (q *messageQueue) insert(m Message) (Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Message{}, ErrClosed
	}

	q.nextID++
	m.ID = q.nextID
	if m.Barrier {
		m.Async = false
		m.Payload = nil
	}

	msg := &m
	q.items.Insert(q.search(msg), msg)

	if q.wakeNeededLocked(msg) {
		q.signal()
	}
	return m, nil
}

// search returns the index before which m belongs.
func (q *messageQueue) search(m *Message) int {
	n := q.items.Len()
	if n == 0 || !m.less(q.items.Back()) {
		return n
	}
	return sort.Search(n, func(i int) bool {
		return m.less(q.items.At(i))
	})
}

func (q *messageQueue) wakeNeededLocked(m *Message) bool {
	switch q.state {
	case StateIdle:
		return true
	case StateAwaitingDueTime:
		return m.When.Before(q.waitUntil)
	default:
		// dispatching: the loop rescans once the sink returns
		return false
	}
}

func (q *messageQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *messageQueue) indexOf(id uint64) int {
	return q.items.Index(func(m *Message) bool { return m.ID == id })
}

// remove drops the message with id, barrier or not.
func (q *messageQueue) remove(id uint64) (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return Message{}, false
	}
	m := q.items.Remove(i)
	if m.Barrier {
		q.signal()
	}
	return *m, true
}

func (q *messageQueue) removeBarrier(t Token) (Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(uint64(t))
	if i < 0 || !q.items.At(i).Barrier {
		return Message{}, ErrBarrierNotFound
	}
	m := q.items.Remove(i)
	q.signal()
	return *m, nil
}

// removeFunc drops every non-barrier message matching pred.
func (q *messageQueue) removeFunc(pred func(Message) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for i := q.items.Len() - 1; i >= 0; i-- {
		m := q.items.At(i)
		if m.Barrier || !pred(*m) {
			continue
		}
		q.items.Remove(i)
		removed++
	}
	return removed
}

func (q *messageQueue) copyAll() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Message, q.items.Len())
	for i := range out {
		out[i] = *q.items.At(i)
	}
	return out
}

// all yields the pending messages in delivery order. The entries are copied
// when iteration starts; ranging again takes a fresh copy.
func (q *messageQueue) all() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for _, m := range q.copyAll() {
			if !yield(m) {
				return
			}
		}
	}
}

func (q *messageQueue) barriers() []Token {
	q.mu.Lock()
	defer q.mu.Unlock()

	var tokens []Token
	for i := 0; i < q.items.Len(); i++ {
		if m := q.items.At(i); m.Barrier {
			tokens = append(tokens, m.Token())
		}
	}
	return tokens
}

func (q *messageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *messageQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Len()
	q.items.Clear()
	q.signal()
	return n
}

// close rejects further inserts and drops what is pending.
func (q *messageQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	n := q.items.Len()
	q.items.Clear()
	q.state = StateStopped
	q.waitUntil = time.Time{}
	q.signal()
	return n
}

func (q *messageQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *messageQueue) loopState() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// take removes and returns the next deliverable message. When nothing can be
// delivered it records the wait state and returns the deadline to wait for;
// a zero deadline means wait for the next structural change.
func (q *messageQueue) take(now time.Time) (Message, time.Time, takeResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.state = StateStopped
		return Message{}, time.Time{}, takeStopped
	}

	i, deadline := q.selectLocked(now)
	if i >= 0 {
		m := q.items.Remove(i)
		q.state = StateDispatching
		q.waitUntil = time.Time{}
		return *m, time.Time{}, takeReady
	}

	if deadline.IsZero() {
		q.state = StateIdle
	} else {
		q.state = StateAwaitingDueTime
	}
	q.waitUntil = deadline
	return Message{}, deadline, takeWait
}

// nextDue reports the due time of the message the loop will deliver next,
// or zero when nothing is eligible.
func (q *messageQueue) nextDue(now time.Time) time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, deadline := q.selectLocked(now)
	if i >= 0 {
		return q.items.At(i).When
	}
	return deadline
}

// selectLocked picks the index of the next deliverable message, or -1 and the
// time the next candidate becomes due.
//
// A plain head is delivered once due. A barrier head switches to skip mode:
// only async messages behind it are candidates, and the first of them decides.
func (q *messageQueue) selectLocked(now time.Time) (int, time.Time) {
	n := q.items.Len()
	if n == 0 {
		return -1, time.Time{}
	}

	head := q.items.At(0)
	if !head.Barrier {
		if head.When.After(now) {
			return -1, head.When
		}
		return 0, time.Time{}
	}

	for i := 1; i < n; i++ {
		m := q.items.At(i)
		if m.Barrier || !m.Async {
			continue
		}
		if m.When.After(now) {
			return -1, m.When
		}
		return i, time.Time{}
	}
	return -1, time.Time{}
}

package looper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustInsert(t *testing.T, q *messageQueue, m Message) Message {
	t.Helper()
	out, err := q.insert(m)
	require.NoError(t, err)
	return out
}

func ids(q *messageQueue) []uint64 {
	var out []uint64
	for m := range q.all() {
		out = append(out, m.ID)
	}
	return out
}

func TestMessageQueue_InsertOrdersByDueTimeThenID(t *testing.T) {
	q := newMessageQueue()
	now := time.Now()

	a := mustInsert(t, q, Message{When: now.Add(3 * time.Second)})
	b := mustInsert(t, q, Message{When: now.Add(time.Second)})
	c := mustInsert(t, q, Message{When: now.Add(2 * time.Second)})
	d := mustInsert(t, q, Message{When: now.Add(time.Second)})
	e := mustInsert(t, q, Message{When: now})

	assert.Equal(t, []uint64{e.ID, b.ID, d.ID, c.ID, a.ID}, ids(q))
}

func TestMessageQueue_IDsAreMonotonic(t *testing.T) {
	q := newMessageQueue()
	now := time.Now()

	var last uint64
	for i := 0; i < 10; i++ {
		m := mustInsert(t, q, Message{When: now})
		assert.Greater(t, m.ID, last)
		last = m.ID
	}

	q.clear()
	m := mustInsert(t, q, Message{When: now})
	assert.Greater(t, m.ID, last, "ids are not reused after clear")
}

func TestMessageQueue_BarrierDropsPayloadAndAsync(t *testing.T) {
	q := newMessageQueue()

	m := mustInsert(t, q, Message{When: time.Now(), Barrier: true, Async: true, Payload: "x"})

	assert.False(t, m.Async)
	assert.Nil(t, m.Payload)
	assert.Equal(t, Token(m.ID), m.Token())
}

func TestMessageQueue_Remove(t *testing.T) {
	q := newMessageQueue()
	m := mustInsert(t, q, Message{When: time.Now()})

	_, ok := q.remove(m.ID + 100)
	assert.False(t, ok)

	got, ok := q.remove(m.ID)
	require.True(t, ok)
	assert.Equal(t, m.ID, got.ID)

	_, ok = q.remove(m.ID)
	assert.False(t, ok)
	assert.Zero(t, q.len())
}

func TestMessageQueue_RemoveBarrier(t *testing.T) {
	q := newMessageQueue()
	plain := mustInsert(t, q, Message{When: time.Now()})
	barrier := mustInsert(t, q, Message{When: time.Now(), Barrier: true})

	_, err := q.removeBarrier(Token(plain.ID))
	assert.ErrorIs(t, err, ErrBarrierNotFound, "a plain message id is not a token")

	_, err = q.removeBarrier(barrier.Token())
	require.NoError(t, err)

	_, err = q.removeBarrier(barrier.Token())
	assert.ErrorIs(t, err, ErrBarrierNotFound)
	assert.Empty(t, q.barriers())
}

func TestMessageQueue_RemoveFuncKeepsBarriers(t *testing.T) {
	q := newMessageQueue()
	now := time.Now()
	mustInsert(t, q, Message{When: now, Payload: "drop"})
	keep := mustInsert(t, q, Message{When: now, Payload: "keep"})
	barrier := mustInsert(t, q, Message{When: now, Barrier: true})
	mustInsert(t, q, Message{When: now, Payload: "drop", Async: true})

	n := q.removeFunc(func(m Message) bool { return m.Payload != "keep" })

	assert.Equal(t, 2, n)
	assert.Equal(t, []uint64{keep.ID, barrier.ID}, ids(q))
}

func TestMessageQueue_AllIsPointInTime(t *testing.T) {
	q := newMessageQueue()
	now := time.Now()
	first := mustInsert(t, q, Message{When: now})
	mustInsert(t, q, Message{When: now.Add(time.Second)})

	var seen []uint64
	for m := range q.all() {
		seen = append(seen, m.ID)
		if m.ID == first.ID {
			mustInsert(t, q, Message{When: now.Add(2 * time.Second)})
		}
	}

	assert.Len(t, seen, 2)
	assert.Len(t, ids(q), 3)
}

func TestMessageQueue_Select(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Millisecond)
	future := now.Add(time.Second)

	cases := []struct {
		name     string
		msgs     []Message
		wantIdx  int
		deadline time.Time
	}{
		{
			name:    "empty",
			wantIdx: -1,
		},
		{
			name:    "plain head due",
			msgs:    []Message{{When: past}, {When: past, Async: true}},
			wantIdx: 0,
		},
		{
			name:     "plain head not due",
			msgs:     []Message{{When: future}},
			wantIdx:  -1,
			deadline: future,
		},
		{
			name:    "plain head ahead of barrier",
			msgs:    []Message{{When: past}, {When: now, Barrier: true}},
			wantIdx: 0,
		},
		{
			name:    "barrier skips sync to due async",
			msgs:    []Message{{When: past, Barrier: true}, {When: now}, {When: now, Async: true}},
			wantIdx: 2,
		},
		{
			name:     "barrier with async not yet due",
			msgs:     []Message{{When: past, Barrier: true}, {When: now}, {When: future, Async: true}},
			wantIdx:  -1,
			deadline: future,
		},
		{
			name:    "barrier without async",
			msgs:    []Message{{When: past, Barrier: true}, {When: now}},
			wantIdx: -1,
		},
		{
			name:    "async behind a second barrier",
			msgs:    []Message{{When: past, Barrier: true}, {When: past, Barrier: true}, {When: now, Async: true}},
			wantIdx: 2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := newMessageQueue()
			for _, m := range tc.msgs {
				mustInsert(t, q, m)
			}

			q.mu.Lock()
			idx, deadline := q.selectLocked(now)
			q.mu.Unlock()

			assert.Equal(t, tc.wantIdx, idx)
			assert.True(t, tc.deadline.Equal(deadline), "deadline %v, want %v", deadline, tc.deadline)
		})
	}
}

func TestMessageQueue_TakeRecordsWaitState(t *testing.T) {
	q := newMessageQueue()
	now := time.Now()

	_, _, res := q.take(now)
	assert.Equal(t, takeWait, res)
	assert.Equal(t, StateIdle, q.loopState())

	due := now.Add(time.Second)
	mustInsert(t, q, Message{When: due})
	_, deadline, res := q.take(now)
	assert.Equal(t, takeWait, res)
	assert.True(t, deadline.Equal(due))
	assert.Equal(t, StateAwaitingDueTime, q.loopState())

	m, _, res := q.take(due)
	assert.Equal(t, takeReady, res)
	assert.True(t, m.When.Equal(due))
	assert.Equal(t, StateDispatching, q.loopState())
	assert.Zero(t, q.len())
}

func TestMessageQueue_WakeSignals(t *testing.T) {
	drain := func(q *messageQueue) bool {
		select {
		case <-q.wake:
			return true
		default:
			return false
		}
	}

	q := newMessageQueue()
	now := time.Now()

	mustInsert(t, q, Message{When: now.Add(time.Second)})
	assert.True(t, drain(q), "idle loop is woken by an insert")

	q.take(now)
	require.Equal(t, StateAwaitingDueTime, q.loopState())

	mustInsert(t, q, Message{When: now.Add(2 * time.Second)})
	assert.False(t, drain(q), "a later message does not move the deadline")

	mustInsert(t, q, Message{When: now.Add(time.Millisecond)})
	assert.True(t, drain(q), "an earlier message does")

	b := mustInsert(t, q, Message{When: now, Barrier: true})
	drain(q)
	_, err := q.removeBarrier(b.Token())
	require.NoError(t, err)
	assert.True(t, drain(q), "barrier removal always wakes")
}

func TestMessageQueue_Close(t *testing.T) {
	q := newMessageQueue()
	mustInsert(t, q, Message{When: time.Now()})
	mustInsert(t, q, Message{When: time.Now(), Barrier: true})

	assert.Equal(t, 2, q.close())
	assert.Zero(t, q.close())
	assert.Equal(t, StateStopped, q.loopState())

	_, err := q.insert(Message{When: time.Now()})
	assert.ErrorIs(t, err, ErrClosed)

	_, _, res := q.take(time.Now())
	assert.Equal(t, takeStopped, res)
}

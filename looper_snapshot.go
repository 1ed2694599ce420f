package looper

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const maxSummaryLen = 64

// Entry is the read-only view of a pending message.
type Entry struct {
	ID      uint64    `json:"id"`
	When    time.Time `json:"when"`
	Async   bool      `json:"async"`
	Barrier bool      `json:"barrier"`
	Summary string    `json:"summary,omitempty"`
}

// Describe renders m the way snapshots do.
func (s *Scheduler) Describe(m Message) Entry {
	e := Entry{
		ID:      m.ID,
		When:    m.When,
		Async:   m.Async,
		Barrier: m.Barrier,
	}
	if !m.Barrier && m.Payload != nil {
		e.Summary = s.summarize(m.Payload)
	}
	return e
}

// All yields pending entries in delivery order as of the start of iteration.
// The queue lock is held only while entries are copied.
func (s *Scheduler) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for m := range s.queue.all() {
			if !yield(s.Describe(m)) {
				return
			}
		}
	}
}

func (s *Scheduler) Snapshot() []Entry {
	return slices.Collect(s.All())
}

// Format renders e on one line relative to now, e.g.
//
//	{ when=-12ms id=3 async obj=tick }
//	{ when=-3ms sync barrier 4 }
func (e Entry) Format(now time.Time) string {
	var b strings.Builder
	b.WriteString("{ when=")
	b.WriteString(e.When.Sub(now).Round(time.Millisecond).String())
	if e.Barrier {
		fmt.Fprintf(&b, " sync barrier %d }", e.ID)
		return b.String()
	}
	fmt.Fprintf(&b, " id=%d", e.ID)
	if e.Async {
		b.WriteString(" async")
	}
	if e.Summary != "" {
		b.WriteString(" obj=")
		b.WriteString(e.Summary)
	}
	b.WriteString(" }")
	return b.String()
}

func defaultSummary(payload any) string {
	var s string
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		s = v
	case []byte:
		s = string(v)
	case fmt.Stringer:
		s = v.String()
	case error:
		s = v.Error()
	default:
		s = fmt.Sprintf("%v", v)
	}
	if utf8.RuneCountInString(s) <= maxSummaryLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxSummaryLen-1]) + "…"
}

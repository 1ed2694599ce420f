package looper

import "time"

type Metrics struct {
	State               State         `json:"state"`
	Pending             int           `json:"pending"`
	ActiveBarriers      int           `json:"active_barriers"`
	TotalEnqueued       uint64        `json:"total_enqueued"`
	TotalBarriers       uint64        `json:"total_barriers"`
	TotalDelivered      uint64        `json:"total_delivered"`
	TotalFailed         uint64        `json:"total_failed"`
	TotalDropped        uint64        `json:"total_dropped"`
	AvgDeliveryDuration time.Duration `json:"avg_delivery_duration"`
	LastDeliveredAt     time.Time     `json:"last_delivered_at,omitzero"`
	Queue               *QueueMetrics `json:"queue,omitempty"`
}

// QueueMetrics breaks the pending entries down by kind.
type QueueMetrics struct {
	Sync    int       `json:"sync"`
	Async   int       `json:"async"`
	Blocked int       `json:"blocked"` // sync messages behind the first barrier
	NextDue time.Time `json:"next_due,omitzero"` // due time of the next deliverable message
}

func (s *Scheduler) GetMetrics(details bool) *Metrics {
	m := &Metrics{
		State:          s.State(),
		TotalEnqueued:  s.totalEnqueued.Load(),
		TotalBarriers:  s.totalBarriers.Load(),
		TotalDelivered: s.totalDelivered.Load(),
		TotalFailed:    s.totalFailed.Load(),
		TotalDropped:   s.totalDropped.Load(),
	}

	handled := m.TotalDelivered + m.TotalFailed
	if handled > 0 {
		m.AvgDeliveryDuration = time.Duration(s.totalDuration.Load() / handled)
	}
	if ts := s.lastDeliveredAt.Load(); ts > 0 {
		m.LastDeliveredAt = time.Unix(0, ts)
	}

	var qm QueueMetrics
	barrierSeen := false
	for msg := range s.queue.all() {
		m.Pending++
		switch {
		case msg.Barrier:
			m.ActiveBarriers++
			barrierSeen = true
		case msg.Async:
			qm.Async++
		default:
			qm.Sync++
			if barrierSeen {
				qm.Blocked++
			}
		}
	}

	if details {
		qm.NextDue = s.queue.nextDue(time.Now())
		m.Queue = &qm
	}
	return m
}

package messaging

import "sync/atomic"

// Stats counts dispatcher activity.
type Stats struct {
	published atomic.Int64
	handled   atomic.Int64
	failed    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Published int64
	Handled   int64
	Failed    int64
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Published: s.published.Load(),
		Handled:   s.handled.Load(),
		Failed:    s.failed.Load(),
	}
}

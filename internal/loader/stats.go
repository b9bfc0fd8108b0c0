package loader

import "sync/atomic"

// Stats counts request outcomes. Writes happen on the scheduling goroutine;
// reads may come from anywhere.
type Stats struct {
	enqueued  atomic.Uint64
	admitted  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
	passes    atomic.Uint64
}

// StatsSnapshot is a plain copy of Stats.
type StatsSnapshot struct {
	Enqueued       uint64 `json:"enqueued"`
	Admitted       uint64 `json:"admitted"`
	Completed      uint64 `json:"completed"`
	Failed         uint64 `json:"failed"`
	Cancelled      uint64 `json:"cancelled"`
	DispatchPasses uint64 `json:"dispatch_passes"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Enqueued:       s.enqueued.Load(),
		Admitted:       s.admitted.Load(),
		Completed:      s.completed.Load(),
		Failed:         s.failed.Load(),
		Cancelled:      s.cancelled.Load(),
		DispatchPasses: s.passes.Load(),
	}
}

func (s *Stats) recordOutcome(state State) {
	switch state {
	case StateCompleted:
		s.completed.Add(1)
	case StateFailed:
		s.failed.Add(1)
	case StateCancelled:
		s.cancelled.Add(1)
	}
}

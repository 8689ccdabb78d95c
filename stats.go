package pollen

import "sync/atomic"

// Stats is a point-in-time copy of a broker's delivery counters.
type Stats struct {
	// Emitted counts emit calls accepted by the broker.
	Emitted uint64

	// Delivered counts handler invocations, including failed ones.
	Delivered uint64

	// HandlerErrors counts handler invocations that returned an error.
	HandlerErrors uint64

	// HandlerPanics counts handler invocations that panicked.
	HandlerPanics uint64

	// Dropped counts async emits discarded because the delivery queue was
	// full.
	Dropped uint64
}

// brokerStats holds the live counters.
type brokerStats struct {
	emitted       atomic.Uint64
	delivered     atomic.Uint64
	handlerErrors atomic.Uint64
	panics        atomic.Uint64
	dropped       atomic.Uint64
}

func (s *brokerStats) snapshot() Stats {
	return Stats{
		Emitted:       s.emitted.Load(),
		Delivered:     s.delivered.Load(),
		HandlerErrors: s.handlerErrors.Load(),
		HandlerPanics: s.panics.Load(),
		Dropped:       s.dropped.Load(),
	}
}

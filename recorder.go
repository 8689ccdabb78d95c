package pollen

import (
	"context"
	"sync"
)

const defaultRecorderCapacity = 1024

// Recorder is a Handler that captures the events delivered to it in memory,
// oldest first. It backs tests, demos, and the CLI; it is not an event store
// and keeps at most its configured capacity, discarding the oldest entries.
type Recorder struct {
	id  string
	max int

	mu     sync.Mutex
	events []Event
}

// NewRecorder creates a recorder with the given handler id. A capacity of
// zero or less defaults to 1024.
func NewRecorder(id string, capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultRecorderCapacity
	}
	return &Recorder{id: id, max: capacity}
}

// ID returns the recorder's handler id.
func (r *Recorder) ID() string {
	return r.id
}

// Handle appends the event, discarding the oldest entry when full.
func (r *Recorder) Handle(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
	if len(r.events) > r.max {
		r.events = r.events[len(r.events)-r.max:]
	}
	return nil
}

// Events returns a copy of the captured events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of captured events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Clear discards all captured events.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Compile-time interface check.
var _ Handler = (*Recorder)(nil)

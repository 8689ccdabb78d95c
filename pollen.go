// Package pollen provides an in-process publish/subscribe broker. Producers
// emit events to named channels; consumers register handlers under channel
// patterns, and the broker matches and delivers each event according to the
// channel's kind: topics broadcast to every matching handler, queues hand the
// event to the first matching handler only.
//
// All delivery runs against a point-in-time snapshot of the subscription
// registry taken at emit time, with the registry lock released, so handlers
// may register, unregister, and emit freely from within Handle.
package pollen

import "context"

// Event is an opaque domain fact carried through the broker. The broker never
// inspects payloads and never retains an event beyond the delivery pass of
// the emit call that carried it.
type Event interface {
	// ID returns the unique identifier of this event instance.
	ID() string

	// Name returns the logical type tag of the event.
	Name() string
}

// Handler consumes events delivered by a Broker.
type Handler interface {
	// ID returns the stable identity of this handler. Unregistration is by
	// handler id; registering the same logic under a new id creates an
	// independent subscription.
	ID() string

	// Handle processes a single event. Implementations narrow the event to
	// the concrete types they understand and treat any other type as a
	// normal, non-error outcome.
	Handle(ctx context.Context, e Event) error
}

package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/pollen"
)

// EventCounter is a pollen.Handler that counts delivered events by name.
// Register it under a broad pattern (or rely on channel-less broadcasts) to
// get per-event-name throughput metrics without touching producer code.
type EventCounter struct {
	id     string
	events metric.Int64Counter
}

// NewEventCounter creates an event counter handler bound to the provided
// meter.
func NewEventCounter(id string, meter metric.Meter) (*EventCounter, error) {
	events, err := meter.Int64Counter(
		"pollen.bus.events",
		metric.WithDescription("Number of events delivered, by event name"),
	)
	if err != nil {
		return nil, err
	}
	return &EventCounter{id: id, events: events}, nil
}

// ID returns the counter's handler id.
func (c *EventCounter) ID() string {
	return c.id
}

// Handle counts the event by name.
func (c *EventCounter) Handle(ctx context.Context, e pollen.Event) error {
	c.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_name", e.Name()),
	))
	return nil
}

// Compile-time interface check.
var _ pollen.Handler = (*EventCounter)(nil)

package pollen

import (
	"context"
	"log/slog"
)

// funcHandler adapts a plain function to the Handler interface.
type funcHandler struct {
	id string
	fn func(ctx context.Context, e Event) error
}

// NewHandler wraps fn as a Handler with the given id.
func NewHandler(id string, fn func(ctx context.Context, e Event) error) Handler {
	return &funcHandler{id: id, fn: fn}
}

func (h *funcHandler) ID() string {
	return h.id
}

func (h *funcHandler) Handle(ctx context.Context, e Event) error {
	return h.fn(ctx, e)
}

// typedHandler narrows events to one concrete type before invoking fn.
type typedHandler[T Event] struct {
	id string
	fn func(ctx context.Context, e T) error
}

// Typed wraps a function that consumes one concrete event type. A channel may
// carry several logical event types, so an event of any other type is skipped
// with a diagnostic rather than treated as a failure.
func Typed[T Event](id string, fn func(ctx context.Context, e T) error) Handler {
	return &typedHandler[T]{id: id, fn: fn}
}

func (h *typedHandler[T]) ID() string {
	return h.id
}

func (h *typedHandler[T]) Handle(ctx context.Context, e Event) error {
	v, ok := e.(T)
	if !ok {
		slog.Debug("not handling event (type mismatch)", "handler", h.id, "event", e.Name())
		return nil
	}
	return h.fn(ctx, v)
}

// Compile-time interface checks.
var _ Handler = (*funcHandler)(nil)
var _ Handler = (*typedHandler[*Message])(nil)

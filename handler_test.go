package pollen

import (
	"context"
	"errors"
	"testing"
)

type orderPlaced struct {
	id     string
	Number int
}

func (o *orderPlaced) ID() string   { return o.id }
func (o *orderPlaced) Name() string { return "order.placed" }

func TestNewHandler(t *testing.T) {
	var got Event
	h := NewHandler("recorder", func(_ context.Context, e Event) error {
		got = e
		return nil
	})

	if h.ID() != "recorder" {
		t.Errorf("got id %q, want %q", h.ID(), "recorder")
	}

	e := NewMessage("ping", nil)
	if err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if got != Event(e) {
		t.Errorf("handler saw %v, want %v", got, e)
	}
}

func TestTyped_MatchingType(t *testing.T) {
	var got *orderPlaced
	h := Typed("orders", func(_ context.Context, e *orderPlaced) error {
		got = e
		return nil
	})

	e := &orderPlaced{id: "1", Number: 42}
	if err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if got == nil || got.Number != 42 {
		t.Errorf("handler saw %+v, want Number 42", got)
	}
}

func TestTyped_MismatchSkipsWithoutError(t *testing.T) {
	called := false
	h := Typed("orders", func(_ context.Context, e *orderPlaced) error {
		called = true
		return nil
	})

	// A Message is not an *orderPlaced; the handler must skip it cleanly.
	if err := h.Handle(context.Background(), NewMessage("other", nil)); err != nil {
		t.Fatalf("type mismatch should not be an error, got %v", err)
	}
	if called {
		t.Error("handler function ran for a mismatched event type")
	}
}

func TestTyped_PropagatesHandlerError(t *testing.T) {
	want := errors.New("boom")
	h := Typed("orders", func(_ context.Context, e *orderPlaced) error {
		return want
	})

	if err := h.Handle(context.Background(), &orderPlaced{id: "1"}); !errors.Is(err, want) {
		t.Errorf("got %v, want %v", err, want)
	}
}

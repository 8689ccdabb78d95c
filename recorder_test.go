package pollen

import (
	"context"
	"fmt"
	"testing"
)

func TestRecorder_CapturesInOrder(t *testing.T) {
	r := NewRecorder("rec", 0)

	for i := 0; i < 3; i++ {
		e := NewMessage(fmt.Sprintf("e%d", i), nil)
		if err := r.Handle(context.Background(), e); err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
	}

	events := r.Events()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, e := range events {
		want := fmt.Sprintf("e%d", i)
		if e.Name() != want {
			t.Errorf("position %d: got %q, want %q", i, e.Name(), want)
		}
	}
}

func TestRecorder_CapacityDropsOldest(t *testing.T) {
	r := NewRecorder("rec", 2)

	for i := 0; i < 5; i++ {
		_ = r.Handle(context.Background(), NewMessage(fmt.Sprintf("e%d", i), nil))
	}

	events := r.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Name() != "e3" || events[1].Name() != "e4" {
		t.Errorf("got [%s %s], want [e3 e4]", events[0].Name(), events[1].Name())
	}
}

func TestRecorder_DefaultCapacity(t *testing.T) {
	r := NewRecorder("rec", 0)
	if r.max != defaultRecorderCapacity {
		t.Errorf("default capacity = %d, want %d", r.max, defaultRecorderCapacity)
	}
}

func TestRecorder_Clear(t *testing.T) {
	r := NewRecorder("rec", 0)
	_ = r.Handle(context.Background(), NewMessage("e", nil))

	r.Clear()
	if r.Len() != 0 {
		t.Errorf("got %d events after Clear, want 0", r.Len())
	}
}

func TestRecorder_EventsCopyIsolated(t *testing.T) {
	r := NewRecorder("rec", 0)
	_ = r.Handle(context.Background(), NewMessage("e0", nil))

	events := r.Events()
	_ = r.Handle(context.Background(), NewMessage("e1", nil))

	if len(events) != 1 {
		t.Errorf("earlier copy changed: got %d events, want 1", len(events))
	}
}

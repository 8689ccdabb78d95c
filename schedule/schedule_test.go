package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/pollen"
)

// fakeClock is an injectable Now source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroker(t *testing.T) *pollen.Broker {
	t.Helper()
	b, err := pollen.NewBroker(pollen.Config{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b
}

func newTestEmitter(t *testing.T, b *pollen.Broker, clock *fakeClock) *Emitter {
	t.Helper()
	s, err := NewEmitter(Config{
		Broker: b,
		Now:    clock.now,
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}
	return s
}

func TestNewEmitter_RequiresBroker(t *testing.T) {
	if _, err := NewEmitter(Config{}); err == nil {
		t.Error("nil broker should be rejected")
	}
}

func TestAdd_Validation(t *testing.T) {
	b := newTestBroker(t)
	clock := &fakeClock{t: time.Date(2030, 1, 1, 0, 0, 30, 0, time.UTC)}
	s := newTestEmitter(t, b, clock)

	if err := s.Add(Entry{Cron: "* * * * *"}); err == nil {
		t.Error("empty event name should be rejected")
	}
	if err := s.Add(Entry{Cron: "not a cron", Event: "tick"}); err == nil {
		t.Error("invalid cron expression should be rejected")
	}
	if err := s.Add(Entry{Cron: "", Event: "tick"}); err == nil {
		t.Error("empty cron expression should be rejected")
	}
	if err := s.Add(Entry{Cron: "CRON_TZ=UTC * * * * *", Event: "tick"}); err == nil {
		t.Error("timezone prefix should be rejected")
	}
	if err := s.Add(Entry{Cron: "* * * * *", Event: "tick", Channel: pollen.Channel{Kind: "fanout", Name: "x"}}); err == nil {
		t.Error("unknown channel kind should be rejected")
	}
	if s.Len() != 0 {
		t.Errorf("failed adds left %d entries, want 0", s.Len())
	}

	if err := s.Add(Entry{Cron: "*/5 * * * *", Event: "tick", Channel: pollen.NewTopic("system")}); err != nil {
		t.Errorf("valid entry rejected: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("got %d entries, want 1", s.Len())
	}
}

func TestRunOnce_FiresWhenDue(t *testing.T) {
	b := newTestBroker(t)
	rec := pollen.NewRecorder("rec", 0)
	if err := b.Register(pollen.MustPattern(pollen.KindTopic, "^system$"), rec); err != nil {
		t.Fatal(err)
	}

	clock := &fakeClock{t: time.Date(2030, 1, 1, 0, 0, 30, 0, time.UTC)}
	s := newTestEmitter(t, b, clock)
	if err := s.Add(Entry{
		Cron:    "* * * * *",
		Event:   "heartbeat",
		Channel: pollen.NewTopic("system"),
		Payload: []byte(`{"source":"scheduler"}`),
	}); err != nil {
		t.Fatal(err)
	}

	// Not due yet: the entry fires at the next whole minute.
	if fired := s.RunOnce(context.Background()); fired != 0 {
		t.Errorf("fired %d entries before due time, want 0", fired)
	}

	clock.advance(30 * time.Second) // 00:01:00
	if fired := s.RunOnce(context.Background()); fired != 1 {
		t.Errorf("fired %d entries at due time, want 1", fired)
	}

	// Same instant again: the entry was rescheduled.
	if fired := s.RunOnce(context.Background()); fired != 0 {
		t.Errorf("fired %d entries twice at one due time, want 0", fired)
	}

	events := rec.Events()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	m, ok := events[0].(*pollen.Message)
	if !ok {
		t.Fatalf("got %T, want *pollen.Message", events[0])
	}
	if m.Name() != "heartbeat" {
		t.Errorf("got event name %q, want %q", m.Name(), "heartbeat")
	}
	if string(m.Payload) != `{"source":"scheduler"}` {
		t.Errorf("got payload %s, want %s", m.Payload, `{"source":"scheduler"}`)
	}
	if m.ID() == "" {
		t.Error("scheduled event has an empty id")
	}
}

func TestRunOnce_MissedTicksCollapse(t *testing.T) {
	b := newTestBroker(t)
	rec := pollen.NewRecorder("rec", 0)
	if err := b.Register(pollen.MustPattern(pollen.KindTopic, pollen.MatchAll), rec); err != nil {
		t.Fatal(err)
	}

	clock := &fakeClock{t: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newTestEmitter(t, b, clock)
	if err := s.Add(Entry{Cron: "* * * * *", Event: "tick", Channel: pollen.NewTopic("t")}); err != nil {
		t.Fatal(err)
	}

	// Five due times pass unobserved; the next pass fires once.
	clock.advance(5 * time.Minute)
	if fired := s.RunOnce(context.Background()); fired != 1 {
		t.Errorf("fired %d entries after missed ticks, want 1", fired)
	}
}

func TestRunOnce_ZeroChannelBroadcasts(t *testing.T) {
	b := newTestBroker(t)
	rec := pollen.NewRecorder("rec", 0)
	// A queue subscription still sees channel-less broadcasts.
	if err := b.Register(pollen.MustPattern(pollen.KindQueue, "^unrelated$"), rec); err != nil {
		t.Fatal(err)
	}

	clock := &fakeClock{t: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newTestEmitter(t, b, clock)
	if err := s.Add(Entry{Cron: "* * * * *", Event: "tick"}); err != nil {
		t.Fatal(err)
	}

	clock.advance(time.Minute)
	if fired := s.RunOnce(context.Background()); fired != 1 {
		t.Fatalf("fired %d entries, want 1", fired)
	}
	if rec.Len() != 1 {
		t.Errorf("broadcast entry missed a subscriber: got %d events", rec.Len())
	}
}

func TestRunOnce_MultipleEntries(t *testing.T) {
	b := newTestBroker(t)
	rec := pollen.NewRecorder("rec", 0)
	if err := b.Register(pollen.MustPattern(pollen.KindTopic, pollen.MatchAll), rec); err != nil {
		t.Fatal(err)
	}

	clock := &fakeClock{t: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newTestEmitter(t, b, clock)
	if err := s.Add(Entry{Cron: "* * * * *", Event: "minutely", Channel: pollen.NewTopic("t")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(Entry{Cron: "*/5 * * * *", Event: "five-minutely", Channel: pollen.NewTopic("t")}); err != nil {
		t.Fatal(err)
	}

	clock.advance(time.Minute) // 00:01, only the minutely entry is due
	if fired := s.RunOnce(context.Background()); fired != 1 {
		t.Errorf("fired %d entries at 00:01, want 1", fired)
	}

	clock.advance(4 * time.Minute) // 00:05, both are due
	if fired := s.RunOnce(context.Background()); fired != 2 {
		t.Errorf("fired %d entries at 00:05, want 2", fired)
	}
}

func TestStartStop_Lifecycle(t *testing.T) {
	b := newTestBroker(t)
	clock := &fakeClock{t: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}

	s, err := NewEmitter(Config{
		Broker:       b,
		Now:          clock.now,
		PollInterval: 5 * time.Millisecond,
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Second Start is a no-op.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Second Stop is a no-op.
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStart_LoopFiresDueEntries(t *testing.T) {
	b := newTestBroker(t)
	rec := pollen.NewRecorder("rec", 0)
	if err := b.Register(pollen.MustPattern(pollen.KindTopic, "^system$"), rec); err != nil {
		t.Fatal(err)
	}

	clock := &fakeClock{t: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := NewEmitter(Config{
		Broker:       b,
		Now:          clock.now,
		PollInterval: 5 * time.Millisecond,
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}
	if err := s.Add(Entry{Cron: "* * * * *", Event: "heartbeat", Channel: pollen.NewTopic("system")}); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	clock.advance(time.Minute)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rec.Len() >= 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("polling loop never fired the due entry")
}

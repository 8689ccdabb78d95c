package pollen

import (
	"context"
	"sync"
	"time"
)

// ThrottleConfig controls the behavior of a Throttle.
type ThrottleConfig struct {
	// CoalesceInterval is how often coalesced events are flushed.
	// Default: 100ms
	CoalesceInterval time.Duration

	// Coalesce reports whether an event should be coalesced. Events it
	// rejects pass through to the broker immediately. A nil Coalesce
	// coalesces every event.
	Coalesce func(e Event) bool
}

// Throttle wraps a Broker and coalesces high-frequency emits: within each
// interval, only the latest coalesced event per (channel, event name) pair
// survives. A background ticker flushes the survivors at the configured
// interval; everything else passes through immediately.
type Throttle struct {
	broker   *Broker
	interval time.Duration
	coalesce func(e Event) bool

	mu      sync.Mutex
	pending map[string]pendingEmit // channel|name -> latest emit
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// pendingEmit is the newest coalesced emit for one (channel, name) key.
type pendingEmit struct {
	event   Event
	channel Channel
}

// NewThrottle creates a Throttle in front of b and starts its flush ticker.
func NewThrottle(b *Broker, cfg ThrottleConfig) *Throttle {
	interval := cfg.CoalesceInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	coalesce := cfg.Coalesce
	if coalesce == nil {
		coalesce = func(Event) bool { return true }
	}

	t := &Throttle{
		broker:   b,
		interval: interval,
		coalesce: coalesce,
		pending:  make(map[string]pendingEmit),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go t.run()

	return t
}

// Emit sends an event through the throttle with no channel.
func (t *Throttle) Emit(ctx context.Context, e Event) {
	t.EmitTo(ctx, e, Channel{})
}

// EmitTo sends an event through the throttle. Pass-through events reach the
// broker immediately; coalesced events wait for the next flush, and only the
// latest event per (channel, event name) survives each interval.
func (t *Throttle) EmitTo(ctx context.Context, e Event, ch Channel) {
	if e == nil {
		return
	}
	if !t.coalesce(e) {
		t.broker.EmitTo(ctx, e, ch)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	t.pending[ch.String()+"|"+e.Name()] = pendingEmit{event: e, channel: ch}
}

// Close flushes any pending events and stops the background ticker. It is
// safe to call Close multiple times.
func (t *Throttle) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	// Signal the background goroutine to stop.
	close(t.stopCh)

	// Wait for the background goroutine to finish.
	<-t.doneCh
}

// run is the background goroutine that periodically flushes coalesced emits.
func (t *Throttle) run() {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.flush()
		case <-t.stopCh:
			// Flush any remaining pending events before exiting.
			t.flush()
			return
		}
	}
}

// flush hands all pending coalesced emits to the broker and clears the
// pending map.
func (t *Throttle) flush() {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}

	// Swap out the pending map so the lock is released during delivery.
	toFlush := t.pending
	t.pending = make(map[string]pendingEmit)
	t.mu.Unlock()

	for _, p := range toFlush {
		t.broker.EmitTo(context.Background(), p.event, p.channel)
	}
}

package pollen

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Subscription pairs a channel pattern with a handler. Registration order is
// significant: queue deliveries go to the earliest-registered matching
// handler.
type Subscription struct {
	Pattern Pattern
	Handler Handler
}

// Registry is an ordered, thread-safe collection of subscriptions. One lock
// serializes all structural mutation and snapshot reads; handler code never
// runs under it. Construct one per Broker rather than sharing a package-level
// instance.
type Registry struct {
	mu     sync.RWMutex
	subs   []Subscription
	logger *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger defaults to
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register appends a subscription for p and h. The pattern must come from
// NewPattern; anything else is rejected with ErrInvalidPattern. Registration
// never invokes the handler.
func (r *Registry) Register(p Pattern, h Handler) error {
	if !p.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, p.String())
	}
	if h == nil {
		return errors.New("register: handler is nil")
	}

	r.mu.Lock()
	r.subs = append(r.subs, Subscription{Pattern: p, Handler: h})
	total := len(r.subs)
	r.mu.Unlock()

	r.logger.Debug("handler registered",
		"handler", h.ID(),
		"pattern", p.String(),
		"subscriptions", total,
	)
	return nil
}

// Unregister removes the first subscription whose handler id equals id and
// reports whether one was removed. Unknown ids are a no-op; removing the same
// id twice is safe.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	removed := false
	for i, sub := range r.subs {
		if sub.Handler.ID() == id {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			removed = true
			break
		}
	}
	total := len(r.subs)
	r.mu.Unlock()

	if removed {
		r.logger.Debug("handler unregistered", "handler", id, "subscriptions", total)
	} else {
		r.logger.Debug("unregister of unknown handler", "handler", id)
	}
	return removed
}

// Snapshot returns a point-in-time copy of the subscription list. The copy is
// taken under the lock so readers never observe a partial mutation; the
// dispatcher iterates the copy with the lock released.
func (r *Registry) Snapshot() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscription, len(r.subs))
	copy(out, r.subs)
	return out
}

// Len returns the number of registered subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

package pollen

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Mode selects how a Broker runs delivery passes.
type Mode string

const (
	// ModeSync runs the delivery pass on the emitting goroutine; an emit
	// returns after every selected handler has run.
	ModeSync Mode = "sync"

	// ModeAsync queues the delivery pass to a worker; an emit returns
	// immediately. Ordering within one emit call still holds; ordering
	// across emit calls does not.
	ModeAsync Mode = "async"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 1
)

// Config configures a Broker.
type Config struct {
	// DefaultChannel is the channel transport adapters attribute to inbound
	// messages that do not name one. Emits without a channel always broadcast
	// to every registered handler regardless of this value.
	DefaultChannel Channel

	// Mode selects synchronous or asynchronous delivery (default: ModeSync).
	Mode Mode

	// QueueSize is the async delivery queue capacity (default: 256). When
	// the queue is full, emits are dropped with a logged warning.
	QueueSize int

	// Workers is the number of async delivery workers (default: 1).
	Workers int

	// Logger receives broker diagnostics (default: slog.Default()).
	Logger *slog.Logger

	// Observer receives delivery observations (default: none).
	Observer Observer
}

// Broker matches emitted events against registered subscriptions and invokes
// the selected handlers. Every delivery pass iterates a registry snapshot
// taken at emit time, with the registry lock released, so a handler may
// register, unregister, and emit from within Handle without deadlocking.
type Broker struct {
	registry *Registry
	logger   *slog.Logger
	observer Observer

	mu             sync.RWMutex
	defaultChannel Channel
	mode           Mode
	jobs           chan deliveryJob // nil until async delivery starts
	closed         bool

	queueSize int
	workers   int
	wg        sync.WaitGroup

	stats brokerStats
}

// deliveryJob is one queued delivery pass: the event plus the registry
// snapshot taken when it was emitted.
type deliveryJob struct {
	event   Event
	channel Channel
	subs    []Subscription
}

// NewBroker creates a broker from cfg. Zero-value fields take defaults; an
// unknown Mode or DefaultChannel kind is rejected.
func NewBroker(cfg Config) (*Broker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	b := &Broker{
		registry:  NewRegistry(logger),
		logger:    logger,
		observer:  observer,
		queueSize: queueSize,
		workers:   workers,
	}
	if err := b.Configure(cfg.DefaultChannel, cfg.Mode); err != nil {
		return nil, err
	}
	return b, nil
}

// Configure replaces the broker's default channel and delivery mode. It may
// be called at any time; passes already queued keep the snapshot and mode
// they were emitted under. Switching to ModeAsync starts the delivery workers
// if they are not running; switching back to ModeSync leaves them draining.
func (b *Broker) Configure(defaultChannel Channel, mode Mode) error {
	if mode == "" {
		mode = ModeSync
	}
	if mode != ModeSync && mode != ModeAsync {
		return fmt.Errorf("configure: unknown mode %q", mode)
	}
	if !defaultChannel.IsZero() && defaultChannel.Kind != KindTopic && defaultChannel.Kind != KindQueue {
		return fmt.Errorf("configure: unknown channel kind %q", defaultChannel.Kind)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	b.defaultChannel = defaultChannel
	b.mode = mode
	started := false
	if mode == ModeAsync && b.jobs == nil {
		b.jobs = make(chan deliveryJob, b.queueSize)
		for i := 0; i < b.workers; i++ {
			b.wg.Add(1)
			go b.worker()
		}
		started = true
	}
	b.mu.Unlock()

	if started {
		b.logger.Debug("async delivery started", "workers", b.workers, "queue_size", b.queueSize)
	}
	b.logger.Debug("broker configured",
		"default_channel", channelLabel(defaultChannel),
		"mode", string(mode),
	)
	return nil
}

// DefaultChannel returns the configured default channel. It is advisory:
// transport adapters use it to attribute inbound messages that do not name a
// channel of their own.
func (b *Broker) DefaultChannel() Channel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.defaultChannel
}

// Registry exposes the broker's subscription registry.
func (b *Broker) Registry() *Registry {
	return b.registry
}

// Register subscribes h to emits within p's scope. The handler is never
// invoked as a side effect of registration.
func (b *Broker) Register(p Pattern, h Handler) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBrokerClosed
	}
	return b.registry.Register(p, h)
}

// Unregister removes the earliest subscription registered under the handler
// id and reports whether one was removed. Unknown ids are a no-op.
func (b *Broker) Unregister(id string) bool {
	return b.registry.Unregister(id)
}

// Emit delivers e to every registered handler in registration order,
// regardless of pattern. In async mode the pass is queued and Emit returns
// immediately; queued passes run with a background context.
func (b *Broker) Emit(ctx context.Context, e Event) {
	b.emit(ctx, e, Channel{})
}

// EmitTo delivers e to the handlers whose pattern matches ch, in registration
// order. A topic channel fans out to every match; a queue channel stops after
// the first. A zero ch behaves like Emit. Handlers can recover ch with
// ChannelFromContext.
func (b *Broker) EmitTo(ctx context.Context, e Event, ch Channel) {
	b.emit(ctx, e, ch)
}

func (b *Broker) emit(ctx context.Context, e Event, ch Channel) {
	if e == nil {
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Debug("emit on closed broker dropped", "event", e.Name())
		return
	}
	mode := b.mode
	if mode == ModeAsync {
		// The send stays under the read lock so Close cannot close the jobs
		// channel between the closed check and the send.
		b.stats.emitted.Add(1)
		job := deliveryJob{event: e, channel: ch, subs: b.registry.Snapshot()}
		select {
		case b.jobs <- job:
			b.mu.RUnlock()
		default:
			b.mu.RUnlock()
			b.stats.dropped.Add(1)
			b.logger.Warn("delivery queue full, event dropped",
				"event", e.Name(),
				"channel", channelLabel(ch),
			)
		}
		return
	}
	b.mu.RUnlock()

	b.stats.emitted.Add(1)
	b.deliver(ctx, e, ch, b.registry.Snapshot(), ModeSync)
}

// worker drains queued delivery passes until the jobs channel closes.
func (b *Broker) worker() {
	defer b.wg.Done()
	for job := range b.jobs {
		b.deliver(context.Background(), job.event, job.channel, job.subs, ModeAsync)
	}
}

// deliver runs one delivery pass over a registry snapshot. A zero channel
// broadcasts to every subscription; otherwise subscriptions are matched in
// order, topic emits fan out to all matches, and queue emits stop at the
// first match.
func (b *Broker) deliver(ctx context.Context, e Event, ch Channel, subs []Subscription, mode Mode) {
	start := time.Now()
	broadcast := ch.IsZero()
	invoked, failed := 0, 0
	ctx = ContextWithChannel(ctx, ch)

	for _, sub := range subs {
		if !broadcast {
			if !sub.Pattern.Matches(ch) {
				continue
			}
			b.logger.Debug("channel matched",
				"handler", sub.Handler.ID(),
				"channel", ch.String(),
				"event", e.Name(),
			)
		}
		invoked++
		if err := b.invoke(ctx, sub.Handler, e, ch); err != nil {
			failed++
		}
		if !broadcast && ch.Kind == KindQueue {
			// Competing consumers: the earliest-registered match wins.
			break
		}
	}

	b.stats.delivered.Add(uint64(invoked))
	b.observer.ObserveDelivery(DeliveryObservation{
		EventID:    e.ID(),
		EventName:  e.Name(),
		Channel:    ch,
		Broadcast:  broadcast,
		Mode:       mode,
		Invoked:    invoked,
		Failed:     failed,
		DurationMS: time.Since(start).Milliseconds(),
	})
}

// invoke runs one handler with panic isolation. The returned error feeds pass
// accounting only; it is never propagated to the emitter.
func (b *Broker) invoke(ctx context.Context, h Handler, e Event, ch Channel) (err error) {
	start := time.Now()
	panicked := false

	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("handler panic: %v", r)
			b.stats.panics.Add(1)
			b.logger.Error("handler panicked",
				"handler", h.ID(),
				"event", e.Name(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
		errText := ""
		if err != nil {
			errText = err.Error()
		}
		b.observer.ObserveHandler(HandlerObservation{
			HandlerID:  h.ID(),
			EventID:    e.ID(),
			EventName:  e.Name(),
			Channel:    ch,
			DurationMS: time.Since(start).Milliseconds(),
			Success:    err == nil,
			Panicked:   panicked,
			ErrorText:  errText,
		})
	}()

	err = h.Handle(ctx, e)
	if err != nil {
		b.stats.handlerErrors.Add(1)
		b.logger.Error("handler failed",
			"handler", h.ID(),
			"event", e.Name(),
			"error", err,
		)
	}
	return err
}

// Close stops the broker. Emits after Close are dropped; in async mode queued
// passes drain and Close waits for the workers until ctx expires. Close is
// safe to call more than once.
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	jobs := b.jobs
	b.mu.Unlock()

	if jobs != nil {
		close(jobs)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a copy of the broker's cumulative delivery counters.
func (b *Broker) Stats() Stats {
	return b.stats.snapshot()
}

// channelLabel renders a channel for diagnostics; the zero channel reads as
// "all" because it addresses every handler.
func channelLabel(ch Channel) string {
	if ch.IsZero() {
		return "all"
	}
	return ch.String()
}

// Package schedule emits events into a pollen broker on cron expressions.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petal-labs/pollen"
)

const defaultPollInterval = time.Second

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// Entry declares one scheduled emission.
type Entry struct {
	// Cron is a five-field cron expression, evaluated in UTC.
	Cron string

	// Event is the logical name of the emitted event.
	Event string

	// Channel targets the emit; the zero channel broadcasts to every
	// registered handler.
	Channel pollen.Channel

	// Payload is attached verbatim to every emitted event.
	Payload []byte
}

// entry is a compiled Entry plus its next due time.
type entry struct {
	decl     Entry
	schedule cron.Schedule
	next     time.Time
}

// Config configures an Emitter.
type Config struct {
	// Broker receives the emitted events. Required.
	Broker *pollen.Broker

	// PollInterval is how often due entries are checked (default: 1s).
	PollInterval time.Duration

	// Now supplies the current time (default: time.Now in UTC).
	Now func() time.Time

	// Logger receives emitter diagnostics (default: slog.Default()).
	Logger *slog.Logger
}

// Emitter fires an event into the broker whenever one of its entries comes
// due. Entries that miss multiple due times while the emitter is stopped or
// busy fire once and reschedule from the current time.
type Emitter struct {
	broker       *pollen.Broker
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu      sync.Mutex
	entries []*entry
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEmitter creates an emitter instance.
func NewEmitter(cfg Config) (*Emitter, error) {
	if cfg.Broker == nil {
		return nil, errors.New("schedule: broker is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Emitter{
		broker:       cfg.Broker,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}, nil
}

// Add compiles and registers an entry. The cron expression is parsed once
// here; an expression that does not parse never reaches the emit loop.
func (s *Emitter) Add(e Entry) error {
	if strings.TrimSpace(e.Event) == "" {
		return errors.New("schedule: entry event name is required")
	}
	if !e.Channel.IsZero() && e.Channel.Kind != pollen.KindTopic && e.Channel.Kind != pollen.KindQueue {
		return fmt.Errorf("schedule: unknown channel kind %q", e.Channel.Kind)
	}
	schedule, err := parseCronExpressionUTC(e.Cron)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	s.mu.Lock()
	s.entries = append(s.entries, &entry{
		decl:     e,
		schedule: schedule,
		next:     schedule.Next(now),
	})
	total := len(s.entries)
	s.mu.Unlock()

	s.logger.Debug("schedule entry added",
		"cron", e.Cron,
		"event", e.Event,
		"channel", channelLabel(e.Channel),
		"entries", total,
	)
	return nil
}

// Len returns the number of registered entries.
func (s *Emitter) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start starts background polling. Calling Start on a running emitter is a
// no-op.
func (s *Emitter) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("schedule: emitter is nil")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.RunOnce(loopCtx)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(loopCtx)
			}
		}
	}()

	return nil
}

// Stop stops background polling and waits for the loop to exit until ctx
// expires. Stopping a stopped emitter is a no-op.
func (s *Emitter) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce fires every due entry and returns the number fired. It backs the
// polling loop and gives tests a way to drive the emitter without it.
func (s *Emitter) RunOnce(ctx context.Context) int {
	now := s.now().UTC()

	s.mu.Lock()
	due := make([]*entry, 0, len(s.entries))
	for _, en := range s.entries {
		if !en.next.After(now) {
			due = append(due, en)
			en.next = en.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, en := range due {
		e := pollen.NewMessage(en.decl.Event, en.decl.Payload)
		if en.decl.Channel.IsZero() {
			s.broker.Emit(ctx, e)
		} else {
			s.broker.EmitTo(ctx, e, en.decl.Channel)
		}
		s.logger.Debug("scheduled event emitted",
			"event", en.decl.Event,
			"channel", channelLabel(en.decl.Channel),
			"next", en.next,
		)
	}
	return len(due)
}

// parseCronExpressionUTC parses a five-field cron expression, rejecting
// timezone prefixes so every schedule evaluates in UTC.
func parseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, errors.New("schedule: cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, errors.New("schedule: cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression: %w", err)
	}
	return schedule, nil
}

func channelLabel(ch pollen.Channel) string {
	if ch.IsZero() {
		return "all"
	}
	return ch.String()
}

// Package redisadapter bridges a Redis Pub/Sub transport into a pollen
// broker. Outbound events are serialized into a JSON envelope and published
// to a Redis channel derived from the pollen channel; inbound messages are
// deserialized and emitted into the broker, attributed to the channel named
// on the wire. The broker's own matching and delivery semantics are untouched.
package redisadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petal-labs/pollen"
)

const defaultPrefix = "pollen."

// Envelope is the wire form of one event on a Redis channel.
type Envelope struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// Config configures an Adapter.
type Config struct {
	// Broker receives inbound events. Required.
	Broker *pollen.Broker

	// Client publishes and subscribes on Redis. Required.
	Client redis.UniversalClient

	// Prefix namespaces the Redis channels the adapter publishes to and
	// subscribes from (default: "pollen.").
	Prefix string

	// Logger receives adapter diagnostics (default: slog.Default()).
	Logger *slog.Logger
}

// Adapter connects one pollen broker to one Redis deployment.
type Adapter struct {
	broker *pollen.Broker
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// New creates a Redis adapter from cfg.
func New(cfg Config) (*Adapter, error) {
	if cfg.Broker == nil {
		return nil, errors.New("redisadapter: broker is nil")
	}
	if cfg.Client == nil {
		return nil, errors.New("redisadapter: client is nil")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		broker: cfg.Broker,
		client: cfg.Client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Publish serializes e into an envelope and transmits it on the Redis channel
// derived from ch. A zero ch publishes to the adapter's broadcast subject.
func (a *Adapter) Publish(ctx context.Context, e pollen.Event, ch pollen.Channel) error {
	if e == nil {
		return errors.New("redisadapter: event is nil")
	}

	payload, err := payloadOf(e)
	if err != nil {
		return fmt.Errorf("serialize event %q: %w", e.Name(), err)
	}
	env := Envelope{
		ID:      e.ID(),
		Name:    e.Name(),
		Payload: payload,
		SentAt:  time.Now().UTC(),
	}
	if !ch.IsZero() {
		env.Channel = ch.String()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := a.client.Publish(ctx, a.subject(ch), data).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Run subscribes to every channel under the adapter's prefix and emits each
// inbound envelope into the broker. It blocks until ctx is canceled and
// returns the cause.
func (a *Adapter) Run(ctx context.Context) error {
	pattern := a.prefix + "*"
	sub := a.client.PSubscribe(ctx, pattern)
	defer func() {
		_ = sub.Close()
	}()

	a.logger.Info("redis adapter subscribed", "pattern", pattern)
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("redis receive failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		a.dispatch(ctx, msg)
	}
}

// dispatch decodes one Redis message and emits it into the broker.
func (a *Adapter) dispatch(ctx context.Context, msg *redis.Message) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		a.logger.Warn("dropping undecodable message",
			"redis_channel", msg.Channel,
			"error", err,
		)
		return
	}

	e := &pollen.Message{
		MessageID: env.ID,
		EventName: env.Name,
		Payload:   env.Payload,
	}
	if e.MessageID == "" {
		e.MessageID = uuid.New().String()
	}

	if ch, ok := a.resolveChannel(env.Channel, msg.Channel); ok {
		a.broker.EmitTo(ctx, e, ch)
		return
	}
	a.broker.Emit(ctx, e)
}

// resolveChannel attributes an inbound message to a pollen channel: the
// envelope's channel field wins, then the Redis channel name under the
// adapter prefix, then the broker's configured default channel. With none of
// those the message broadcasts to every handler.
func (a *Adapter) resolveChannel(wire, redisChannel string) (pollen.Channel, bool) {
	if wire != "" {
		ch, err := pollen.ParseChannel(wire)
		if err == nil {
			return ch, true
		}
		a.logger.Warn("unparseable wire channel", "channel", wire, "error", err)
	}
	if rest, found := strings.CutPrefix(redisChannel, a.prefix); found {
		if ch, err := pollen.ParseChannel(rest); err == nil {
			return ch, true
		}
	}
	if def := a.broker.DefaultChannel(); !def.IsZero() {
		return def, true
	}
	return pollen.Channel{}, false
}

// subject maps a pollen channel to the Redis channel name.
func (a *Adapter) subject(ch pollen.Channel) string {
	if ch.IsZero() {
		return a.prefix + "all"
	}
	return a.prefix + ch.String()
}

// payloadOf extracts the wire payload of an event. Messages carry their
// payload bytes verbatim; any other event type is marshaled as JSON.
func payloadOf(e pollen.Event) (json.RawMessage, error) {
	if m, ok := e.(*pollen.Message); ok {
		return m.Payload, nil
	}
	return json.Marshal(e)
}

// Package sqsadapter bridges an Amazon SQS queue into a pollen broker. SQS is
// a competing-consumer transport, so inbound messages are normally attributed
// to a queue-kind channel and keep those semantics in process. Outbound events
// are serialized into a JSON envelope and sent to the queue named by the
// adapter's configuration.
package sqsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/petal-labs/pollen"
)

const (
	defaultWaitTime    = 10 * time.Second
	maxWaitTime        = 20 * time.Second // SQS long-poll ceiling
	defaultMaxMessages = 10
)

// SQSAPI is the subset of the SQS client the adapter uses. It exists so tests
// can substitute a fake implementation.
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Envelope is the wire form of one event in the SQS queue.
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

	// Client is the SQS client. Required unless constructed via NewFromEnv.
	Client SQSAPI

	// QueueURL is the SQS queue the adapter sends to and receives from.
	// Required.
	QueueURL string

	// Channel attributes inbound messages that do not name a channel on the
	// wire (default: the broker's default channel; with neither set, inbound
	// messages broadcast to every handler).
	Channel pollen.Channel

	// WaitTime is the long-poll wait per receive (default: 10s, capped at
	// the SQS maximum of 20s).
	WaitTime time.Duration

	// MaxMessages is the batch size per receive (default: 10).
	MaxMessages int32

	// Logger receives adapter diagnostics (default: slog.Default()).
	Logger *slog.Logger
}

// Adapter connects one pollen broker to one SQS queue.
type Adapter struct {
	broker      *pollen.Broker
	client      SQSAPI
	queueURL    string
	channel     pollen.Channel
	waitTime    time.Duration
	maxMessages int32
	logger      *slog.Logger
}

// New creates an SQS adapter from cfg.
func New(cfg Config) (*Adapter, error) {
	if cfg.Broker == nil {
		return nil, errors.New("sqsadapter: broker is nil")
	}
	if cfg.Client == nil {
		return nil, errors.New("sqsadapter: client is nil")
	}
	if cfg.QueueURL == "" {
		return nil, errors.New("sqsadapter: queue url is required")
	}
	waitTime := cfg.WaitTime
	if waitTime <= 0 {
		waitTime = defaultWaitTime
	}
	if waitTime > maxWaitTime {
		waitTime = maxWaitTime
	}
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		broker:      cfg.Broker,
		client:      cfg.Client,
		queueURL:    cfg.QueueURL,
		channel:     cfg.Channel,
		waitTime:    waitTime,
		maxMessages: maxMessages,
		logger:      logger,
	}, nil
}

// NewFromEnv creates an adapter whose client is built from the default AWS
// configuration chain (environment, shared config, instance role).
func NewFromEnv(ctx context.Context, cfg Config) (*Adapter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	cfg.Client = sqs.NewFromConfig(awsCfg)
	return New(cfg)
}

// Send serializes e into an envelope and transmits it to the adapter's queue.
func (a *Adapter) Send(ctx context.Context, e pollen.Event) error {
	if e == nil {
		return errors.New("sqsadapter: event is nil")
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
	if !a.channel.IsZero() {
		env.Channel = a.channel.String()
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = a.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(a.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send to sqs: %w", err)
	}
	return nil
}

// Poll performs one long-poll receive, emits each message into the broker,
// and deletes handled messages from the queue. It returns the number of
// messages handled. Malformed payloads are logged and deleted rather than
// left for endless redelivery.
func (a *Adapter) Poll(ctx context.Context) (int, error) {
	resp, err := a.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(a.queueURL),
		MaxNumberOfMessages: a.maxMessages,
		WaitTimeSeconds:     int32(a.waitTime / time.Second),
	})
	if err != nil {
		return 0, fmt.Errorf("receive from sqs: %w", err)
	}

	handled := 0
	for _, msg := range resp.Messages {
		if msg.Body == nil {
			a.deleteMessage(ctx, msg.ReceiptHandle)
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(*msg.Body), &env); err != nil {
			a.logger.Warn("dropping undecodable sqs message", "error", err)
			a.deleteMessage(ctx, msg.ReceiptHandle)
			continue
		}

		e := &pollen.Message{
			MessageID: env.ID,
			EventName: env.Name,
			Payload:   env.Payload,
		}
		if e.MessageID == "" {
			e.MessageID = uuid.New().String()
		}

		if ch, ok := a.resolveChannel(env.Channel); ok {
			a.broker.EmitTo(ctx, e, ch)
		} else {
			a.broker.Emit(ctx, e)
		}
		handled++
		a.deleteMessage(ctx, msg.ReceiptHandle)
	}
	return handled, nil
}

// Run long-polls the queue until ctx is canceled and returns the cause.
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("sqs adapter polling", "queue", a.queueURL, "channel", channelLabel(a.channel))
	for {
		if _, err := a.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("sqs poll failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// resolveChannel attributes an inbound message: the envelope's channel field
// wins, then the adapter's configured channel, then the broker's default.
func (a *Adapter) resolveChannel(wire string) (pollen.Channel, bool) {
	if wire != "" {
		ch, err := pollen.ParseChannel(wire)
		if err == nil {
			return ch, true
		}
		a.logger.Warn("unparseable wire channel", "channel", wire, "error", err)
	}
	if !a.channel.IsZero() {
		return a.channel, true
	}
	if def := a.broker.DefaultChannel(); !def.IsZero() {
		return def, true
	}
	return pollen.Channel{}, false
}

func (a *Adapter) deleteMessage(ctx context.Context, receiptHandle *string) {
	if receiptHandle == nil {
		return
	}
	_, err := a.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(a.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		a.logger.Error("delete sqs message failed", "error", err)
	}
}

// payloadOf extracts the wire payload of an event. Messages carry their
// payload bytes verbatim; any other event type is marshaled as JSON.
func payloadOf(e pollen.Event) (json.RawMessage, error) {
	if m, ok := e.(*pollen.Message); ok {
		return m.Payload, nil
	}
	return json.Marshal(e)
}

func channelLabel(ch pollen.Channel) string {
	if ch.IsZero() {
		return "all"
	}
	return ch.String()
}

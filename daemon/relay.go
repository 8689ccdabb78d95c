package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petal-labs/pollen"
	"github.com/petal-labs/pollen/redisadapter"
	"github.com/petal-labs/pollen/schedule"
	"github.com/petal-labs/pollen/sqsadapter"
)

const (
	transportRedis = "redis"
	transportSQS   = "sqs"

	// brokerCloseTimeout bounds the async drain during shutdown.
	brokerCloseTimeout = 5 * time.Second
)

// RelayConfig carries a parsed relay configuration plus injectable
// dependencies.
type RelayConfig struct {
	Config Config

	// Logger receives relay diagnostics (default: slog.Default()).
	Logger *slog.Logger

	// Observer instruments the constructed broker.
	Observer pollen.Observer

	// RedisClient overrides the client built from Config.Redis. An injected
	// client is not closed on shutdown.
	RedisClient redis.UniversalClient

	// SQSClient overrides the client built from the default AWS configuration
	// chain.
	SQSClient sqsadapter.SQSAPI
}

// Relay is the long-running bridge process: one broker, the configured
// transports feeding it, scheduled emissions, and forward rules publishing
// matched events back out.
type Relay struct {
	broker  *pollen.Broker
	logger  *slog.Logger
	redis   *redisadapter.Adapter
	sqs     *sqsadapter.Adapter
	emitter *schedule.Emitter

	// ownedRedis is set only when the relay built the client itself.
	ownedRedis redis.UniversalClient

	mu      sync.Mutex
	started bool
}

// NewRelay constructs the broker, transports, schedule entries, and forward
// handlers declared by cfg. ctx is used for AWS configuration loading only.
func NewRelay(ctx context.Context, cfg RelayConfig) (*Relay, error) {
	if err := cfg.Config.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var defaultChannel pollen.Channel
	if cfg.Config.Broker.DefaultChannel != "" {
		ch, err := pollen.ParseChannel(cfg.Config.Broker.DefaultChannel)
		if err != nil {
			return nil, fmt.Errorf("broker default channel: %w", err)
		}
		defaultChannel = ch
	}
	broker, err := pollen.NewBroker(pollen.Config{
		DefaultChannel: defaultChannel,
		Mode:           pollen.Mode(cfg.Config.Broker.Mode),
		QueueSize:      cfg.Config.Broker.QueueSize,
		Workers:        cfg.Config.Broker.Workers,
		Logger:         logger,
		Observer:       cfg.Observer,
	})
	if err != nil {
		return nil, fmt.Errorf("build broker: %w", err)
	}

	r := &Relay{
		broker: broker,
		logger: logger,
	}

	if rc := cfg.Config.Redis; rc != nil {
		client := cfg.RedisClient
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     rc.Addr,
				Password: rc.Password,
				DB:       rc.DB,
			})
			r.ownedRedis = client
		}
		adapter, err := redisadapter.New(redisadapter.Config{
			Broker: broker,
			Client: client,
			Prefix: rc.Prefix,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build redis transport: %w", err)
		}
		r.redis = adapter
	}

	if sc := cfg.Config.SQS; sc != nil {
		var channel pollen.Channel
		if sc.Channel != "" {
			ch, err := pollen.ParseChannel(sc.Channel)
			if err != nil {
				return nil, fmt.Errorf("sqs channel: %w", err)
			}
			channel = ch
		}
		acfg := sqsadapter.Config{
			Broker:      broker,
			QueueURL:    sc.QueueURL,
			Channel:     channel,
			WaitTime:    time.Duration(sc.WaitTimeSeconds) * time.Second,
			MaxMessages: sc.MaxMessages,
			Logger:      logger,
		}
		var adapter *sqsadapter.Adapter
		if cfg.SQSClient != nil {
			acfg.Client = cfg.SQSClient
			adapter, err = sqsadapter.New(acfg)
		} else {
			adapter, err = sqsadapter.NewFromEnv(ctx, acfg)
		}
		if err != nil {
			return nil, fmt.Errorf("build sqs transport: %w", err)
		}
		r.sqs = adapter
	}

	if len(cfg.Config.Schedules) > 0 {
		emitter, err := schedule.NewEmitter(schedule.Config{
			Broker: broker,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build schedule emitter: %w", err)
		}
		for i, sc := range cfg.Config.Schedules {
			entry := schedule.Entry{
				Cron:  sc.Cron,
				Event: sc.Event,
			}
			if sc.Channel != "" {
				ch, err := pollen.ParseChannel(sc.Channel)
				if err != nil {
					return nil, fmt.Errorf("schedules[%d]: %w", i, err)
				}
				entry.Channel = ch
			}
			if sc.Payload != "" {
				entry.Payload = []byte(sc.Payload)
			}
			if err := emitter.Add(entry); err != nil {
				return nil, fmt.Errorf("schedules[%d]: %w", i, err)
			}
		}
		r.emitter = emitter
	}

	for i, fc := range cfg.Config.Forwards {
		if err := r.registerForward(i, fc); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// registerForward subscribes a handler that republishes matched events to the
// named transport. The delivery channel rides along on redis forwards so the
// event lands on the same logical channel remotely.
func (r *Relay) registerForward(index int, fc ForwardConfig) error {
	pattern, err := pollen.ParsePattern(fc.Pattern)
	if err != nil {
		return fmt.Errorf("forwards[%d]: %w", index, err)
	}

	id := fmt.Sprintf("forward-%d-%s", index, fc.To)
	var fn func(ctx context.Context, e pollen.Event) error
	switch fc.To {
	case transportRedis:
		if r.redis == nil {
			return fmt.Errorf("forwards[%d]: redis transport is not configured", index)
		}
		adapter := r.redis
		fn = func(ctx context.Context, e pollen.Event) error {
			return adapter.Publish(ctx, e, pollen.ChannelFromContext(ctx))
		}
	case transportSQS:
		if r.sqs == nil {
			return fmt.Errorf("forwards[%d]: sqs transport is not configured", index)
		}
		adapter := r.sqs
		fn = func(ctx context.Context, e pollen.Event) error {
			return adapter.Send(ctx, e)
		}
	default:
		return fmt.Errorf("forwards[%d]: unknown transport %q", index, fc.To)
	}

	if err := r.broker.Register(pattern, pollen.NewHandler(id, fn)); err != nil {
		return fmt.Errorf("forwards[%d]: %w", index, err)
	}
	return nil
}

// Broker returns the relay's broker, for registering process-local handlers
// alongside the configured transports.
func (r *Relay) Broker() *pollen.Broker {
	return r.broker
}

// Run starts the schedule emitter and the transport loops, then blocks until
// ctx is canceled. On cancellation it stops the emitter, waits for the
// transports, drains the broker, and closes any client the relay owns. A
// relay runs once; a second Run returns an error.
func (r *Relay) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("daemon: relay already ran")
	}
	r.started = true
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.emitter != nil {
		if err := r.emitter.Start(runCtx); err != nil {
			return fmt.Errorf("start schedule emitter: %w", err)
		}
	}

	var wg sync.WaitGroup
	if r.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.redis.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("redis transport stopped", "error", err)
			}
		}()
	}
	if r.sqs != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.sqs.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("sqs transport stopped", "error", err)
			}
		}()
	}

	r.logger.Info("relay running",
		"redis", r.redis != nil,
		"sqs", r.sqs != nil,
		"schedules", r.scheduleCount(),
		"handlers", r.broker.Registry().Len(),
	)

	<-ctx.Done()
	r.logger.Info("relay shutting down")

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), brokerCloseTimeout)
	defer shutdownCancel()
	if r.emitter != nil {
		if err := r.emitter.Stop(shutdownCtx); err != nil {
			r.logger.Warn("schedule emitter stop", "error", err)
		}
	}
	if err := r.broker.Close(shutdownCtx); err != nil {
		r.logger.Warn("broker close", "error", err)
	}
	if r.ownedRedis != nil {
		if err := r.ownedRedis.Close(); err != nil {
			r.logger.Warn("redis client close", "error", err)
		}
	}
	return nil
}

func (r *Relay) scheduleCount() int {
	if r.emitter == nil {
		return 0
	}
	return r.emitter.Len()
}

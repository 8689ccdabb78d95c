package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/petal-labs/pollen"
	"github.com/petal-labs/pollen/daemon"
	"github.com/petal-labs/pollen/redisadapter"
	"github.com/petal-labs/pollen/sqsadapter"
)

// NewEmitCmd creates the emit command.
func NewEmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit <event-name>",
		Short: "Publish one event through a configured transport",
		Long: `Emit loads the relay config, connects to one of its transports,
and publishes a single event. The payload must be valid JSON. With no
--channel and no default in the config, the event broadcasts to every
handler on the receiving side.`,
		Args: cobra.ExactArgs(1),
		RunE: runEmit,
	}
	cmd.Flags().String("config", "", "Path to the relay config file")
	cmd.Flags().String("transport", "", "Transport to publish through (redis or sqs)")
	cmd.Flags().String("channel", "", "Channel to address, as kind:name (default: from config)")
	cmd.Flags().String("payload", "", "Inline JSON payload")
	cmd.Flags().String("payload-file", "", "Path to a JSON payload file")
	cmd.Flags().Duration("timeout", 10*time.Second, "Publish timeout")
	return cmd
}

func runEmit(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadRelayConfig(cmd)
	if err != nil {
		return err
	}
	payload, err := resolvePayload(cmd)
	if err != nil {
		return err
	}
	transport, err := resolveTransport(cmd, cfg)
	if err != nil {
		return err
	}
	ch, err := resolveChannel(cmd, cfg, transport)
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	e := pollen.NewMessage(args[0], payload)
	if err := publish(ctx, cfg, transport, e, ch); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "emitted %s to %s via %s (id %s)\n",
		e.Name(), channelLabel(ch), transport, e.ID())
	return nil
}

// resolvePayload reads the payload flags. Inline and file payloads are
// mutually exclusive; whichever is given must be valid JSON.
func resolvePayload(cmd *cobra.Command) ([]byte, error) {
	inline, _ := cmd.Flags().GetString("payload")
	file, _ := cmd.Flags().GetString("payload-file")

	if inline != "" && file != "" {
		return nil, exitError(exitUsage, "cannot specify both --payload and --payload-file")
	}

	var payload []byte
	switch {
	case inline != "":
		payload = []byte(inline)
	case file != "":
		data, err := os.ReadFile(file) // #nosec G304 -- path from user CLI flag
		if err != nil {
			return nil, exitError(exitFileNotFound, "reading payload file: %v", err)
		}
		payload = data
	default:
		return nil, nil
	}

	if !json.Valid(payload) {
		return nil, exitError(exitUsage, "payload is not valid JSON")
	}
	return payload, nil
}

// resolveTransport picks the transport to publish through. Without a
// --transport flag the config must define exactly one.
func resolveTransport(cmd *cobra.Command, cfg daemon.Config) (string, error) {
	transport, _ := cmd.Flags().GetString("transport")
	switch transport {
	case "redis":
		if cfg.Redis == nil {
			return "", exitError(exitConfig, "redis transport is not configured")
		}
		return transport, nil
	case "sqs":
		if cfg.SQS == nil {
			return "", exitError(exitConfig, "sqs transport is not configured")
		}
		return transport, nil
	case "":
		switch {
		case cfg.Redis != nil && cfg.SQS != nil:
			return "", exitError(exitUsage, "config defines both transports, pass --transport")
		case cfg.Redis != nil:
			return "redis", nil
		case cfg.SQS != nil:
			return "sqs", nil
		default:
			return "", exitError(exitConfig, "config defines no transport")
		}
	default:
		return "", exitError(exitUsage, "unknown transport %q (use redis or sqs)", transport)
	}
}

// resolveChannel picks the channel to address: the --channel flag, then the
// SQS section's channel when publishing to SQS, then the broker default.
func resolveChannel(cmd *cobra.Command, cfg daemon.Config, transport string) (pollen.Channel, error) {
	raw, _ := cmd.Flags().GetString("channel")
	if raw == "" {
		if transport == "sqs" && cfg.SQS != nil && cfg.SQS.Channel != "" {
			raw = cfg.SQS.Channel
		} else {
			raw = cfg.Broker.DefaultChannel
		}
	}
	if raw == "" {
		return pollen.Channel{}, nil
	}
	ch, err := pollen.ParseChannel(raw)
	if err != nil {
		return pollen.Channel{}, exitError(exitUsage, "invalid channel: %v", err)
	}
	return ch, nil
}

// publish sends e through the chosen transport. The adapters require a
// broker; emit never receives, so an empty one satisfies them.
func publish(ctx context.Context, cfg daemon.Config, transport string, e pollen.Event, ch pollen.Channel) error {
	broker, err := pollen.NewBroker(pollen.Config{})
	if err != nil {
		return exitError(exitRuntime, "creating broker: %v", err)
	}

	switch transport {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()

		adapter, err := redisadapter.New(redisadapter.Config{
			Broker: broker,
			Client: client,
			Prefix: cfg.Redis.Prefix,
		})
		if err != nil {
			return exitError(exitTransport, "creating redis adapter: %v", err)
		}
		if err := adapter.Publish(ctx, e, ch); err != nil {
			return exitError(exitTransport, "publishing to redis: %v", err)
		}
	case "sqs":
		adapter, err := sqsadapter.NewFromEnv(ctx, sqsadapter.Config{
			Broker:   broker,
			QueueURL: cfg.SQS.QueueURL,
			Channel:  ch,
		})
		if err != nil {
			return exitError(exitTransport, "creating sqs adapter: %v", err)
		}
		if err := adapter.Send(ctx, e); err != nil {
			return exitError(exitTransport, "sending to sqs: %v", err)
		}
	}
	return nil
}

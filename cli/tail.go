package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/pollen"
	"github.com/petal-labs/pollen/daemon"
)

// NewTailCmd creates the tail command.
func NewTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events arriving on the configured transports",
		Long: `Tail connects the configured transports to an in-process broker,
subscribes to the given channel patterns, and prints one line per delivery
until interrupted. Schedules and forwards in the config are ignored; a tail
is a passive observer. Note that tailing an SQS queue consumes its messages
the same way any other receiver would.`,
		Args: cobra.NoArgs,
		RunE: runTail,
	}
	cmd.Flags().String("config", "", "Path to the relay config file")
	cmd.Flags().StringArray("pattern", []string{"topic:*", "queue:*"},
		"Channel pattern to subscribe, as kind:expr (repeatable)")
	return cmd
}

func runTail(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadRelayConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Schedules = nil
	cfg.Forwards = nil

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := daemon.NewRelay(ctx, daemon.RelayConfig{Config: cfg})
	if err != nil {
		return exitError(exitConfig, "building relay: %v", err)
	}

	out := cmd.OutOrStdout()
	patterns, _ := cmd.Flags().GetStringArray("pattern")
	for i, raw := range patterns {
		p, err := pollen.ParsePattern(raw)
		if err != nil {
			return exitError(exitUsage, "invalid pattern %q: %v", raw, err)
		}
		h := printingHandler(fmt.Sprintf("tail-%d", i), out)
		if err := relay.Broker().Register(p, h); err != nil {
			return exitError(exitRuntime, "subscribing %s: %v", p, err)
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "tailing %s (ctrl-c to stop)\n", path)
	if err := relay.Run(ctx); err != nil {
		return exitError(exitRuntime, "relay stopped: %v", err)
	}
	return nil
}

// printingHandler writes one line per delivery: timestamp, channel, event
// name, and the payload when there is one.
func printingHandler(id string, w io.Writer) pollen.Handler {
	return pollen.NewHandler(id, func(ctx context.Context, e pollen.Event) error {
		ch := pollen.ChannelFromContext(ctx)
		ts := time.Now().UTC().Format(time.RFC3339)
		if m, ok := e.(*pollen.Message); ok && len(m.Payload) > 0 {
			fmt.Fprintf(w, "%s %s %s %s\n", ts, channelLabel(ch), e.Name(), m.Payload)
			return nil
		}
		fmt.Fprintf(w, "%s %s %s\n", ts, channelLabel(ch), e.Name())
		return nil
	})
}

package cli

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/petal-labs/pollen"
)

// NewDemoCmd creates the demo command.
func NewDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run an in-process delivery showcase",
		Long: `Demo wires a broker entirely in memory and walks through topic
fan-out, queue first-match delivery, wildcard patterns, and asynchronous
delivery. It needs no configuration or external services.`,
		Args: cobra.NoArgs,
		RunE: runDemo,
	}
	return cmd
}

func runDemo(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	broker, err := pollen.NewBroker(pollen.Config{})
	if err != nil {
		return exitError(exitRuntime, "creating broker: %v", err)
	}

	fmt.Fprintln(out, "-- topic fan-out --")
	fmt.Fprintln(out, "two handlers subscribe topic:^orders$")
	if err := registerAll(broker,
		binding{pollen.MustPattern(pollen.KindTopic, `^orders$`), echoHandler(out, "billing")},
		binding{pollen.MustPattern(pollen.KindTopic, `^orders$`), echoHandler(out, "analytics")},
	); err != nil {
		return err
	}
	fmt.Fprintln(out, "emit order.placed -> topic:orders")
	broker.EmitTo(ctx, pollen.NewMessage("order.placed", nil), pollen.NewTopic("orders"))

	fmt.Fprintln(out, "\n-- queue first match --")
	fmt.Fprintln(out, "two handlers subscribe queue:^jobs$, only the first receives")
	if err := registerAll(broker,
		binding{pollen.MustPattern(pollen.KindQueue, `^jobs$`), echoHandler(out, "worker-a")},
		binding{pollen.MustPattern(pollen.KindQueue, `^jobs$`), echoHandler(out, "worker-b")},
	); err != nil {
		return err
	}
	fmt.Fprintln(out, "emit job.created -> queue:jobs")
	broker.EmitTo(ctx, pollen.NewMessage("job.created", nil), pollen.NewQueue("jobs"))

	fmt.Fprintln(out, "\n-- wildcard patterns --")
	fmt.Fprintln(out, `audit subscribes topic:*, eu-router subscribes topic:eu\.`)
	if err := registerAll(broker,
		binding{pollen.MustPattern(pollen.KindTopic, pollen.MatchAll), echoHandler(out, "audit")},
		binding{pollen.MustPattern(pollen.KindTopic, `eu\.`), echoHandler(out, "eu-router")},
	); err != nil {
		return err
	}
	fmt.Fprintln(out, "emit order.placed -> topic:eu.orders")
	broker.EmitTo(ctx, pollen.NewMessage("order.placed", nil), pollen.NewTopic("eu.orders"))
	fmt.Fprintln(out, "emit order.placed -> topic:us.orders")
	broker.EmitTo(ctx, pollen.NewMessage("order.placed", nil), pollen.NewTopic("us.orders"))

	fmt.Fprintln(out, "\n-- async mode --")
	if err := runAsyncDemo(ctx, out); err != nil {
		return err
	}

	stats := broker.Stats()
	fmt.Fprintf(out, "\nsync broker: emitted=%d delivered=%d errors=%d\n",
		stats.Emitted, stats.Delivered, stats.HandlerErrors)
	return nil
}

// runAsyncDemo emits a burst through a second broker in async mode and
// drains it with Close.
func runAsyncDemo(ctx context.Context, out io.Writer) error {
	const events = 5

	broker, err := pollen.NewBroker(pollen.Config{
		Mode:      pollen.ModeAsync,
		QueueSize: 16,
		Workers:   2,
	})
	if err != nil {
		return exitError(exitRuntime, "creating async broker: %v", err)
	}

	var handled atomic.Int64
	counter := pollen.NewHandler("counter", func(_ context.Context, _ pollen.Event) error {
		handled.Add(1)
		return nil
	})
	if err := broker.Register(pollen.MustPattern(pollen.KindTopic, pollen.MatchAll), counter); err != nil {
		return exitError(exitRuntime, "registering counter: %v", err)
	}

	for i := 0; i < events; i++ {
		broker.Emit(ctx, pollen.NewMessage(fmt.Sprintf("burst.%d", i), nil))
	}
	if err := broker.Close(ctx); err != nil {
		return exitError(exitRuntime, "draining async broker: %v", err)
	}
	fmt.Fprintf(out, "%d events drained by 2 workers\n", handled.Load())
	return nil
}

// binding pairs a pattern with a handler for bulk registration.
type binding struct {
	pattern pollen.Pattern
	handler pollen.Handler
}

func registerAll(broker *pollen.Broker, bindings ...binding) error {
	for _, b := range bindings {
		if err := broker.Register(b.pattern, b.handler); err != nil {
			return exitError(exitRuntime, "registering %s: %v", b.handler.ID(), err)
		}
	}
	return nil
}

// echoHandler prints each delivery it receives.
func echoHandler(w io.Writer, id string) pollen.Handler {
	return pollen.NewHandler(id, func(_ context.Context, e pollen.Event) error {
		fmt.Fprintf(w, "  [%s] %s\n", id, e.Name())
		return nil
	})
}

package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/petal-labs/pollen"
	"github.com/petal-labs/pollen/daemon"
	pollenotel "github.com/petal-labs/pollen/otel"
)

// NewRelayCmd creates the relay command.
func NewRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay daemon",
		Long: `Relay connects the configured transports to an in-process broker,
starts the configured schedules, registers the configured forwards, and
serves until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runRelay,
	}
	cmd.Flags().String("config", "", "Path to the relay config file")
	cmd.Flags().String("otlp-endpoint", "", "OTLP collector endpoint for traces (host:port)")
	cmd.Flags().Bool("otlp-insecure", true, "Use plain HTTP for the OTLP endpoint")
	return cmd
}

func runRelay(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadRelayConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var observer pollen.Observer
	if endpoint, _ := cmd.Flags().GetString("otlp-endpoint"); endpoint != "" {
		insecure, _ := cmd.Flags().GetBool("otlp-insecure")
		shutdown, err := setupTracing(ctx, endpoint, insecure)
		if err != nil {
			return exitError(exitRuntime, "initializing tracing: %v", err)
		}
		defer shutdown()

		observer, err = pollenotel.NewBrokerObserver(
			otelapi.GetMeterProvider().Meter("pollen/bus"),
			otelapi.GetTracerProvider().Tracer("pollen/bus"),
		)
		if err != nil {
			return exitError(exitRuntime, "initializing broker observability: %v", err)
		}
	}

	relay, err := daemon.NewRelay(ctx, daemon.RelayConfig{
		Config:   cfg,
		Logger:   slog.Default(),
		Observer: observer,
	})
	if err != nil {
		return exitError(exitConfig, "building relay: %v", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "relay running with %s (ctrl-c to stop)\n", path)
	if err := relay.Run(ctx); err != nil {
		return exitError(exitRuntime, "relay stopped: %v", err)
	}
	return nil
}

package cli

import (
	"log/slog"
	"os"
)

// ConfigureLogging sets the process-wide default logger from the global
// verbosity flags. Quiet wins over verbose when both are set.
func ConfigureLogging(verbose, quiet bool) {
	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

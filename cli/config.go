package cli

import (
	"github.com/spf13/cobra"

	"github.com/petal-labs/pollen"
	"github.com/petal-labs/pollen/daemon"
)

// loadRelayConfig discovers and loads the relay config, honoring the
// command's --config flag. It returns the config and the path it came from.
func loadRelayConfig(cmd *cobra.Command) (daemon.Config, string, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := daemon.DiscoverConfigPath(explicit)
	if err != nil {
		return daemon.Config{}, "", exitError(exitConfig, "%v", err)
	}
	if !found {
		return daemon.Config{}, "", exitError(exitConfig,
			"no config file found (create ./pollen.yaml or pass --config)")
	}
	cfg, err := daemon.LoadConfig(path)
	if err != nil {
		return daemon.Config{}, "", exitError(exitConfig, "loading %s: %v", path, err)
	}
	return cfg, path, nil
}

// channelLabel renders a channel for output; the zero channel reads as "all"
// because it addresses every handler.
func channelLabel(ch pollen.Channel) string {
	if ch.IsZero() {
		return "all"
	}
	return ch.String()
}

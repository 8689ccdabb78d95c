package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/pollen/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pollen",
	Short: "Pollen event relay CLI",
	Long:  "Pollen is an in-process publish/subscribe broker with transport relays. This CLI runs and inspects one.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		quiet, _ := cmd.Flags().GetBool("quiet")
		cli.ConfigureLogging(verbose, quiet)
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("pollen version %s\n", version))

	rootCmd.AddCommand(cli.NewDemoCmd())
	rootCmd.AddCommand(cli.NewEmitCmd())
	rootCmd.AddCommand(cli.NewTailCmd())
	rootCmd.AddCommand(cli.NewRelayCmd())
}

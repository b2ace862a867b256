// Package commands implements the CLI for the swiftnbd server.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/usebox/swiftnbd/internal/logger"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "swiftnbd",
	Short: "NBD server for OpenStack Object Storage (Swift)",
	Long: `swiftnbd exposes Swift containers as network block devices.

Each export in the secrets file maps one container to one NBD export;
reads and writes are translated into object GETs and PUTs against the
container. Use swiftnbdctl to set up and manage the containers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logger.Error(err.Error())
	}
	return err
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

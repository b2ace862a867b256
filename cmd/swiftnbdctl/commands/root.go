// Package commands implements the swiftnbdctl control tool.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usebox/swiftnbd/internal/logger"
	"github.com/usebox/swiftnbd/pkg/config"
	"github.com/usebox/swiftnbd/pkg/swift"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Flags shared by every subcommand.
var (
	flagSecrets string
	flagAuthURL string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "swiftnbdctl",
	Short: "swiftnbd control tool",
	Long: `swiftnbdctl sets up, inspects and manages the Swift containers used
as swiftnbd exports.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "INFO"
		if flagVerbose {
			level = "DEBUG"
		}
		logger.SetLevel(level)
	},
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
	rootCmd.PersistentFlags().StringVar(&flagSecrets, "secrets", config.DefaultSecretsFile,
		"Filename containing user/password")
	rootCmd.PersistentFlags().StringVarP(&flagAuthURL, "auth-url", "a", config.DefaultAuthURL,
		"Default authentication URL")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// dialContainer authenticates with the container's credentials from the
// secrets file and returns a store bound to it.
func dialContainer(ctx context.Context, container string) (swift.Store, error) {
	export, err := config.LoadSecretsExport(flagSecrets, container, flagAuthURL)
	if err != nil {
		return nil, err
	}

	conn, err := swift.Dial(ctx, swift.Auth{
		AuthURL:  export.AuthURL,
		Username: export.Username,
		Password: export.Password,
	})
	if err != nil {
		return nil, err
	}
	return swift.New(conn, container), nil
}

// containerMeta fetches and parses the container's swiftnbd metadata.
// A container that exists but has not been set up yields an error.
func containerMeta(ctx context.Context, st swift.Store) (swift.Metadata, error) {
	headers, err := st.ContainerHeaders(ctx)
	if err != nil {
		if errors.Is(err, swift.ErrNotFound) {
			return nil, fmt.Errorf("%s doesn't exist", st.Container())
		}
		return nil, err
	}

	meta := swift.ParseMeta(headers)
	if len(meta) == 0 {
		return nil, fmt.Errorf("%s hasn't been setup to be used with swiftnbd", st.Container())
	}
	return meta, nil
}

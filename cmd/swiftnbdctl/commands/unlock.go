package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usebox/swiftnbd/internal/logger"
	"github.com/usebox/swiftnbd/pkg/swift"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <container>",
	Short: "Unlock a container",
	Long: `Clear a container's lock, for example after a server crash left it
behind. The previous holder is retained in the last metadata key.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		container := args[0]

		st, err := dialContainer(ctx, container)
		if err != nil {
			return err
		}

		meta, err := containerMeta(ctx, st)
		if err != nil {
			return err
		}
		if meta.Client() == "" {
			return fmt.Errorf("%s is not locked, nothing to do", container)
		}

		logger.Info("Current lock", "container", container, "client", meta.Client())

		meta[swift.MetaLast] = meta.Client()
		meta[swift.MetaClient] = ""
		if err := st.UpdateContainer(ctx, meta.Headers()); err != nil {
			return err
		}

		logger.Info("Done, container is unlocked", "container", container)
		return nil
	},
}

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/usebox/swiftnbd/internal/logger"
	"github.com/usebox/swiftnbd/pkg/swift"
)

var lockCmd = &cobra.Command{
	Use:   "lock <container>",
	Short: "Lock a container",
	Args:  cobra.ExactArgs(1),
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
		if meta.Client() != "" {
			return fmt.Errorf("%s is already locked: %s", container, meta.Client())
		}

		meta[swift.MetaClient] = fmt.Sprintf("ctl@%d", time.Now().Unix())
		if err := st.UpdateContainer(ctx, meta.Headers()); err != nil {
			return err
		}

		logger.Info("Done, container is locked", "container", container, "client", meta.Client())
		return nil
	},
}

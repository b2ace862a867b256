package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/usebox/swiftnbd/internal/logger"
	"github.com/usebox/swiftnbd/pkg/store"
	"github.com/usebox/swiftnbd/pkg/swift"
)

var (
	setupObjectSize int
	setupForce      bool
)

var setupCmd = &cobra.Command{
	Use:   "setup <container> <objects>",
	Short: "Setup a container to be used by the server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		container := args[0]

		objects, err := strconv.Atoi(args[1])
		if err != nil || objects <= 0 {
			return fmt.Errorf("invalid number of objects %q", args[1])
		}
		if setupObjectSize <= 0 {
			return fmt.Errorf("invalid object size %d", setupObjectSize)
		}

		st, err := dialContainer(ctx, container)
		if err != nil {
			return err
		}

		headers, err := st.ContainerHeaders(ctx)
		switch {
		case errors.Is(err, swift.ErrNotFound):
			logger.Warn("Container doesn't exist, will be created", "container", container)
		case err != nil:
			return err
		default:
			if len(swift.ParseMeta(headers)) > 0 && !setupForce {
				return fmt.Errorf("%s has already been setup", container)
			}
		}

		meta := swift.Metadata{
			swift.MetaVersion:    store.DiskVersion,
			swift.MetaObjects:    strconv.Itoa(objects),
			swift.MetaObjectSize: strconv.Itoa(setupObjectSize),
			swift.MetaClient:     "",
			swift.MetaLast:       "",
		}
		if err := st.CreateContainer(ctx, meta.Headers()); err != nil {
			return err
		}

		logger.Info("Done", "container", container,
			"objects", objects, "object_size", setupObjectSize,
			"size", int64(objects)*int64(setupObjectSize))
		return nil
	},
}

func init() {
	setupCmd.Flags().IntVar(&setupObjectSize, "object-size", 65536, "Object size in bytes")
	setupCmd.Flags().BoolVarP(&setupForce, "force", "f", false, "Force operation")
}

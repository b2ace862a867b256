package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/usebox/swiftnbd/internal/bytesize"
	"github.com/usebox/swiftnbd/internal/logger"
	"github.com/usebox/swiftnbd/pkg/store"
)

var downloadQuiet bool

var downloadCmd = &cobra.Command{
	Use:   "download <container> <file>",
	Short: "Download a container as a raw image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		container, image := args[0], args[1]

		sw, err := dialContainer(ctx, container)
		if err != nil {
			return err
		}

		meta, err := containerMeta(ctx, sw)
		if err != nil {
			return err
		}
		if meta.Client() != "" {
			return fmt.Errorf("%s is locked, downloading a container in use is unreliable", container)
		}

		st, err := store.Open(ctx, sw, 0, true)
		if err != nil {
			return err
		}
		if err := st.Lock(ctx, "ctl-download"); err != nil {
			return err
		}
		defer func() {
			if err := st.Unlock(ctx); err != nil {
				logger.Warn("Failed to unlock container", "container", container, "error", err)
			}
		}()

		out, err := os.Create(image)
		if err != nil {
			return err
		}
		defer out.Close()

		var written int64
		if err := st.Seek(0); err != nil {
			return err
		}
		for {
			data, err := st.Read(ctx, st.ObjectSize())
			if err != nil {
				return err
			}
			if len(data) == 0 {
				break
			}
			if _, err := out.Write(data); err != nil {
				return err
			}
			written += int64(len(data))
			if !downloadQuiet {
				fmt.Fprintf(os.Stdout, "\rDownloading %s [%.2d%%]", container, 100*written/st.Size())
			}
		}
		if !downloadQuiet {
			fmt.Fprint(os.Stdout, "\r")
		}

		logger.Info("Done", "container", container, "bytes", bytesize.ByteSize(written).String())
		return nil
	},
}

func init() {
	downloadCmd.Flags().BoolVarP(&downloadQuiet, "quiet", "q", false, "Don't show the progress bar")
}

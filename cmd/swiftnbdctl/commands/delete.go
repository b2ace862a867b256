package commands

import (
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/usebox/swiftnbd/internal/logger"
)

// deletePageSize matches the default container listing limit in Swift.
const deletePageSize = 10000

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <container>",
	Short: "Delete a container",
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
			return fmt.Errorf("%s is locked: %s", container, meta.Client())
		}

		if !deleteYes {
			prompt := promptui.Prompt{
				Label:     fmt.Sprintf("Delete %s and all its objects", container),
				IsConfirm: true,
			}
			if _, err := prompt.Run(); err != nil {
				return fmt.Errorf("aborted")
			}
		}

		deleted := 0
		marker := ""
		for {
			names, err := st.ListObjects(ctx, marker, deletePageSize)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				break
			}

			for _, name := range names {
				if err := st.DeleteObject(ctx, name); err != nil {
					return fmt.Errorf("failed to delete %s: %w", name, err)
				}
				deleted++
			}

			if len(names) < deletePageSize {
				break
			}
			marker = names[len(names)-1]
			logger.Debug("More objects to delete", "container", container, "marker", marker)
		}

		if err := st.DeleteContainer(ctx); err != nil {
			return fmt.Errorf("failed to delete %s: %w", container, err)
		}

		logger.Info("Done, container has been deleted", "container", container, "objects", deleted)
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Don't ask for confirmation")
}

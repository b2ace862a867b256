package commands

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/usebox/swiftnbd/internal/logger"
	"github.com/usebox/swiftnbd/pkg/config"
	"github.com/usebox/swiftnbd/pkg/swift"
)

var listSimple bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all containers and their information",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		exports, err := config.LoadSecrets(flagSecrets, flagAuthURL)
		if err != nil {
			return err
		}

		var table *tablewriter.Table
		if !listSimple {
			table = tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Container", "Objects", "Object Size", "Version", "Lock"})
		}

		for _, export := range exports {
			conn, err := swift.Dial(ctx, swift.Auth{
				AuthURL:  export.AuthURL,
				Username: export.Username,
				Password: export.Password,
			})
			if err != nil {
				logger.Error("Authentication failed", "container", export.Name, "error", err)
				continue
			}

			row := describeContainer(cmd, swift.New(conn, export.Name))
			if listSimple {
				fmt.Println(row.simple())
			} else {
				table.Append(row.columns())
			}
		}

		if !listSimple {
			table.Render()
		}
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listSimple, "simple-output", "s", false, "Write simplified output to stdout")
}

type containerRow struct {
	name       string
	objects    string
	objectSize string
	version    string
	lock       string
	setup      bool
}

func describeContainer(cmd *cobra.Command, st swift.Store) containerRow {
	row := containerRow{name: st.Container()}

	meta, err := containerMeta(cmd.Context(), st)
	if err != nil {
		row.lock = err.Error()
		return row
	}

	row.setup = true
	row.objects = meta[swift.MetaObjects]
	row.objectSize = meta[swift.MetaObjectSize]
	row.version = meta.Version()
	if client := meta.Client(); client != "" {
		row.lock = "locked by " + client
	} else {
		row.lock = "unlocked"
	}
	return row
}

func (r containerRow) columns() []string {
	return []string{r.name, r.objects, r.objectSize, r.version, r.lock}
}

func (r containerRow) simple() string {
	if !r.setup {
		return fmt.Sprintf("%s is not a swiftnbd container", r.name)
	}
	return fmt.Sprintf("%s objects=%s size=%s (version=%s, %s)",
		r.name, r.objects, r.objectSize, r.version, r.lock)
}

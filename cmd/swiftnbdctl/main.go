// Command swiftnbdctl manages the containers behind swiftnbd exports.
package main

import (
	"os"

	"github.com/usebox/swiftnbd/cmd/swiftnbdctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

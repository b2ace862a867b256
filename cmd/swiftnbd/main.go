// Command swiftnbd serves OpenStack Swift containers as NBD block devices.
package main

import (
	"os"

	"github.com/usebox/swiftnbd/cmd/swiftnbd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command turbocache runs a turbocache scheduler/cache process ("serve") or
// a worker process ("worker") from a single binary, following the
// teacher's cmd/dittofs cobra composition.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/turbocache/cmd/turbocache/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

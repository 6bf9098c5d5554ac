// Command turbocache-admin provides interactive operator commands for a
// running turbocache deployment, following the teacher's cmd/dfsctl
// pattern of a small standalone admin CLI alongside the main server binary.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/turbocache/cmd/turbocache-admin/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

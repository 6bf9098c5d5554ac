// Package commands implements the turbocache-admin CLI.
package commands

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:           "turbocache-admin",
	Short:         "Interactive operator commands for a turbocache deployment",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the admin CLI. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(drainCmd)
}

// Package cmd defines the proxy binary's cobra command tree: serve, bench,
// and qtable export/import. Grounded on the pack's cobra-based CLI
// convention of a root command with persistent flags and one file per
// subcommand.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Adaptive, Q-learning-routed reverse proxy",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(qtableCmd)
}

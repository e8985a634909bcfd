// Package cli defines the pulsemon command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "pulsemon",
	Short: "Coding session activity monitor",
	Long:  "Tails coding assistant session logs, strips anything sensitive, and ships signed activity metadata to a pulsehub.",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

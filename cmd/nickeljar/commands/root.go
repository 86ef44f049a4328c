// Package commands implements the nickeljar CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nickeljar",
		Short: "nickeljar - a chat companion that keeps a swear jar",
		Long: `nickeljar joins Discord channels, answers when mentioned using a local
completion service, and drops a nickel in the jar for every flagged word.

Examples:
  nickeljar serve
  nickeljar classify "well nickels"
  nickeljar jar --guild "Coin Club"
  nickeljar models pull llama3.2`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newHealthCmd(),
		newModelsCmd(),
		newClassifyCmd(),
		newTokensCmd(),
		newJarCmd(),
		newKeyringCmd(),
		newConfigCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	return rootCmd
}

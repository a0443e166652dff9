// Package cmd contains the uchat CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "uchat",
	Short: "uchat - streaming chat gateway",
	Long: `uchat is the HTTP gateway of the chat service. It forwards prompts
to the completion provider, reduces the provider's SSE stream into the
session transcript, and re-serves the canonical event stream to browsers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

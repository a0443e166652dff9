package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the build version, overridden at link time with
// -ldflags "-X github.com/uchat-ai/uchat/cmd.Version=...".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("uchat %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version holds the CLI version. Set at build time using -ldflags.
var Version = "0.0.0-dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tether version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tether %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tether-dev/tether-core/cli"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that required tools are installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		prereqs := cli.DefaultPrerequisites()
		results := cli.CheckAll(prereqs)
		fmt.Print(cli.FormatCheckResults(results))
		return cli.ValidateRequired(prereqs)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

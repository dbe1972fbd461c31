package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tether-dev/tether-core/logger"
	"github.com/tether-dev/tether-core/process"
)

var cleanLogs bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Kill orphaned worker processes",
	Long: `The clean command finds worker processes whose host has died and kills
them. A worker with no host reading its output sits idle forever and holds
its session's resources.

With --logs, the host and stream log files are removed as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		killed, err := process.CleanupOrphanedWorkers()
		if err != nil {
			return err
		}
		if killed == 0 {
			pterm.Println("No orphaned workers found.")
		} else {
			pterm.Printf("Killed %d orphaned worker(s)\n", killed)
		}

		if cleanLogs {
			removed, err := logger.ClearLogs()
			if err != nil {
				return err
			}
			pterm.Printf("Removed %d log file(s)\n", removed)
		}
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanLogs, "logs", false, "also remove log files")
	rootCmd.AddCommand(cleanCmd)
}

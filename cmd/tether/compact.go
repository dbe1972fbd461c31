package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tether-dev/tether-core/bridge"
)

var (
	compactSessionName string
)

var compactCmd = &cobra.Command{
	Use:   "compact [focus...]",
	Short: "Summarize a session's conversation to reclaim context",
	Long: `The compact command asks the worker to replace the session's conversation
with a summary, freeing context for further prompts. Optional arguments steer
what the summary should focus on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, sm, err := openManager()
		if err != nil {
			return err
		}
		defer st.Close()
		defer sm.StopAll()

		sess, err := resolveSession(cfg, sm, compactSessionName, "", false)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		focus := strings.Join(args, " ")
		events, err := sm.CompactSession(ctx, sess.ID, focus)
		if errors.Is(err, bridge.ErrNoSession) {
			return fmt.Errorf("session %q has no conversation to compact yet", sess.Name)
		}
		if err != nil {
			return err
		}

		res := streamEvents(events)
		if res == nil {
			return fmt.Errorf("stream ended without a result")
		}
		if res.IsError {
			return fmt.Errorf("compaction failed: %s", res.ErrorMessage)
		}
		return nil
	},
}

func init() {
	compactCmd.Flags().StringVarP(&compactSessionName, "session", "s", "default", "Session name to compact")
	rootCmd.AddCommand(compactCmd)
}

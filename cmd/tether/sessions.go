package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tether-dev/tether-core/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and manage sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, sm, err := openManager()
		if err != nil {
			return err
		}
		defer st.Close()
		defer sm.StopAll()

		sessions := cfg.GetSessions()
		if len(sessions) == 0 {
			pterm.Println("No sessions. Create one with: tether sessions new <name>")
			return nil
		}

		data := pterm.TableData{
			{"NAME", "CWD", "MODEL", "CONTEXT", "COST", "LAST ACTIVE"},
		}
		for _, sess := range sessions {
			model := sess.Model
			if model == "" {
				model = "-"
			}
			lastActive := "-"
			if !sess.LastActiveAt.IsZero() {
				lastActive = sess.LastActiveAt.Format("2006-01-02 15:04")
			}
			data = append(data, []string{
				sess.Name,
				sess.Cwd,
				model,
				fmt.Sprintf("%d", sess.ContextTokens),
				fmt.Sprintf("$%.4f", sess.CostUSD),
				lastActive,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var sessionsNewCwd string

var sessionsNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, sm, err := openManager()
		if err != nil {
			return err
		}
		defer st.Close()
		defer sm.StopAll()

		name := args[0]
		if cfg.FindSessionByName(name) != nil {
			return fmt.Errorf("session %q already exists", name)
		}

		cwd := sessionsNewCwd
		if cwd == "" {
			if cwd, err = os.Getwd(); err != nil {
				return err
			}
		}

		sess, err := sm.CreateSession(name, cwd)
		if err != nil {
			return err
		}
		pterm.Printf("Created session %s in %s\n", pterm.NewStyle(pterm.Bold).Sprint(sess.Name), sess.Cwd)
		return nil
	},
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete a session and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, sm, err := openManager()
		if err != nil {
			return err
		}
		defer st.Close()
		defer sm.StopAll()

		sess := cfg.FindSessionByName(args[0])
		if sess == nil {
			return fmt.Errorf("no session named %q", args[0])
		}
		if err := sm.DeleteSession(sess.ID); err != nil {
			return err
		}
		pterm.Printf("Deleted session %s\n", sess.Name)
		return nil
	},
}

var sessionsShowLimit int

var sessionsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a session's archived transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, sm, err := openManager()
		if err != nil {
			return err
		}
		defer st.Close()
		defer sm.StopAll()

		sess := cfg.FindSessionByName(args[0])
		if sess == nil {
			return fmt.Errorf("no session named %q", args[0])
		}

		entries, err := st.Transcript(sess.ID, sessionsShowLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			pterm.Println("Transcript is empty.")
			return nil
		}

		for _, entry := range entries {
			printEntry(entry)
		}
		return nil
	},
}

// printEntry renders one transcript entry with a kind-specific prefix.
func printEntry(entry store.Entry) {
	switch entry.Kind {
	case store.EntryPrompt:
		pterm.Println(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("you: ") + entry.Content)
	case store.EntryTool:
		pterm.Println(pterm.NewStyle(pterm.FgGray).Sprint("⚙ " + entry.ToolName))
	case store.EntryResult:
		pterm.Println(pterm.NewStyle(pterm.FgGray).Sprint("· " + entry.Content))
	default:
		pterm.Println(entry.Content)
	}
	pterm.Println()
}

func init() {
	sessionsNewCmd.Flags().StringVar(&sessionsNewCwd, "cwd", "", "Working directory for the session (defaults to current)")
	sessionsShowCmd.Flags().IntVarP(&sessionsShowLimit, "limit", "n", 50, "Maximum entries to print")
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsRmCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

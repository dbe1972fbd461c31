package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tether-dev/tether-core/bridge"
)

var (
	runSessionName    string
	runCwd            string
	runModel          string
	runPermissionMode string
	runNew            bool
	runYes            bool
	runApprove        string
)

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Send a prompt to a session and stream the reply",
	Long: `The run command sends a prompt to a session's worker and streams the
reply to the terminal as it is produced. Tool invocations the worker wants to
make are shown for approval unless --yes is set.

The first run against a session starts a fresh conversation; later runs
resume where the previous one left off.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, sm, err := openManager()
		if err != nil {
			return err
		}
		defer st.Close()
		defer sm.StopAll()

		sess, err := resolveSession(cfg, sm, runSessionName, runCwd, runNew)
		if err != nil {
			return err
		}

		if runModel != "" || runPermissionMode != "" {
			cfg.UpdateSessionSettings(sess.ID, runModel, runPermissionMode)
			sess = cfg.GetSession(sess.ID)
		}

		if runApprove != "" {
			preset, err := approvalPreset(runApprove)
			if err != nil {
				return err
			}
			// Transient for this invocation: the merged list feeds the
			// bridge's auto-approve policy but is never saved.
			cfg.SetAllowedTools(bridge.ComposeTools(cfg.GetAllowedTools(), preset))
		}

		if runYes {
			sm.SetPermissionHandler(approveAll)
		} else {
			sm.SetPermissionHandler(promptApproval)
		}

		// Ctrl-C cancels the in-flight query; the stream still drains to its
		// terminal result before we return.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		prompt := strings.Join(args, " ")
		events, err := sm.SendPrompt(ctx, sess.ID, prompt)
		if err != nil {
			return err
		}

		res := streamEvents(events)
		if res == nil {
			return fmt.Errorf("stream ended without a result")
		}
		if res.IsError {
			return fmt.Errorf("query failed: %s", res.ErrorMessage)
		}

		if threshold := cfg.GetCompactThreshold(); res.ContextTokens > threshold {
			pterm.Println()
			pterm.Printf("⚠️  Context is at %d tokens (threshold %d). Consider: tether compact --session %s\n",
				res.ContextTokens, threshold, sess.Name)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runSessionName, "session", "s", "default", "Session name to run against")
	runCmd.Flags().StringVar(&runCwd, "cwd", "", "Working directory for a newly created session")
	runCmd.Flags().StringVar(&runModel, "model", "", "Model override for this session")
	runCmd.Flags().StringVar(&runPermissionMode, "permission-mode", "", "Permission mode: default, acceptEdits, or plan")
	runCmd.Flags().BoolVar(&runNew, "new", false, "Create the session if it does not exist")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Approve all tool invocations without asking")
	runCmd.Flags().StringVar(&runApprove, "approve", "", "Auto-approve a tool preset: read-only or edits")
	rootCmd.AddCommand(runCmd)
}

// approvalPreset maps a preset name to a pre-approved tool list.
func approvalPreset(name string) ([]string, error) {
	switch name {
	case "read-only":
		return bridge.ReadOnlyAllowedTools, nil
	case "edits":
		return bridge.EditAllowedTools, nil
	default:
		return nil, fmt.Errorf("unknown approval preset %q (want read-only or edits)", name)
	}
}

// streamEvents renders an event stream to the terminal and returns the
// terminal result, or nil if the stream closed without one.
func streamEvents(events <-chan bridge.Event) *bridge.Result {
	var printer turnPrinter
	var res *bridge.Result

	for ev := range events {
		switch ev.Kind {
		case bridge.EventToken:
			printer.token(ev.Text)
		case bridge.EventTextSnapshot:
			printer.snapshot(ev.Text)
		case bridge.EventTurnComplete:
			printer.complete()
		case bridge.EventToolActivity:
			printer.complete()
			if ev.Tool != nil {
				pterm.Println(pterm.NewStyle(pterm.FgGray).Sprintf("⚙ %s", ev.Tool.Name))
			}
		case bridge.EventResult:
			printer.complete()
			res = ev.Result
			printResult(res)
		}
	}
	return res
}

// printResult renders the query summary box.
func printResult(res *bridge.Result) {
	if res == nil {
		return
	}

	summary := fmt.Sprintf("outcome: %s\ncontext: %d tokens\ncost: $%.4f\nduration: %dms",
		res.Outcome, res.ContextTokens, res.CostUSD, res.DurationMs)
	if res.IsError {
		summary = fmt.Sprintf("outcome: %s\nerror: %s", res.Outcome, res.ErrorMessage)
	}

	pterm.Println()
	pterm.DefaultBox.
		WithTitle(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("Query")).
		WithPadding(1).
		Println(summary)
}

// approveAll allows every tool invocation. Used with --yes.
func approveAll(sessionID string, req bridge.PermissionRequest) bridge.PermissionDecision {
	return bridge.PermissionDecision{RequestID: req.RequestID, Allow: true}
}

// promptApproval asks the user to approve a tool invocation on the terminal.
func promptApproval(sessionID string, req bridge.PermissionRequest) bridge.PermissionDecision {
	pterm.Println()
	pterm.Printf("🔒 Worker wants to run %s\n", pterm.NewStyle(pterm.Bold).Sprint(req.ToolName))
	if req.Reason != "" {
		pterm.Printf("   Reason: %s\n", req.Reason)
	}
	if len(req.Input) > 0 {
		if pretty, err := json.MarshalIndent(req.Input, "   ", "  "); err == nil {
			pterm.Printf("   Input: %s\n", pretty)
		}
	}

	fmt.Print("Allow? [y/N]: ")
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))

	if answer == "y" || answer == "yes" {
		return bridge.PermissionDecision{RequestID: req.RequestID, Allow: true}
	}
	return bridge.PermissionDecision{
		RequestID: req.RequestID,
		Allow:     false,
		Message:   "denied by user",
	}
}

// turnPrinter tracks how much of the current turn has been written so that
// snapshot frames only print the unseen suffix.
type turnPrinter struct {
	printed string
}

func (p *turnPrinter) token(text string) {
	fmt.Print(text)
	p.printed += text
}

func (p *turnPrinter) snapshot(text string) {
	if strings.HasPrefix(text, p.printed) {
		fmt.Print(strings.TrimPrefix(text, p.printed))
	} else {
		if p.printed != "" {
			fmt.Println()
		}
		fmt.Print(text)
	}
	p.printed = text
}

func (p *turnPrinter) complete() {
	if p.printed != "" {
		fmt.Println()
	}
	p.printed = ""
}

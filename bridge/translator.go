package bridge

import (
	"fmt"
	"strings"

	"github.com/tether-dev/tether-core/wire"
)

// stderrTailLimit caps how much worker stderr is attached to crash reports.
const stderrTailLimit = 500

// handleLine translates one raw worker frame into caller-facing events.
// Runs on the supervisor's reader goroutine, so handlers for one frame
// always finish before the next frame is processed.
func (b *Bridge) handleLine(line string) {
	b.logRawLine(line)

	msg, err := wire.Decode(line)
	if err != nil {
		b.log.Warn("Skipping malformed frame", "error", err)
		return
	}

	switch msg.Type {
	case wire.KindToken:
		b.handleToken(msg)
	case wire.KindSetText:
		b.handleSetText(msg)
	case wire.KindTurnComplete:
		b.handleTurnComplete()
	case wire.KindToolActivity:
		b.handleToolActivity(msg)
	case wire.KindToolProgress:
		b.log.Debug("Tool progress", "tool_use_id", msg.ToolUseID, "elapsed_ms", msg.ElapsedMs)
	case wire.KindToolUseSummary:
		b.log.Debug("Tool use summary", "summary", msg.Summary)
	case wire.KindPermissionRequest:
		b.perms.HandleRequest(msg.ToolName, msg.Input, msg.Reason)
	case wire.KindResult:
		b.handleResult(msg)
	case wire.KindError:
		b.handleErrorFrame(msg)
	case wire.KindReady:
		b.log.Debug("Unexpected ready frame after handshake, ignoring")
	default:
		b.log.Debug("Unknown frame kind, ignoring", "type", msg.Type)
	}
}

func (b *Bridge) handleToken(msg *wire.Message) {
	b.mu.Lock()
	if b.query.Phase != PhaseActive || b.query.Cancelling {
		b.mu.Unlock()
		b.log.Debug("Token frame outside live query, dropping")
		return
	}
	b.query.Turn.WriteString(msg.Text)
	b.query.TurnOpen = true
	b.mu.Unlock()

	b.sendEvent(Event{Kind: EventToken, Text: msg.Text})
}

// handleSetText replaces the current turn's text wholesale. Snapshots may
// carry tool-use descriptors; those feed the correlator's backlog so later
// activity reports can be attributed.
func (b *Bridge) handleSetText(msg *wire.Message) {
	b.mu.Lock()
	if b.query.Phase != PhaseActive || b.query.Cancelling {
		b.mu.Unlock()
		b.log.Debug("Snapshot frame outside live query, dropping")
		return
	}
	b.query.Turn.Reset()
	b.query.Turn.WriteString(msg.Text)
	b.query.TurnOpen = msg.Text != ""
	b.mu.Unlock()

	if len(msg.ToolUses) > 0 {
		b.perms.AddDescriptors(msg.ToolUses)
	}

	b.sendEvent(Event{Kind: EventTextSnapshot, Text: msg.Text})
}

func (b *Bridge) handleTurnComplete() {
	text, ok := b.finalizeTurn()
	if !ok {
		return
	}
	b.sendEvent(Event{Kind: EventTurnComplete, Text: text})
}

// finalizeTurn closes the current turn and returns its accumulated text.
// ok is false when no query is active or a cancel is pending, since a
// cancelling query delivers nothing but its terminal result.
func (b *Bridge) finalizeTurn() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.query.Phase != PhaseActive || b.query.Cancelling {
		return "", false
	}
	text := b.query.Turn.String()
	b.query.Turn.Reset()
	b.query.TurnOpen = false
	return text, true
}

// handleToolActivity reports a finished tool invocation. Workers do not
// always emit an explicit turn boundary before tool output, so an open turn
// is finalized first to keep text and tool events correctly ordered.
func (b *Bridge) handleToolActivity(msg *wire.Message) {
	b.mu.Lock()
	live := b.query.Phase == PhaseActive && !b.query.Cancelling
	open := b.query.TurnOpen
	b.mu.Unlock()

	if !live {
		b.log.Debug("Tool activity outside live query, dropping")
		return
	}

	if open {
		if text, ok := b.finalizeTurn(); ok {
			b.sendEvent(Event{Kind: EventTurnComplete, Text: text})
		}
	}

	name, input, attributed := b.perms.ResolveActivity()
	if !attributed {
		b.log.Debug("Tool activity could not be attributed")
	}

	b.sendEvent(Event{Kind: EventToolActivity, Tool: &ToolActivity{
		Name:   name,
		Input:  input,
		Result: msg.Result,
	}})
}

// handleResult finishes the active query. The result event is the last one
// delivered; the event channel closes right after it.
func (b *Bridge) handleResult(msg *wire.Message) {
	b.mu.Lock()
	if b.query.Phase != PhaseActive {
		b.mu.Unlock()
		b.log.Debug("Result frame outside active query, dropping")
		return
	}

	outcome := OutcomeCompleted
	switch {
	case msg.IsError:
		outcome = OutcomeErrored
	case b.query.Cancelling || msg.Subtype == "cancelled":
		outcome = OutcomeCancelled
	}

	contextTokens := b.usage.Record(msg.Usage)
	b.usage.AddCost(msg.CostUSD)
	if msg.SessionID != "" {
		b.workerSessionID = msg.SessionID
	}
	usage := b.usage.LastUsage()
	compacting := b.query.Compacting
	b.mu.Unlock()

	b.log.Info("Query finished",
		"outcome", outcome,
		"subtype", msg.Subtype,
		"compacting", compacting,
		"context_tokens", contextTokens,
		"cost_usd", msg.CostUSD)

	b.sendEvent(Event{Kind: EventResult, Result: &Result{
		Text:          msg.Text,
		SessionID:     msg.SessionID,
		Outcome:       outcome,
		Subtype:       msg.Subtype,
		IsError:       msg.IsError,
		ErrorMessage:  msg.Message,
		Usage:         usage,
		ContextTokens: contextTokens,
		CostUSD:       msg.CostUSD,
		DurationMs:    msg.DurationMs,
	}})

	b.mu.Lock()
	b.query.Finish(outcome)
	b.events.Close()
	b.mu.Unlock()

	// Nobody can act on prompts from a finished query, and attribution state
	// must not survive into the next one.
	b.perms.DenyAll("query finished")
}

// handleErrorFrame finishes the active query as errored. The worker stays
// up; error frames report query-level failures, not process death.
func (b *Bridge) handleErrorFrame(msg *wire.Message) {
	b.mu.Lock()
	if b.query.Phase != PhaseActive {
		b.mu.Unlock()
		b.log.Warn("Worker reported error outside active query", "message", msg.Message)
		return
	}
	b.mu.Unlock()

	b.log.Error("Worker reported error", "message", msg.Message)

	b.sendEvent(Event{Kind: EventResult, Result: &Result{
		Outcome:      OutcomeErrored,
		IsError:      true,
		ErrorMessage: msg.Message,
	}})

	b.mu.Lock()
	b.query.Finish(OutcomeErrored)
	b.events.Close()
	b.mu.Unlock()

	b.perms.DenyAll("query finished")
}

// handleWorkerExit reacts to the worker process dying outside an orderly
// Stop. Any active query is finished as errored with the stderr tail
// attached; outstanding approvals are denied since nobody will act on them.
func (b *Bridge) handleWorkerExit(err error, stderr string) {
	b.perms.DenyAll("worker exited")

	b.mu.Lock()
	active := b.query.Phase == PhaseActive
	b.sup = nil
	b.enc = nil
	b.mu.Unlock()

	if !active {
		b.log.Warn("Worker exited while idle", "error", err)
		return
	}

	errMsg := fmt.Sprintf("worker exited unexpectedly: %v", err)
	if tail := stderrTail(stderr); tail != "" {
		errMsg = fmt.Sprintf("%s\nstderr: %s", errMsg, tail)
	}

	b.sendEvent(Event{Kind: EventResult, Err: fmt.Errorf("%w: %v", ErrWorkerExited, err), Result: &Result{
		Outcome:      OutcomeErrored,
		IsError:      true,
		ErrorMessage: errMsg,
	}})

	b.mu.Lock()
	if b.query.Phase == PhaseActive {
		b.query.Finish(OutcomeErrored)
	}
	b.events.Close()
	b.mu.Unlock()
}

func stderrTail(stderr string) string {
	s := strings.TrimSpace(stderr)
	if len(s) <= stderrTailLimit {
		return s
	}
	return "..." + s[len(s)-stderrTailLimit:]
}

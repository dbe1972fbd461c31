package bridge

import (
	"encoding/json"

	"github.com/tether-dev/tether-core/wire"
)

// EventKind identifies the kind of a caller-facing event.
type EventKind string

const (
	// EventToken is an incremental text delta for the current turn.
	EventToken EventKind = "token"

	// EventTextSnapshot replaces the current turn's text wholesale. Workers
	// emit snapshots when they rewrite earlier output, so callers must not
	// append it to previously received tokens.
	EventTextSnapshot EventKind = "text_snapshot"

	// EventToolActivity reports a finished tool invocation with its identity
	// reattached.
	EventToolActivity EventKind = "tool_activity"

	// EventTurnComplete marks the end of one assistant turn. Text carries the
	// finalized turn text.
	EventTurnComplete EventKind = "turn_complete"

	// EventResult is the terminal event of a query. The event channel is
	// closed right after it is delivered.
	EventResult EventKind = "result"
)

// ToolActivity describes one finished tool invocation.
type ToolActivity struct {
	Name   string          // Tool name, empty when the invocation could not be attributed
	Input  map[string]any  // Tool input as scheduled, nil when unattributed
	Result json.RawMessage // Raw outcome payload from the worker
}

// Result is the terminal payload of a query.
type Result struct {
	Text          string     // Final response text
	SessionID     string     // Worker-assigned session id, pass back to resume
	Outcome       Outcome    // Completed, Cancelled or Errored
	Subtype       string     // Worker-reported result subtype
	IsError       bool       // True when the query ended in an error
	ErrorMessage  string     // Populated when IsError is true
	Usage         wire.Usage // Token usage of the last completed turn
	ContextTokens int        // input + cache read + cache creation of the last turn
	CostUSD       float64
	DurationMs    int
}

// Event is a single entry on a query's event stream. Exactly one payload
// field is populated depending on Kind. Events are delivered in the order
// the worker produced them.
type Event struct {
	Kind   EventKind
	Text   string        // token delta, snapshot text or finalized turn text
	Tool   *ToolActivity // set for EventToolActivity
	Result *Result       // set for EventResult
	Err    error         // set on transport-level failures, always terminal
}

// PermissionRequest is an out-of-band approval prompt. Input holds a redacted
// preview suitable for display; the bridge retains the original input and
// resumes an allowed invocation with it untouched.
type PermissionRequest struct {
	RequestID string
	ToolName  string
	Input     map[string]any
	Reason    string
}

// PermissionDecision answers a PermissionRequest. Decisions for unknown or
// already-settled request ids are silently dropped.
type PermissionDecision struct {
	RequestID string
	Allow     bool
	Message   string // optional denial reason shown to the worker
}

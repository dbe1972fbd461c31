// Package wire defines the newline-delimited JSON protocol spoken between the
// bridge and the worker subprocess over its standard streams.
//
// Every frame is one JSON object per line, UTF-8, terminated by '\n'. The host
// writes query, permission_response, compact and cancel frames to the worker's
// stdin; the worker writes everything else to its stdout. Malformed inbound
// lines are the worker's bug, not a protocol error: callers log and skip them.
package wire

import "encoding/json"

// Frame kinds written by the host.
const (
	KindQuery              = "query"
	KindPermissionResponse = "permission_response"
	KindCompact            = "compact"
	KindCancel             = "cancel"
)

// Frame kinds written by the worker.
const (
	KindReady             = "ready"
	KindToken             = "token"
	KindSetText           = "set_text"
	KindTurnComplete      = "turn_complete"
	KindToolActivity      = "tool_activity"
	KindToolProgress      = "tool_progress"
	KindToolUseSummary    = "tool_use_summary"
	KindPermissionRequest = "permission_request"
	KindResult            = "result"
	KindError             = "error"
)

// Permission response behaviors.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// Query starts (or resumes) a conversation turn. It doubles as the compact
// frame: a compact is a query with Type set to KindCompact and
// FocusInstructions optionally narrowing what the summary should keep.
type Query struct {
	Type              string `json:"type"`
	Prompt            string `json:"prompt,omitempty"`
	SessionID         string `json:"sessionId,omitempty"`
	Cwd               string `json:"cwd"`
	PermissionMode    string `json:"permissionMode"`
	Model             string `json:"model,omitempty"`
	SystemPrompt      string `json:"systemPrompt,omitempty"`
	FocusInstructions string `json:"focusInstructions,omitempty"`
}

// PermissionResponse answers an earlier permission_request. On allow,
// UpdatedInput carries the original unredacted tool input back to the worker.
type PermissionResponse struct {
	Type         string         `json:"type"`
	RequestID    string         `json:"requestId"`
	Behavior     string         `json:"behavior"`
	Message      string         `json:"message,omitempty"`
	UpdatedInput map[string]any `json:"updatedInput,omitempty"`
}

// Cancel aborts the in-flight generation. The worker stays alive and answers
// with a result frame carrying the cancelled subtype.
type Cancel struct {
	Type string `json:"type"`
}

// ToolUse describes a tool invocation the worker has scheduled. Descriptors
// ride on set_text frames; the id is stable across repeated snapshots.
type ToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// Usage is the token accounting block on result frames.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// Message is a single decoded line from the worker. One struct covers all
// worker frame kinds; which fields are populated depends on Type.
type Message struct {
	Type string `json:"type"`

	// ready
	Nonce string `json:"nonce,omitempty"`

	// token (delta), set_text (full snapshot), result (final text)
	Text     string    `json:"text,omitempty"`
	ToolUses []ToolUse `json:"toolUses,omitempty"`

	// tool_activity: the worker reports only the outcome payload. The
	// invocation identity is reattached by the bridge.
	Result json.RawMessage `json:"result,omitempty"`

	// tool_progress, tool_use_summary
	ToolUseID string `json:"toolUseId,omitempty"`
	ElapsedMs int    `json:"elapsedMs,omitempty"`
	Summary   string `json:"summary,omitempty"`

	// permission_request
	ToolName string         `json:"toolName,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Reason   string         `json:"reason,omitempty"`

	// result
	SessionID  string  `json:"sessionId,omitempty"`
	IsError    bool    `json:"isError,omitempty"`
	Subtype    string  `json:"subtype,omitempty"`
	Usage      *Usage  `json:"usage,omitempty"`
	CostUSD    float64 `json:"costUsd,omitempty"`
	DurationMs int     `json:"durationMs,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

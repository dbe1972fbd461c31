package manager

import (
	"context"
	"testing"
	"time"

	"github.com/tether-dev/tether-core/bridge"
)

func TestToolAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		tool    string
		input   map[string]any
		want    bool
	}{
		{
			name:    "exact name match",
			allowed: []string{"Read", "Grep"},
			tool:    "Read",
			want:    true,
		},
		{
			name:    "no match",
			allowed: []string{"Read"},
			tool:    "Write",
			want:    false,
		},
		{
			name:    "empty list",
			allowed: nil,
			tool:    "Read",
			want:    false,
		},
		{
			name:    "shell prefix match",
			allowed: []string{"Bash(ls:*)"},
			tool:    "Bash",
			input:   map[string]any{"command": "ls -la /tmp"},
			want:    true,
		},
		{
			name:    "shell prefix exact command",
			allowed: []string{"Bash(pwd:*)"},
			tool:    "Bash",
			input:   map[string]any{"command": "pwd"},
			want:    true,
		},
		{
			name:    "shell prefix mismatch",
			allowed: []string{"Bash(ls:*)"},
			tool:    "Bash",
			input:   map[string]any{"command": "rm -rf /"},
			want:    false,
		},
		{
			name:    "prefix must be a whole word",
			allowed: []string{"Bash(ls:*)"},
			tool:    "Bash",
			input:   map[string]any{"command": "lsof -i"},
			want:    false,
		},
		{
			name:    "pattern for different tool",
			allowed: []string{"Bash(ls:*)"},
			tool:    "Shell",
			input:   map[string]any{"command": "ls"},
			want:    false,
		},
		{
			name:    "missing command input",
			allowed: []string{"Bash(ls:*)"},
			tool:    "Bash",
			input:   nil,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toolAllowed(tt.allowed, tt.tool, tt.input); got != tt.want {
				t.Errorf("toolAllowed(%v, %q, %v) = %v, want %v", tt.allowed, tt.tool, tt.input, got, tt.want)
			}
		})
	}
}

func waitForDecisions(t *testing.T, mb *mockBridge, n int) []bridge.PermissionDecision {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		decisions := mb.lastDecisions()
		if len(decisions) >= n {
			return decisions
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d decisions, have %d", n, len(mb.lastDecisions()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAutoApprovesAllowedTools(t *testing.T) {
	sm, cfg, _, mb := newTestManager(t)
	cfg.SetAllowedTools([]string{"Read"})

	sess, err := sm.CreateSession("s", t.TempDir())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := sm.SendPrompt(context.Background(), sess.ID, "go"); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}

	mb.perms <- bridge.PermissionRequest{RequestID: "r1", ToolName: "Read", Input: map[string]any{"path": "/tmp/x"}}

	decisions := waitForDecisions(t, mb, 1)
	if decisions[0].RequestID != "r1" || !decisions[0].Allow {
		t.Errorf("decision = %+v, want allow for r1", decisions[0])
	}
}

func TestPermissionHandlerFallback(t *testing.T) {
	sm, _, _, mb := newTestManager(t)

	sm.SetPermissionHandler(func(sessionID string, req bridge.PermissionRequest) bridge.PermissionDecision {
		return bridge.PermissionDecision{RequestID: req.RequestID, Allow: false, Message: "asked and refused"}
	})

	sess, err := sm.CreateSession("s", t.TempDir())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := sm.SendPrompt(context.Background(), sess.ID, "go"); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}

	mb.perms <- bridge.PermissionRequest{RequestID: "r2", ToolName: "Bash", Input: map[string]any{"command": "rm -rf /"}}

	decisions := waitForDecisions(t, mb, 1)
	if decisions[0].Allow {
		t.Error("handler denial was not forwarded")
	}
	if decisions[0].Message != "asked and refused" {
		t.Errorf("Message = %q, want handler message", decisions[0].Message)
	}
}

func TestNoHandlerLeavesPromptUnanswered(t *testing.T) {
	sm, _, _, mb := newTestManager(t)

	sess, err := sm.CreateSession("s", t.TempDir())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := sm.SendPrompt(context.Background(), sess.ID, "go"); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}

	mb.perms <- bridge.PermissionRequest{RequestID: "r3", ToolName: "Write"}

	time.Sleep(50 * time.Millisecond)
	if got := len(mb.lastDecisions()); got != 0 {
		t.Errorf("got %d decisions, want 0 (bridge timeout owns the deny)", got)
	}
}

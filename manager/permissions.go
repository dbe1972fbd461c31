package manager

import (
	"strings"

	"github.com/tether-dev/tether-core/bridge"
	"github.com/tether-dev/tether-core/logger"
)

// answerPermissions drains a bridge's approval prompts for the life of the
// bridge. Prompts covered by the allowed-tools policy are approved without
// asking; everything else goes to the installed handler, or waits out the
// bridge's deny timeout when no handler is set.
func (sm *SessionManager) answerPermissions(sessionID string, b BridgeInterface, allowedTools []string) {
	log := logger.WithSession(sessionID)

	for req := range b.PermissionRequests() {
		if toolAllowed(allowedTools, req.ToolName, req.Input) {
			log.Debug("Auto-approving pre-approved tool", "tool", req.ToolName)
			b.RespondPermission(bridge.PermissionDecision{RequestID: req.RequestID, Allow: true})
			continue
		}

		sm.mu.RLock()
		handler := sm.permissionHandler
		sm.mu.RUnlock()

		if handler == nil {
			log.Debug("No permission handler installed, leaving prompt to timeout", "tool", req.ToolName)
			continue
		}
		b.RespondPermission(handler(sessionID, req))
	}
}

// toolAllowed reports whether an allowed-tools entry covers the invocation.
// Entries are either a bare tool name ("Read") or a command-prefix pattern
// ("Bash(ls:*)") that matches shell invocations whose command starts with
// the prefix.
func toolAllowed(allowed []string, toolName string, input map[string]any) bool {
	for _, entry := range allowed {
		if entry == toolName {
			return true
		}

		open := strings.IndexByte(entry, '(')
		if open < 0 || !strings.HasSuffix(entry, ":*)") {
			continue
		}
		if entry[:open] != toolName {
			continue
		}
		prefix := entry[open+1 : len(entry)-len(":*)")]

		command, _ := input["command"].(string)
		if command == prefix || strings.HasPrefix(command, prefix+" ") {
			return true
		}
	}
	return false
}

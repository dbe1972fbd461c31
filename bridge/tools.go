package bridge

// Tool sets are composable building blocks for pre-approved tool lists.
// Callers compose them via ComposeTools and install the result as the
// allowed-tools policy; anything outside the composed set still goes
// through the out-of-band approval flow.

// Permission modes understood by the worker.
const (
	PermissionModeDefault     = "default"
	PermissionModeAcceptEdits = "acceptEdits"
	PermissionModePlan        = "plan"
)

// ToolSetReadOnly contains file inspection tools that cannot modify anything.
var ToolSetReadOnly = []string{
	"Read",
	"Glob",
	"Grep",
}

// ToolSetEdit contains file mutation tools.
var ToolSetEdit = []string{
	"Edit",
	"Write",
}

// ToolSetSafeShell contains read-only shell commands safe for non-sandboxed
// environments.
var ToolSetSafeShell = []string{
	"Bash(ls:*)",
	"Bash(cat:*)",
	"Bash(head:*)",
	"Bash(tail:*)",
	"Bash(wc:*)",
	"Bash(pwd:*)",
}

// ToolSetShell contains unrestricted shell for sandboxed environments.
var ToolSetShell = []string{
	"Bash",
}

// ToolSetWeb contains web access tools.
var ToolSetWeb = []string{
	"WebFetch",
	"WebSearch",
}

// ReadOnlyAllowedTools is the standard policy for sessions that should never
// change anything without asking.
var ReadOnlyAllowedTools = ComposeTools(ToolSetReadOnly, ToolSetSafeShell)

// EditAllowedTools additionally pre-approves file edits.
var EditAllowedTools = ComposeTools(ToolSetReadOnly, ToolSetEdit, ToolSetSafeShell)

// ComposeTools merges multiple tool sets into a single deduplicated slice.
// Order is preserved (first occurrence wins).
func ComposeTools(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, set := range sets {
		for _, tool := range set {
			if _, exists := seen[tool]; !exists {
				seen[tool] = struct{}{}
				result = append(result, tool)
			}
		}
	}
	return result
}

package bridge

import (
	"slices"
	"testing"
)

func TestComposeTools_Empty(t *testing.T) {
	result := ComposeTools()
	if len(result) != 0 {
		t.Errorf("ComposeTools() with no args should return empty, got %d items", len(result))
	}
}

func TestComposeTools_SingleSet(t *testing.T) {
	result := ComposeTools(ToolSetReadOnly)
	if len(result) != len(ToolSetReadOnly) {
		t.Errorf("expected %d tools, got %d", len(ToolSetReadOnly), len(result))
	}
	for _, tool := range ToolSetReadOnly {
		if !slices.Contains(result, tool) {
			t.Errorf("missing tool %q", tool)
		}
	}
}

func TestComposeTools_Dedup(t *testing.T) {
	// Both sets contain "Read" — it should appear only once
	set1 := []string{"Read", "Write"}
	set2 := []string{"Read", "Bash"}
	result := ComposeTools(set1, set2)

	if len(result) != 3 {
		t.Errorf("expected 3 tools after dedup, got %d: %v", len(result), result)
	}

	// Verify order: first occurrence wins
	if result[0] != "Read" || result[1] != "Write" || result[2] != "Bash" {
		t.Errorf("unexpected order: %v", result)
	}
}

func TestComposeTools_EmptySets(t *testing.T) {
	result := ComposeTools([]string{}, []string{}, ToolSetReadOnly)
	if len(result) != len(ToolSetReadOnly) {
		t.Errorf("expected %d tools, got %d", len(ToolSetReadOnly), len(result))
	}
}

func TestReadOnlyAllowedTools_EquivalentToComposition(t *testing.T) {
	composed := ComposeTools(ToolSetReadOnly, ToolSetSafeShell)
	if len(ReadOnlyAllowedTools) != len(composed) {
		t.Errorf("ReadOnlyAllowedTools has %d tools, ComposeTools(ReadOnly, SafeShell) has %d",
			len(ReadOnlyAllowedTools), len(composed))
	}
	for _, tool := range ReadOnlyAllowedTools {
		if !slices.Contains(composed, tool) {
			t.Errorf("ReadOnlyAllowedTools contains %q but composition does not", tool)
		}
	}
}

func TestReadOnlyAllowedTools_NoMutatingTools(t *testing.T) {
	for _, tool := range ToolSetEdit {
		if slices.Contains(ReadOnlyAllowedTools, tool) {
			t.Errorf("ReadOnlyAllowedTools contains mutating tool %q", tool)
		}
	}
	if slices.Contains(ReadOnlyAllowedTools, "Bash") {
		t.Error("ReadOnlyAllowedTools contains unrestricted Bash")
	}
}

func TestEditAllowedTools_SupersetOfReadOnly(t *testing.T) {
	for _, tool := range ReadOnlyAllowedTools {
		if !slices.Contains(EditAllowedTools, tool) {
			t.Errorf("EditAllowedTools missing read-only tool %q", tool)
		}
	}
	for _, tool := range ToolSetEdit {
		if !slices.Contains(EditAllowedTools, tool) {
			t.Errorf("EditAllowedTools missing edit tool %q", tool)
		}
	}
}

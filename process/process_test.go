package process

import (
	"testing"
)

func TestParsePSLine(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantPPID    int
		wantCommand string
	}{
		{
			name:        "host child",
			line:        "  4821 tether-worker",
			wantPPID:    4821,
			wantCommand: "tether-worker",
		},
		{
			name:        "reparented to init",
			line:        "     1 /usr/local/bin/tether-worker",
			wantPPID:    1,
			wantCommand: "/usr/local/bin/tether-worker",
		},
		{
			name:        "command with arguments",
			line:        "  312 tether-worker --verbose",
			wantPPID:    312,
			wantCommand: "tether-worker --verbose",
		},
		{
			name:        "empty line",
			line:        "",
			wantPPID:    0,
			wantCommand: "",
		},
		{
			name:        "whitespace only",
			line:        "   \n",
			wantPPID:    0,
			wantCommand: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ppid, command := parsePSLine(tt.line)
			if ppid != tt.wantPPID {
				t.Errorf("parsePSLine(%q) ppid = %d, want %d", tt.line, ppid, tt.wantPPID)
			}
			if command != tt.wantCommand {
				t.Errorf("parsePSLine(%q) command = %q, want %q", tt.line, command, tt.wantCommand)
			}
		})
	}
}

func TestWorkerProcess_Fields(t *testing.T) {
	proc := WorkerProcess{
		PID:       12345,
		ParentPID: 1,
		Command:   "tether-worker",
	}

	if proc.PID != 12345 {
		t.Errorf("Expected PID 12345, got %d", proc.PID)
	}

	if proc.ParentPID != 1 {
		t.Errorf("Expected ParentPID 1, got %d", proc.ParentPID)
	}

	if proc.Command != "tether-worker" {
		t.Errorf("Expected command 'tether-worker', got %q", proc.Command)
	}
}

func TestFindWorkerProcesses(t *testing.T) {
	// This test verifies the function works without crashing
	processes, err := FindWorkerProcesses()
	if err != nil {
		t.Fatalf("FindWorkerProcesses failed: %v", err)
	}

	// Can't assert on count since it depends on system state
	_ = processes
}

func TestFindOrphanedWorkers(t *testing.T) {
	// The actual processes found will depend on the system state,
	// but we can verify the function works
	orphans, err := FindOrphanedWorkers()
	if err != nil {
		t.Fatalf("FindOrphanedWorkers failed: %v", err)
	}

	// Can't assert on count since it depends on system state,
	// but function should not error
	_ = orphans
}

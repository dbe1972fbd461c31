// Package process provides utilities for finding and cleaning up worker
// processes left behind by crashed hosts.
package process

import (
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/tether-dev/tether-core/logger"
)

// WorkerBinaryName is the process name matched when scanning for workers.
const WorkerBinaryName = "tether-worker"

// WorkerProcess represents a running worker process found on the system.
type WorkerProcess struct {
	PID       int    // Process ID
	ParentPID int    // Parent process ID
	Command   string // Full command line
}

// FindWorkerProcesses finds all running worker processes on the system.
func FindWorkerProcesses() ([]WorkerProcess, error) {
	var processes []WorkerProcess
	log := logger.WithComponent("process")

	switch runtime.GOOS {
	case "darwin", "linux":
		cmd := exec.Command("pgrep", "-f", WorkerBinaryName)
		output, err := cmd.Output()
		if err != nil {
			// pgrep returns exit code 1 if no processes found
			if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
				return processes, nil
			}
			return nil, err
		}

		for _, pidStr := range strings.Fields(string(output)) {
			pid, err := strconv.Atoi(strings.TrimSpace(pidStr))
			if err != nil {
				continue
			}

			psCmd := exec.Command("ps", "-p", pidStr, "-o", "ppid=,args=")
			psOutput, err := psCmd.Output()
			if err != nil {
				continue
			}

			ppid, command := parsePSLine(string(psOutput))
			processes = append(processes, WorkerProcess{
				PID:       pid,
				ParentPID: ppid,
				Command:   command,
			})
		}

	case "windows":
		cmd := exec.Command("tasklist", "/FI", "IMAGENAME eq "+WorkerBinaryName+"*", "/FO", "CSV", "/NH")
		output, err := cmd.Output()
		if err != nil {
			return nil, err
		}

		for _, line := range strings.Split(string(output), "\n") {
			fields := strings.Split(line, ",")
			if len(fields) >= 2 {
				pidStr := strings.Trim(strings.TrimSpace(fields[1]), "\"")
				pid, err := strconv.Atoi(pidStr)
				if err != nil {
					continue
				}
				processes = append(processes, WorkerProcess{
					PID:     pid,
					Command: strings.Trim(fields[0], "\""),
				})
			}
		}
	}

	log.Debug("found worker processes", "count", len(processes))
	return processes, nil
}

// parsePSLine splits "ppid args..." output from ps into its parts.
func parsePSLine(line string) (ppid int, command string) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return 0, ""
	}
	ppid, _ = strconv.Atoi(fields[0])
	command = strings.Join(fields[1:], " ")
	return ppid, command
}

// KillProcess kills a process by PID.
func KillProcess(pid int) error {
	switch runtime.GOOS {
	case "darwin", "linux":
		cmd := exec.Command("kill", "-9", strconv.Itoa(pid))
		return cmd.Run()
	case "windows":
		cmd := exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid))
		return cmd.Run()
	}
	return nil
}

// FindOrphanedWorkers finds workers whose host died. A worker normally runs
// as a child of the host process; one reparented to init (PPID 1) has no
// host reading its stdout and will sit idle forever.
func FindOrphanedWorkers() ([]WorkerProcess, error) {
	allProcesses, err := FindWorkerProcesses()
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("process")
	var orphans []WorkerProcess
	for _, proc := range allProcesses {
		if proc.ParentPID == 1 {
			orphans = append(orphans, proc)
			log.Info("found orphaned worker", "pid", proc.PID, "command", proc.Command)
		}
	}

	return orphans, nil
}

// CleanupOrphanedWorkers kills all orphaned workers. Returns the number of
// processes killed.
func CleanupOrphanedWorkers() (int, error) {
	orphans, err := FindOrphanedWorkers()
	if err != nil {
		return 0, err
	}

	log := logger.WithComponent("process")
	killed := 0
	for _, proc := range orphans {
		log.Info("killing orphaned worker", "pid", proc.PID)
		if err := KillProcess(proc.PID); err != nil {
			log.Error("failed to kill process", "pid", proc.PID, "error", err)
			continue
		}
		killed++
	}

	return killed, nil
}

package common

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/hsparc-project/hsparc-deploy/internal/logger"
)

// StopResult describes the outcome of stopping the application before a
// mutation. Callers branch on it instead of swallowing an error implicitly.
type StopResult int

const (
	// Stopped means the service or processes were running and were stopped.
	Stopped StopResult = iota
	// WasNotRunning means nothing had to be stopped.
	WasNotRunning
	// StopFailed means the stop attempt failed. The file swap still
	// proceeds, because the service is restarted afterwards anyway.
	StopFailed
)

// String renders the stop outcome for logs.
func (r StopResult) String() string {
	switch r {
	case Stopped:
		return "stopped"
	case WasNotRunning:
		return "was-not-running"
	case StopFailed:
		return "stop-failed"
	default:
		return fmt.Sprintf("stop-result(%d)", int(r))
	}
}

// commandTimeout bounds individual systemctl invocations.
const commandTimeout = 30 * time.Second

// RunCommand executes an external command in the given directory, bounded by
// the context, and folds captured output into the returned error.
func RunCommand(ctx context.Context, dir string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var output bytes.Buffer

	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		text := strings.TrimSpace(output.String())
		if text != "" {
			return fmt.Errorf("%s: %w: %s", name, err, text)
		}

		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}

// StopService stops the systemd unit and terminates any stray application
// processes. Both steps are best-effort: a failure is reported through the
// result, never as an error.
func StopService(ctx context.Context, unit string, processNames []string) StopResult {
	running := false

	if unit != "" {
		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		if err := RunCommand(cmdCtx, "", "systemctl", "is-active", "--quiet", unit); err == nil {
			running = true

			if err = RunCommand(cmdCtx, "", "systemctl", "stop", unit); err != nil {
				logger.WarnKV(ctx, "Service stop failed", "unit", unit, "error", err)
				return StopFailed
			}
		}
	}

	terminated, err := TerminateProcesses(ctx, processNames)
	if err != nil {
		logger.WarnKV(ctx, "Process termination failed", "error", err)

		if !running {
			return StopFailed
		}
	}

	if running || terminated > 0 {
		return Stopped
	}

	return WasNotRunning
}

// StartService starts the systemd unit. The caller decides how to react to a
// failure; a failed restart never rolls back correctly installed files.
func StartService(ctx context.Context, unit string) error {
	if unit == "" {
		return nil
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := RunCommand(cmdCtx, "", "systemctl", "start", unit); err != nil {
		return fmt.Errorf("start unit %s: %w", unit, err)
	}

	return nil
}

// TerminateProcesses kills processes whose executable name matches one of
// the provided names, skipping the current process. It returns how many
// processes were signalled.
func TerminateProcesses(ctx context.Context, names []string) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}

	nameSet := make(map[string]struct{}, len(names))
	for _, name := range names {
		nameSet[name] = struct{}{}
	}

	processList, err := ps.Processes()
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	var (
		terminated    int
		thisProcessID = os.Getpid()
	)

	for _, process := range processList {
		processID := process.Pid()
		if processID == thisProcessID {
			continue
		}

		if _, found := nameSet[process.Executable()]; !found {
			continue
		}

		runningProcess, findErr := os.FindProcess(processID)
		if findErr != nil {
			return terminated, findErr
		}

		if killErr := runningProcess.Kill(); killErr != nil {
			return terminated, killErr
		}

		logger.InfoKV(ctx, "Terminated process",
			"pid", processID, "executable", process.Executable())

		terminated++
	}

	return terminated, nil
}

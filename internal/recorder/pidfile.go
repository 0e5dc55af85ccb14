package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const stateFileName = "recorder.json"

// State describes the recorder that was running when the state file was
// written. The file exists only while a session is recording.
type State struct {
	PID     int       `json:"pid"`
	Binary  string    `json:"binary"`
	Output  string    `json:"output"`
	Source  string    `json:"source"`
	Started time.Time `json:"started"`
}

func statePath(dir string) string {
	return filepath.Join(dir, stateFileName)
}

func writeState(dir string, p *Process, binary string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(State{
		PID:     p.PID,
		Binary:  filepath.Base(binary),
		Output:  p.Output,
		Source:  p.Source,
		Started: p.Started,
	}, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(statePath(dir), data, 0644)
}

func removeState(dir string) {
	if err := os.Remove(statePath(dir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to remove recorder state file", "error", err)
	}
}

// ReadState returns the recorder state left in dir, or nil when there is none.
func ReadState(dir string) (*State, error) {
	data, err := os.ReadFile(statePath(dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("invalid recorder state file: %w", err)
	}
	return &st, nil
}

// ReapOrphan terminates a recorder left running by a previous daemon that
// died without stopping it. The process is only touched when its name still
// matches the recorded binary. It reports whether a process was terminated.
func ReapOrphan(dir string, timeout time.Duration) (bool, error) {
	st, err := ReadState(dir)
	if err != nil || st == nil {
		return false, err
	}
	defer removeState(dir)

	exists, err := process.PidExists(int32(st.PID))
	if err != nil {
		return false, fmt.Errorf("failed to check pid %d: %w", st.PID, err)
	}
	if !exists {
		slog.Debug("Stale recorder state file, process gone", "pid", st.PID)
		return false, nil
	}

	proc, err := process.NewProcess(int32(st.PID))
	if err != nil {
		return false, nil
	}

	name, err := proc.Name()
	if err != nil || name != st.Binary {
		slog.Debug("Recorder pid reused by another process, leaving it alone", "pid", st.PID, "name", name)
		return false, nil
	}

	slog.Warn("Terminating orphaned recorder from previous run", "pid", st.PID, "output", st.Output)
	if err := proc.Terminate(); err != nil {
		return false, fmt.Errorf("failed to terminate orphaned recorder %d: %w", st.PID, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if running, err := proc.IsRunning(); err != nil || !running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := proc.Kill(); err != nil {
		return true, fmt.Errorf("failed to kill orphaned recorder %d: %w", st.PID, err)
	}
	return true, nil
}

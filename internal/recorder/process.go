// Package recorder runs and supervises the external capture process.
package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/config"
)

var (
	// ErrLaunch is matched by every LaunchError.
	ErrLaunch = errors.New("recorder launch failed")

	// ErrUncleanStop is returned by Stop when the recorder had to be killed.
	// The output file is still kept.
	ErrUncleanStop = errors.New("recorder did not exit after interrupt and was killed")
)

// LaunchError reports a recorder that could not be started or exited during
// the startup probe.
type LaunchError struct {
	Binary string
	Err    error
	Stderr string
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("%s: %s: %v", ErrLaunch, e.Binary, e.Err)
	if e.Stderr != "" {
		msg += " (stderr: " + e.Stderr + ")"
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }

// ArgsFunc builds the recorder arguments for an output file and source.
type ArgsFunc func(output, source string) []string

// Process is a running recorder. It is owned by the Manager that started it.
type Process struct {
	PID     int
	Output  string
	Source  string
	Started time.Time

	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
	stderr  *tailBuffer
}

// Exited reports whether the process has terminated and its wait error.
func (p *Process) Exited() (bool, error) {
	select {
	case <-p.done:
		return true, p.waitErr
	default:
		return false, nil
	}
}

// Stderr returns the last lines the recorder wrote to stderr.
func (p *Process) Stderr() string {
	if p.stderr == nil {
		return ""
	}
	return p.stderr.String()
}

// Manager starts, stops and watches recorder processes.
type Manager struct {
	binary       string
	stopTimeout  time.Duration
	startupProbe time.Duration
	stateDir     string
	args         ArgsFunc
}

// NewManager creates a manager running the configured capture binary. When
// stateDir is set a state file tracks the running recorder there.
func NewManager(cfg config.CaptureConfig, stateDir string) *Manager {
	m := &Manager{
		binary:       cfg.Binary,
		stopTimeout:  cfg.StopTimeout,
		startupProbe: cfg.StartupProbe,
		stateDir:     stateDir,
	}
	m.args = ffmpegArgs(cfg)
	return m
}

// ffmpegArgs records source as raw PCM in the configured sample format
func ffmpegArgs(cfg config.CaptureConfig) ArgsFunc {
	return func(output, source string) []string {
		return []string{
			"-hide_banner",
			"-loglevel", "error",
			"-nostdin",
			"-f", cfg.InputFormat,
			"-i", source,
			"-ac", strconv.Itoa(cfg.Channels),
			"-ar", strconv.Itoa(cfg.SampleRate),
			"-c:a", cfg.Codec,
			"-y",
			output,
		}
	}
}

// Command returns the full command line for recording source into output.
func (m *Manager) Command(output, source string) []string {
	return append([]string{m.binary}, m.args(output, source)...)
}

// CommandLine returns Command quoted for pasting into a shell.
func (m *Manager) CommandLine(output, source string) string {
	parts := m.Command(output, source)
	for i, p := range parts {
		parts[i] = shellQuote(p)
	}
	return strings.Join(parts, " ")
}

// Start launches the recorder. It fails with a LaunchError when the binary
// is missing or when the process exits before the startup probe elapses.
func (m *Manager) Start(output, source string) (*Process, error) {
	path, err := exec.LookPath(m.binary)
	if err != nil {
		return nil, &LaunchError{Binary: m.binary, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, &LaunchError{Binary: m.binary, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}

	args := m.args(output, source)
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = time.Second

	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	slog.Debug("Starting recorder", "command", strings.Join(cmd.Args, " "))

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Binary: m.binary, Err: err}
	}

	p := &Process{
		PID:     cmd.Process.Pid,
		Output:  output,
		Source:  source,
		Started: time.Now(),
		cmd:     cmd,
		done:    make(chan struct{}),
		stderr:  stderr,
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	if m.startupProbe > 0 {
		select {
		case <-p.done:
			err := p.waitErr
			if err == nil {
				err = errors.New("exited immediately")
			}
			return nil, &LaunchError{Binary: m.binary, Err: err, Stderr: p.Stderr()}
		case <-time.After(m.startupProbe):
		}
	}

	if m.stateDir != "" {
		if err := writeState(m.stateDir, p, m.binary); err != nil {
			slog.Warn("Failed to write recorder state file", "error", err)
		}
	}

	slog.Info("Recorder started", "pid", p.PID, "output", output, "source", source)
	return p, nil
}

// Stop interrupts the recorder so it can finalize the file, then kills it if
// it has not exited within the stop timeout. The process is always reaped.
func (m *Manager) Stop(p *Process) error {
	if p == nil {
		return nil
	}
	defer m.clearState()

	if exited, err := p.Exited(); exited {
		slog.Debug("Recorder already exited", "pid", p.PID, "error", err)
		return nil
	}

	slog.Debug("Sending SIGINT to recorder", "pid", p.PID)
	if err := signalGroup(p, syscall.SIGINT); err != nil {
		slog.Debug("Failed to interrupt recorder", "pid", p.PID, "error", err)
	}

	select {
	case <-p.done:
		if !cleanExit(p.waitErr) {
			slog.Debug("Recorder exited with error after interrupt", "pid", p.PID, "error", p.waitErr, "stderr", p.Stderr())
		}
		slog.Debug("Recorder exited", "pid", p.PID)
		return nil

	case <-time.After(m.stopTimeout):
		slog.Warn("Recorder did not exit within timeout, force killing", "pid", p.PID, "timeout", m.stopTimeout)
		if err := signalGroup(p, syscall.SIGKILL); err != nil {
			slog.Debug("Failed to kill recorder", "pid", p.PID, "error", err)
		}
		<-p.done
		return fmt.Errorf("pid %d: %w", p.PID, ErrUncleanStop)
	}
}

// Alive reports whether the recorder is still running. It never blocks.
func (m *Manager) Alive(p *Process) bool {
	if p == nil {
		return false
	}
	exited, _ := p.Exited()
	return !exited
}

func (m *Manager) clearState() {
	if m.stateDir != "" {
		removeState(m.stateDir)
	}
}

// signalGroup signals the recorder's process group, falling back to the
// process itself.
func signalGroup(p *Process, sig syscall.Signal) error {
	if err := syscall.Kill(-p.PID, sig); err == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

// cleanExit reports whether err is an expected result of an interrupt.
// ffmpeg exits with 255 when interrupted.
func cleanExit(err error) bool {
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if exitErr.ExitCode() == 255 {
		return true
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return status.Signal() == syscall.SIGINT
	}
	return false
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// shellQuote quotes s for a POSIX shell when it contains special characters
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%+=:,./_-", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

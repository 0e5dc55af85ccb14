package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// DefaultMonitor is the pulse alias for the monitor of the default sink.
const DefaultMonitor = "@DEFAULT_MONITOR@"

// BackendType represents the audio server query mechanism
type BackendType string

const (
	BackendTypePulse    BackendType = "pulse"
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeAuto     BackendType = "auto"
)

// ErrServerUnavailable is matched by every error returned when the audio
// server query itself could not be run or understood.
var ErrServerUnavailable = errors.New("audio server unavailable")

// UnavailableError describes why a stream query failed.
type UnavailableError struct {
	Backend BackendType
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s query failed: %v", ErrServerUnavailable, e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrServerUnavailable }

// Stream is one active audio output as reported by the audio server.
// Streams are produced fresh on every poll.
type Stream struct {
	ID          int    `json:"id"`
	Application string `json:"application"`
	Media       string `json:"media"`
	Binary      string `json:"binary,omitempty"`
	Sink        string `json:"sink,omitempty"`
	Monitor     string `json:"monitor,omitempty"`
	SampleSpec  string `json:"sample_spec,omitempty"`
	Corked      bool   `json:"corked"`
	Muted       bool   `json:"muted"`
}

// Description is the human readable "application - media" text.
func (s Stream) Description() string {
	switch {
	case s.Media == "" || s.Media == s.Application:
		return s.Application
	case s.Application == "":
		return s.Media
	}
	return s.Application + " - " + s.Media
}

// MatchFields returns the texts classification patterns are tested against.
func (s Stream) MatchFields() []string {
	fields := make([]string, 0, 3)
	for _, f := range []string{s.Application, s.Media, s.Binary} {
		if f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// CaptureSource returns the device a recorder should read this stream from.
func (s Stream) CaptureSource() string {
	if s.Monitor != "" {
		return s.Monitor
	}
	return DefaultMonitor
}

// Lister enumerates the active output streams. It returns an empty slice when
// nothing is playing and an error matching ErrServerUnavailable when the
// query cannot be performed.
type Lister interface {
	List(ctx context.Context) ([]Stream, error)
	Backend() BackendType
}

// runFunc executes a query binary and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// runCommand runs name with a C locale so the output is not translated.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w (stderr: %s)", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// NewLister creates a lister for the configured backend
func NewLister(backend string) Lister {
	switch determineBackend(backend) {
	case BackendTypePipeWire:
		return NewPipeWire()
	default:
		return NewPulse()
	}
}

// determineBackend resolves "auto" to pulse when pactl is installed and to
// pipewire otherwise.
func determineBackend(backend string) BackendType {
	switch strings.ToLower(backend) {
	case "pulse":
		return BackendTypePulse
	case "pipewire":
		return BackendTypePipeWire
	}

	if _, err := exec.LookPath("pactl"); err == nil {
		return BackendTypePulse
	}
	if _, err := exec.LookPath("pw-dump"); err == nil {
		return BackendTypePipeWire
	}

	slog.Debug("Neither pactl nor pw-dump found, defaulting to pulse backend")
	return BackendTypePulse
}

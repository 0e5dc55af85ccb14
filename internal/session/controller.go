// Package session implements the recording state machine: a session starts
// when a target stream appears, survives gaps shorter than the grace period
// and is stopped once the grace period has passed without a match.
package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/streamcapture/internal/audio"
	"github.com/audiolibrelab/streamcapture/internal/classify"
	"github.com/audiolibrelab/streamcapture/internal/events"
	"github.com/audiolibrelab/streamcapture/internal/recorder"
)

// State of the controller
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
)

// Launcher runs the recorder for a session.
type Launcher interface {
	Start(output, source string) (*recorder.Process, error)
	Stop(p *recorder.Process) error
	Alive(p *recorder.Process) bool
}

// Session is one continuous recording.
type Session struct {
	ID       string       `json:"id"`
	Group    string       `json:"group"`
	Stream   audio.Stream `json:"stream"`
	Started  time.Time    `json:"started"`
	LastSeen time.Time    `json:"last_seen"`
	Output   string       `json:"output"`
	Source   string       `json:"source"`

	proc *recorder.Process
}

// Options tune the controller.
type Options struct {
	GracePeriod  time.Duration
	RetryBackoff time.Duration
	// Source overrides the stream's own capture source when set.
	Source string
}

// Controller owns the active session. It is driven by a single goroutine and
// is not safe for concurrent use; Snapshot copies are.
type Controller struct {
	launcher  Launcher
	layout    Layout
	opts      Options
	publisher events.Publisher
	inspect   func(path string) (*recorder.Recording, error)

	state      State
	session    *Session
	since      time.Time
	retryAfter time.Time
}

// NewController creates an idle controller.
func NewController(launcher Launcher, layout Layout, opts Options, publisher events.Publisher) *Controller {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Controller{
		launcher:  launcher,
		layout:    layout,
		opts:      opts,
		publisher: publisher,
		inspect:   recorder.Inspect,
		state:     StateIdle,
	}
}

func (c *Controller) State() State { return c.state }

// Session returns a copy of the active session, or nil when idle.
func (c *Controller) Session() *Session {
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Observe feeds one poll's matches, in stream order, into the state machine.
func (c *Controller) Observe(now time.Time, matches []classify.Match) {
	switch c.state {
	case StateIdle:
		c.start(now, matches)

	case StateRecording:
		if m, ok := find(matches, c.session.Group); ok {
			c.session.LastSeen = now
			c.session.Stream = m.Stream
			return
		}
		c.state = StateStopping
		c.since = now
		slog.Info("Target stream gone, waiting for grace period",
			"group", c.session.Group, "grace", c.opts.GracePeriod)
		c.emit(events.KindSessionPaused, now, "")
		c.expire(now, matches)

	case StateStopping:
		// A match after the grace period starts a new session.
		if now.Sub(c.since) >= c.opts.GracePeriod {
			c.expire(now, matches)
			return
		}
		if m, ok := find(matches, c.session.Group); ok {
			c.state = StateRecording
			c.session.LastSeen = now
			c.session.Stream = m.Stream
			slog.Info("Target stream back, continuing session",
				"group", c.session.Group, "gap", now.Sub(c.since))
			c.since = time.Time{}
			c.emit(events.KindSessionResumed, now, "")
		}
	}
}

// expire stops the session once the grace period has elapsed and lets
// another matching stream start a new one in the same tick.
func (c *Controller) expire(now time.Time, matches []classify.Match) {
	if now.Sub(c.since) < c.opts.GracePeriod {
		return
	}
	c.stop(now, "grace period elapsed")
	c.start(now, matches)
}

// CheckRecorder drops the session when its recorder died on its own.
func (c *Controller) CheckRecorder(now time.Time) {
	if c.session == nil || c.launcher.Alive(c.session.proc) {
		return
	}

	_, waitErr := c.session.proc.Exited()
	errText := "exited unexpectedly"
	if waitErr != nil {
		errText = waitErr.Error()
	}
	slog.Error("Recorder exited unexpectedly",
		"group", c.session.Group,
		"output", c.session.Output,
		"error", errText,
		"stderr", c.session.proc.Stderr())

	// Reap and clear the state file
	if err := c.launcher.Stop(c.session.proc); err != nil && !errors.Is(err, recorder.ErrUncleanStop) {
		slog.Warn("Failed to reap dead recorder", "output", c.session.Output, "error", err)
	}

	ev := c.event(events.KindRecorderDied, now, errText)
	if rec, err := c.inspect(c.session.Output); rec != nil {
		ev.Size = rec.Size
	} else if err != nil {
		slog.Debug("No usable partial recording", "output", c.session.Output, "error", err)
	}
	c.publisher.Publish(ev)
	c.session = nil
	c.state = StateIdle
	c.retryAfter = now.Add(c.opts.RetryBackoff)
}

// Shutdown stops any active session regardless of the grace period.
func (c *Controller) Shutdown(now time.Time) {
	if c.session == nil {
		return
	}
	c.stop(now, "shutdown")
}

func (c *Controller) start(now time.Time, matches []classify.Match) {
	if len(matches) == 0 {
		return
	}
	if now.Before(c.retryAfter) {
		slog.Debug("Recorder start suppressed after failure", "retry_after", c.retryAfter)
		return
	}

	m := matches[0]
	if len(matches) > 1 {
		slog.Debug("Several target streams playing, recording the first", "count", len(matches), "stream", m.Stream.Description())
	}

	source := c.opts.Source
	if source == "" {
		source = m.Stream.CaptureSource()
	}

	s := &Session{
		ID:       uuid.NewString(),
		Group:    m.Group,
		Stream:   m.Stream,
		Started:  now,
		LastSeen: now,
		Output:   availablePath(c.layout.Path(m.Group, now)),
		Source:   source,
	}

	proc, err := c.launcher.Start(s.Output, s.Source)
	if err != nil {
		slog.Error("Failed to start recording",
			"group", s.Group, "stream", m.Stream.Description(), "error", err)
		c.session = s
		c.emit(events.KindLaunchFailed, now, err.Error())
		c.session = nil
		c.retryAfter = now.Add(c.opts.RetryBackoff)
		return
	}

	s.proc = proc
	c.session = s
	c.state = StateRecording
	c.retryAfter = time.Time{}

	slog.Info("Recording started",
		"group", s.Group, "stream", m.Stream.Description(), "output", s.Output)
	c.emit(events.KindSessionStarted, now, "")
}

func (c *Controller) stop(now time.Time, reason string) {
	s := c.session
	ev := c.event(events.KindSessionStopped, now, "")

	if err := c.launcher.Stop(s.proc); err != nil {
		if errors.Is(err, recorder.ErrUncleanStop) {
			slog.Warn("Recorder needed a force kill, file may be truncated", "output", s.Output, "error", err)
			ev.Unclean = true
		} else {
			slog.Error("Failed to stop recorder", "output", s.Output, "error", err)
			ev.Error = err.Error()
		}
	}

	if rec, err := c.inspect(s.Output); err != nil {
		slog.Warn("Recording could not be verified", "output", s.Output, "error", err)
		if rec != nil {
			ev.Size = rec.Size
		}
	} else {
		ev.Size = rec.Size
		slog.Debug("Recording verified", "output", s.Output, "audio", rec.Duration, "size", rec.Size)
	}

	slog.Info("Recording stopped",
		"group", s.Group, "output", s.Output, "reason", reason, "duration", now.Sub(s.Started).Round(time.Second))
	c.publisher.Publish(ev)

	c.session = nil
	c.state = StateIdle
	c.since = time.Time{}
}

func (c *Controller) event(kind events.Kind, now time.Time, errText string) events.Event {
	s := c.session
	return events.Event{
		Kind:      kind,
		Time:      now,
		SessionID: s.ID,
		Group:     s.Group,
		StreamID:  s.Stream.ID,
		Stream:    s.Stream.Description(),
		Output:    s.Output,
		Started:   s.Started,
		Duration:  now.Sub(s.Started),
		Error:     errText,
	}
}

func (c *Controller) emit(kind events.Kind, now time.Time, errText string) {
	c.publisher.Publish(c.event(kind, now, errText))
}

// find returns the first match of group
func find(matches []classify.Match, group string) (classify.Match, bool) {
	for _, m := range matches {
		if m.Group == group {
			return m, true
		}
	}
	return classify.Match{}, false
}

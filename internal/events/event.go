// Package events carries detection and session lifecycle events from the
// poll loop to optional sinks.
package events

import (
	"context"
	"time"
)

// Kind identifies what happened.
type Kind string

const (
	// KindDetected is emitted in notify mode for a matching stream.
	KindDetected       Kind = "detected"
	KindSessionStarted Kind = "session_started"
	KindSessionPaused  Kind = "session_paused"
	KindSessionResumed Kind = "session_resumed"
	KindSessionStopped Kind = "session_stopped"
	KindLaunchFailed   Kind = "launch_failed"
	KindRecorderDied   Kind = "recorder_died"
)

// Event is one lifecycle event. Only the fields that apply to Kind are set.
type Event struct {
	Kind      Kind      `json:"kind"`
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id,omitempty"`
	Group     string    `json:"group"`
	StreamID  int       `json:"stream_id"`
	Stream    string    `json:"stream_description"`

	// Output is the session file, or the suggested file for KindDetected.
	Output  string `json:"suggested_filename,omitempty"`
	Command string `json:"suggested_capture_command,omitempty"`

	Started  time.Time     `json:"started,omitzero"`
	Duration time.Duration `json:"duration,omitempty"`
	Size     int64         `json:"size,omitempty"`
	Unclean  bool          `json:"unclean,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ev Event)
}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Package service runs the poll loop that drives detection and recording.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/audio"
	"github.com/audiolibrelab/streamcapture/internal/classify"
	"github.com/audiolibrelab/streamcapture/internal/config"
	"github.com/audiolibrelab/streamcapture/internal/events"
	"github.com/audiolibrelab/streamcapture/internal/session"
)

// MatchInfo describes one matching stream seen on the last poll.
type MatchInfo struct {
	Group    string `json:"group"`
	StreamID int    `json:"stream_id"`
	Stream   string `json:"stream"`
}

// Status is published after every poll.
type Status struct {
	Mode      string           `json:"mode"`
	Backend   string           `json:"backend"`
	Targets   []string         `json:"targets"`
	Polls     uint64           `json:"polls"`
	LastPoll  time.Time        `json:"last_poll"`
	LastError string           `json:"last_error,omitempty"`
	Streams   int              `json:"streams"`
	Matches   []MatchInfo      `json:"matches"`
	Session   session.Snapshot `json:"session"`
}

// Recorder launches capture processes and renders their command lines.
type Recorder interface {
	session.Launcher
	CommandLine(output, source string) string
}

// Service owns the detection loop. Only the loop goroutine touches the
// controller; Status may be read from anywhere.
type Service struct {
	mode       string
	interval   time.Duration
	lister     audio.Lister
	classifier *classify.Classifier
	controller *session.Controller
	announcer  *Announcer

	now    func() time.Time
	polls  uint64
	status atomic.Pointer[Status]
}

// New wires the loop for cfg.Mode. In notify mode the recorder is only used
// to build suggested commands.
func New(cfg *config.Config, lister audio.Lister, launcher Recorder, publisher events.Publisher) (*Service, error) {
	classifier, err := classify.New(cfg.Targets, cfg.Detection.IncludeCorked)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}

	if publisher == nil {
		publisher = events.Discard
	}

	layout := session.NewLayout(cfg)
	s := &Service{
		mode:       cfg.Mode,
		interval:   cfg.Detection.PollInterval,
		lister:     lister,
		classifier: classifier,
		now:        time.Now,
	}

	switch cfg.Mode {
	case config.ModeNotify:
		s.announcer = NewAnnouncer(layout, launcher.CommandLine, cfg.Capture.Source, cfg.Detection.Cooldown, publisher)
	default:
		s.controller = session.NewController(launcher, layout, session.Options{
			GracePeriod:  cfg.Detection.GracePeriod,
			RetryBackoff: cfg.Capture.RetryBackoff,
			Source:       cfg.Capture.Source,
		}, publisher)
	}

	s.publishStatus(Status{Session: session.Snapshot{State: session.StateIdle}})
	return s, nil
}

// Run polls immediately and then every interval until ctx is cancelled. An
// active session is stopped before Run returns.
func (s *Service) Run(ctx context.Context) error {
	slog.Info("Watching audio streams",
		"mode", s.mode,
		"backend", s.lister.Backend(),
		"interval", s.interval,
		"targets", s.classifier.Groups())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			s.Shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one poll. Errors are logged and never end the loop.
func (s *Service) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	s.polls++
	st := Status{Polls: s.polls}

	streams, err := s.lister.List(ctx)
	now := s.now()
	st.LastPoll = now

	if err != nil {
		slog.Warn("Audio server query failed, skipping poll", "backend", s.lister.Backend(), "error", err)
		st.LastError = err.Error()
	} else {
		matches := s.classifier.MatchAll(streams)
		st.Streams = len(streams)
		for _, m := range matches {
			st.Matches = append(st.Matches, MatchInfo{Group: m.Group, StreamID: m.Stream.ID, Stream: m.Stream.Description()})
		}
		slog.Debug("Poll", "streams", len(streams), "matches", len(matches))

		if s.announcer != nil {
			s.announcer.Announce(now, matches)
		} else {
			s.controller.Observe(now, matches)
		}
	}

	if s.controller != nil {
		s.controller.CheckRecorder(now)
		st.Session = s.controller.Snapshot(now)
	} else {
		st.Session = session.Snapshot{State: session.StateIdle, UpdatedAt: now}
	}

	s.publishStatus(st)
}

// Shutdown stops the active session, if any.
func (s *Service) Shutdown() {
	if s.controller == nil {
		return
	}
	now := s.now()
	if s.controller.State() != session.StateIdle {
		slog.Info("Shutting down, stopping active recording")
	}
	s.controller.Shutdown(now)

	st := s.Status()
	st.Session = s.controller.Snapshot(now)
	s.publishStatus(st)
}

func (s *Service) publishStatus(st Status) {
	st.Mode = s.mode
	st.Backend = string(s.lister.Backend())
	st.Targets = s.classifier.Groups()
	s.status.Store(&st)
}

// Status returns the state after the most recent poll.
func (s *Service) Status() Status {
	return *s.status.Load()
}

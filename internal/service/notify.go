package service

import (
	"log/slog"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/classify"
	"github.com/audiolibrelab/streamcapture/internal/events"
	"github.com/audiolibrelab/streamcapture/internal/session"
)

type announceKey struct {
	streamID int
	group    string
}

// Announcer emits detection events in notify mode. Each stream is announced
// once per cooldown while it keeps playing.
type Announcer struct {
	layout    session.Layout
	command   func(output, source string) string
	source    string
	cooldown  time.Duration
	publisher events.Publisher

	announced map[announceKey]time.Time
}

func NewAnnouncer(layout session.Layout, command func(output, source string) string, source string, cooldown time.Duration, publisher events.Publisher) *Announcer {
	return &Announcer{
		layout:    layout,
		command:   command,
		source:    source,
		cooldown:  cooldown,
		publisher: publisher,
		announced: make(map[announceKey]time.Time),
	}
}

// Announce publishes a detection for every match outside its cooldown and
// returns how many were published.
func (a *Announcer) Announce(now time.Time, matches []classify.Match) int {
	for k, last := range a.announced {
		if now.Sub(last) >= a.cooldown {
			delete(a.announced, k)
		}
	}

	count := 0
	for _, m := range matches {
		key := announceKey{streamID: m.Stream.ID, group: m.Group}
		if _, ok := a.announced[key]; ok {
			continue
		}
		a.announced[key] = now

		source := a.source
		if source == "" {
			source = m.Stream.CaptureSource()
		}
		output := a.layout.Path(m.Group, now)

		slog.Info("Target stream detected", "group", m.Group, "stream", m.Stream.Description(), "suggested_output", output)
		a.publisher.Publish(events.Event{
			Kind:     events.KindDetected,
			Time:     now,
			Group:    m.Group,
			StreamID: m.Stream.ID,
			Stream:   m.Stream.Description(),
			Output:   output,
			Command:  a.command(output, source),
		})
		count++
	}
	return count
}

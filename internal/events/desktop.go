package events

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"
)

// DesktopSink shows desktop notifications. Detections optionally put the
// suggested capture command on the clipboard.
type DesktopSink struct {
	title    string
	autoCopy bool

	notify func(title, message string) error
	copy   func(text string) error
}

func NewDesktopSink(title string, autoCopy bool) *DesktopSink {
	return &DesktopSink{
		title:    title,
		autoCopy: autoCopy,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		copy: clipboard.WriteAll,
	}
}

func (d *DesktopSink) Name() string { return "desktop" }

func (d *DesktopSink) Handle(ctx context.Context, ev Event) error {
	title, message, ok := d.render(ev)
	if !ok {
		return nil
	}

	if ev.Kind == KindDetected && d.autoCopy && ev.Command != "" {
		if err := d.copy(ev.Command); err != nil {
			slog.Debug("Clipboard unavailable", "error", err)
		} else {
			message += "\nCapture command copied to clipboard"
		}
	}

	if err := d.notify(title, message); err != nil {
		return fmt.Errorf("failed to show notification: %w", err)
	}
	return nil
}

// render returns the notification text for the kinds worth interrupting for
func (d *DesktopSink) render(ev Event) (string, string, bool) {
	switch ev.Kind {
	case KindDetected:
		return d.title, fmt.Sprintf("%s stream: %s", ev.Group, ev.Stream), true
	case KindSessionStarted:
		return "Recording started", fmt.Sprintf("%s: %s", ev.Group, filepath.Base(ev.Output)), true
	case KindSessionStopped:
		return "Recording saved", fmt.Sprintf("%s (%s)", ev.Output, ev.Duration.Round(time.Second)), true
	case KindLaunchFailed, KindRecorderDied:
		return "Recording failed", fmt.Sprintf("%s: %s", ev.Group, ev.Error), true
	}
	return "", "", false
}

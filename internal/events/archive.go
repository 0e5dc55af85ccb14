package events

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Uploader copies a local file to remote storage under key.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// ArchiveSink uploads every finished recording, including the partial file
// left by a recorder that died.
type ArchiveSink struct {
	uploader    Uploader
	deleteLocal bool
}

func NewArchiveSink(uploader Uploader, deleteLocal bool) *ArchiveSink {
	return &ArchiveSink{uploader: uploader, deleteLocal: deleteLocal}
}

func (a *ArchiveSink) Name() string { return "archive" }

func (a *ArchiveSink) Handle(ctx context.Context, ev Event) error {
	if ev.Output == "" {
		return nil
	}

	switch ev.Kind {
	case KindSessionStopped:
		if _, err := os.Stat(ev.Output); err != nil {
			return fmt.Errorf("recording not found for upload: %w", err)
		}
	case KindRecorderDied:
		// The recorder may have died before writing anything
		if info, err := os.Stat(ev.Output); err != nil || info.Size() == 0 {
			return nil
		}
	default:
		return nil
	}

	key := ObjectKey(ev)
	if err := a.uploader.Upload(ctx, ev.Output, key); err != nil {
		return err
	}
	slog.Info("Recording archived", "output", ev.Output, "key", key)

	if a.deleteLocal {
		if err := os.Remove(ev.Output); err != nil {
			return fmt.Errorf("failed to remove archived recording: %w", err)
		}
	}
	return nil
}

// ObjectKey is "<group>/<file name>".
func ObjectKey(ev Event) string {
	return ev.Group + "/" + filepath.Base(ev.Output)
}

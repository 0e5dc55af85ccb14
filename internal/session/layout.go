package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/config"
)

// Layout decides where session files are written.
type Layout struct {
	Dir      string
	Subdirs  bool
	Template string
}

// NewLayout builds the layout from the paths and organization settings.
func NewLayout(cfg *config.Config) Layout {
	return Layout{
		Dir:      cfg.Paths.DownloadDir,
		Subdirs:  cfg.Organization.CreateSubdirs,
		Template: cfg.Organization.FilenameTemplate,
	}
}

// FileName expands {type} and {timestamp} for a session of group started at start.
func (l Layout) FileName(group string, start time.Time) string {
	return strings.NewReplacer(
		"{type}", group,
		"{timestamp}", start.Format(config.TimestampLayout),
	).Replace(l.Template)
}

// Path returns the output file for a session of group started at start.
func (l Layout) Path(group string, start time.Time) string {
	dir := l.Dir
	if l.Subdirs {
		dir = filepath.Join(dir, group)
	}
	return filepath.Join(dir, l.FileName(group, start))
}

// availablePath returns path, or path with a numeric suffix when a file of
// that name already exists.
func availablePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

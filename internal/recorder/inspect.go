package recorder

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// Recording summarises a finished output file.
type Recording struct {
	Path       string        `json:"path"`
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bit_depth"`
}

// Inspect reads the WAV header of a finished recording. A file killed before
// its header was rewritten still yields its size with an error.
func Inspect(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recording file not found: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	rec := &Recording{Path: path, Size: info.Size()}

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return rec, fmt.Errorf("not a valid WAV file: %s", path)
	}

	rec.SampleRate = int(d.SampleRate)
	rec.Channels = int(d.NumChans)
	rec.BitDepth = int(d.BitDepth)

	dur, err := d.Duration()
	if err != nil {
		return rec, fmt.Errorf("failed to read WAV duration: %w", err)
	}
	rec.Duration = dur

	return rec, nil
}

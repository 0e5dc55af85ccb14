package audio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Pulse lists streams through pactl. It works against PulseAudio and
// against PipeWire's pulse compatibility server.
type Pulse struct {
	run runFunc
}

// NewPulse creates a pactl based lister
func NewPulse() *Pulse {
	return &Pulse{run: runCommand}
}

func (p *Pulse) Backend() BackendType { return BackendTypePulse }

// List returns the current sink inputs with their sink monitor resolved.
func (p *Pulse) List(ctx context.Context) ([]Stream, error) {
	out, err := p.run(ctx, "pactl", "list", "sink-inputs")
	if err != nil {
		return nil, &UnavailableError{Backend: BackendTypePulse, Err: err}
	}

	streams, err := parseSinkInputs(out)
	if err != nil {
		return nil, &UnavailableError{Backend: BackendTypePulse, Err: err}
	}
	if len(streams) == 0 {
		return []Stream{}, nil
	}

	sinksOut, err := p.run(ctx, "pactl", "list", "short", "sinks")
	if err != nil {
		return nil, &UnavailableError{Backend: BackendTypePulse, Err: err}
	}

	sinks, err := parseShortSinks(sinksOut)
	if err != nil {
		return nil, &UnavailableError{Backend: BackendTypePulse, Err: err}
	}

	for i := range streams {
		streams[i].Monitor = monitorFor(streams[i].Sink, sinks)
	}

	slog.Debug("Listed pulse sink inputs", "count", len(streams))
	return streams, nil
}

// monitorFor maps a sink reference (index or name) to its monitor source
func monitorFor(sink string, sinks map[int]string) string {
	if sink == "" {
		return ""
	}
	if idx, err := strconv.Atoi(sink); err == nil {
		name, ok := sinks[idx]
		if !ok {
			return ""
		}
		return name + ".monitor"
	}
	return sink + ".monitor"
}

// parseSinkInputs parses `pactl list sink-inputs` output
func parseSinkInputs(output []byte) ([]Stream, error) {
	var streams []Stream
	current := -1

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "Sink Input #"); ok {
			id, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid sink input index %q", lineNo, rest)
			}
			streams = append(streams, Stream{ID: id})
			current = len(streams) - 1
			continue
		}

		if current < 0 {
			return nil, fmt.Errorf("line %d: unexpected output before first sink input: %q", lineNo, line)
		}

		s := &streams[current]

		if key, value, ok := strings.Cut(line, " = "); ok {
			switch key {
			case "application.name":
				s.Application = unquote(value)
			case "media.name":
				s.Media = unquote(value)
			case "application.process.binary":
				s.Binary = unquote(value)
			}
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "Sink":
			s.Sink = value
		case "Sample Specification":
			s.SampleSpec = value
		case "Corked":
			s.Corked = value == "yes"
		case "Mute":
			s.Muted = value == "yes"
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pactl output: %w", err)
	}

	return streams, nil
}

// parseShortSinks parses `pactl list short sinks` into index -> name
func parseShortSinks(output []byte) (map[int]string, error) {
	sinks := make(map[int]string)

	for i, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("sinks line %d: expected index and name, got %q", i+1, line)
		}

		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("sinks line %d: invalid sink index %q", i+1, fields[0])
		}
		sinks[idx] = fields[1]
	}

	return sinks, nil
}

func unquote(value string) string {
	value = strings.TrimSpace(value)
	if s, err := strconv.Unquote(value); err == nil {
		return s
	}
	return strings.Trim(value, `"`)
}

package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
)

const streamOutputClass = "Stream/Output/Audio"

// PipeWire lists playback stream nodes from pw-dump
type PipeWire struct {
	run runFunc
}

// NewPipeWire creates a pw-dump based lister
func NewPipeWire() *PipeWire {
	return &PipeWire{run: runCommand}
}

func (pw *PipeWire) Backend() BackendType { return BackendTypePipeWire }

// List returns all audio output stream nodes
func (pw *PipeWire) List(ctx context.Context) ([]Stream, error) {
	out, err := pw.run(ctx, "pw-dump")
	if err != nil {
		return nil, &UnavailableError{Backend: BackendTypePipeWire, Err: err}
	}

	streams, err := parseDump(out)
	if err != nil {
		return nil, &UnavailableError{Backend: BackendTypePipeWire, Err: err}
	}

	slog.Debug("Listed PipeWire stream nodes", "count", len(streams))
	return streams, nil
}

type dumpObject struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Info *struct {
		State string         `json:"state"`
		Props map[string]any `json:"props"`
	} `json:"info"`
}

// parseDump extracts output streams from the pw-dump object list
func parseDump(output []byte) ([]Stream, error) {
	var objects []dumpObject
	if err := json.Unmarshal(output, &objects); err != nil {
		return nil, fmt.Errorf("failed to parse pw-dump output: %w", err)
	}

	streams := []Stream{}
	for _, obj := range objects {
		if obj.Type != "PipeWire:Interface:Node" || obj.Info == nil {
			continue
		}

		props := obj.Info.Props
		if prop(props, "media.class") != streamOutputClass {
			continue
		}

		s := Stream{
			ID:          obj.ID,
			Application: prop(props, "application.name"),
			Media:       prop(props, "media.name"),
			Binary:      prop(props, "application.process.binary"),
			Corked:      obj.Info.State != "running",
			Muted:       prop(props, "stream.muted") == "true",
		}
		if s.Application == "" {
			s.Application = prop(props, "node.name")
		}

		rate, channels := prop(props, "audio.rate"), prop(props, "audio.channels")
		if rate != "" && channels != "" {
			s.SampleSpec = fmt.Sprintf("%sch %sHz", channels, rate)
		}

		// target.object may hold a node name or a serial number
		if target := prop(props, "target.object"); target != "" {
			if _, err := strconv.Atoi(target); err != nil {
				s.Sink = target
				s.Monitor = target + ".monitor"
			}
		}

		streams = append(streams, s)
	}

	return streams, nil
}

// prop renders a node property as text; pw-dump mixes strings, numbers and bools
func prop(props map[string]any, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

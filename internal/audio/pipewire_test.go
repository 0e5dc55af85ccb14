package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
)

const sampleDump = `[
  {
    "id": 31,
    "type": "PipeWire:Interface:Node",
    "info": {
      "state": "suspended",
      "props": {
        "media.class": "Audio/Sink",
        "node.name": "alsa_output.pci-0000_00_1f.3.analog-stereo"
      }
    }
  },
  {
    "id": 88,
    "type": "PipeWire:Interface:Node",
    "info": {
      "state": "running",
      "props": {
        "media.class": "Stream/Output/Audio",
        "application.name": "Microsoft Teams",
        "media.name": "Weekly Standup",
        "application.process.binary": "teams",
        "audio.rate": 48000,
        "audio.channels": 2,
        "target.object": "alsa_output.pci-0000_00_1f.3.analog-stereo"
      }
    }
  },
  {
    "id": 92,
    "type": "PipeWire:Interface:Node",
    "info": {
      "state": "idle",
      "props": {
        "media.class": "Stream/Output/Audio",
        "node.name": "Firefox",
        "target.object": 57
      }
    }
  },
  {
    "id": 3,
    "type": "PipeWire:Interface:Client",
    "info": {"props": {"application.name": "pipewire-pulse"}}
  }
]`

func TestParseDump_OutputStreams(t *testing.T) {
	streams, err := parseDump([]byte(sampleDump))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(streams) != 2 {
		t.Fatalf("Expected 2 output streams, got %d: %+v", len(streams), streams)
	}

	teams := streams[0]
	if teams.ID != 88 || teams.Application != "Microsoft Teams" || teams.Media != "Weekly Standup" {
		t.Errorf("Unexpected teams stream: %+v", teams)
	}
	if teams.Corked {
		t.Error("Expected running stream not to be corked")
	}
	if teams.Monitor != "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor" {
		t.Errorf("Expected sink monitor, got %s", teams.Monitor)
	}
	if teams.SampleSpec != "2ch 48000Hz" {
		t.Errorf("Expected sample spec '2ch 48000Hz', got %s", teams.SampleSpec)
	}

	firefox := streams[1]
	if firefox.Application != "Firefox" {
		t.Errorf("Expected node.name fallback 'Firefox', got %s", firefox.Application)
	}
	if !firefox.Corked {
		t.Error("Expected idle stream to be treated as corked")
	}
	// Numeric target ids cannot be turned into a monitor name
	if firefox.Monitor != "" || firefox.CaptureSource() != DefaultMonitor {
		t.Errorf("Expected default monitor fallback, got monitor=%q source=%q", firefox.Monitor, firefox.CaptureSource())
	}
}

func TestParseDump_Empty(t *testing.T) {
	streams, err := parseDump([]byte("[]"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if streams == nil || len(streams) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", streams)
	}
}

func TestPipeWireList_Errors(t *testing.T) {
	tests := []struct {
		name string
		run  runFunc
	}{
		{
			name: "binary missing",
			run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
				return nil, fmt.Errorf("%s: %w", name, exec.ErrNotFound)
			},
		},
		{
			name: "malformed output",
			run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
				return []byte("{not json"), nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pw := &PipeWire{run: tt.run}

			_, err := pw.List(context.Background())
			if !errors.Is(err, ErrServerUnavailable) {
				t.Fatalf("Expected ErrServerUnavailable, got: %v", err)
			}

			var unavailable *UnavailableError
			if !errors.As(err, &unavailable) || unavailable.Backend != BackendTypePipeWire {
				t.Errorf("Expected UnavailableError for pipewire, got %T: %v", err, err)
			}
		})
	}
}

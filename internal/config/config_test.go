package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	configFile := createTempConfig(t, `
mode: notify

detection:
  poll_interval: 1s
  grace_period: 45s
  cooldown: 10

audio:
  backend: pulse

targets:
  - name: custom
    patterns:
      - standup
  - name: teams
    enabled: true
    patterns:
      - microsoft teams
      - "re:teams\\.microsoft\\.com/.*meetup"
  - name: youtube
    enabled: false

paths:
  download_dir: ~/Captures

organization:
  create_subdirs: false
  filename_template: "{timestamp}-{type}.wav"

capture:
  source: default.monitor
  stop_timeout: 2s
`)

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Mode != ModeNotify {
		t.Errorf("Expected mode notify, got %s", cfg.Mode)
	}
	if cfg.Detection.PollInterval != time.Second {
		t.Errorf("Expected poll interval 1s, got %s", cfg.Detection.PollInterval)
	}
	if cfg.Detection.GracePeriod != 45*time.Second {
		t.Errorf("Expected grace period 45s, got %s", cfg.Detection.GracePeriod)
	}
	// Bare numbers are seconds
	if cfg.Detection.Cooldown != 10*time.Second {
		t.Errorf("Expected cooldown 10s, got %s", cfg.Detection.Cooldown)
	}

	// The file's target list replaces the defaults and keeps its order
	names := make([]string, len(cfg.Targets))
	for i, tgt := range cfg.Targets {
		names[i] = tgt.Name
	}
	if strings.Join(names, ",") != "custom,teams,youtube" {
		t.Errorf("Expected targets custom,teams,youtube, got %v", names)
	}
	if len(cfg.Targets[0].Patterns) != 1 {
		t.Errorf("Expected custom to keep only its own pattern, got %v", cfg.Targets[0].Patterns)
	}
	if !cfg.Targets[0].IsEnabled() {
		t.Error("Expected target without 'enabled' to be enabled")
	}
	if cfg.Targets[2].IsEnabled() {
		t.Error("Expected youtube to be disabled")
	}
	if got := cfg.EnabledTargetNames(); strings.Join(got, ",") != "custom,teams" {
		t.Errorf("Expected enabled targets custom,teams, got %v", got)
	}

	home, _ := os.UserHomeDir()
	if cfg.Paths.DownloadDir != filepath.Join(home, "Captures") {
		t.Errorf("Expected expanded download dir, got %s", cfg.Paths.DownloadDir)
	}

	// Unset capture fields keep their defaults
	if cfg.Capture.Binary != "ffmpeg" || cfg.Capture.SampleRate != 16000 || cfg.Capture.Channels != 1 {
		t.Errorf("Expected default capture settings, got %+v", cfg.Capture)
	}
	if cfg.Capture.Source != "default.monitor" {
		t.Errorf("Expected capture source default.monitor, got %s", cfg.Capture.Source)
	}
	if cfg.Capture.StopTimeout != 2*time.Second {
		t.Errorf("Expected stop timeout 2s, got %s", cfg.Capture.StopTimeout)
	}
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected defaults when default config file is absent, got: %v", err)
	}

	if cfg.Detection.PollInterval != 2*time.Second || cfg.Detection.GracePeriod != 30*time.Second {
		t.Errorf("Expected default 2s/30s, got %s/%s", cfg.Detection.PollInterval, cfg.Detection.GracePeriod)
	}
	if got := cfg.EnabledTargetNames(); strings.Join(got, ",") != "teams,youtube" {
		t.Errorf("Expected default enabled targets teams,youtube, got %v", got)
	}
	if cfg.Organization.FilenameTemplate != "{type}_{timestamp}.wav" {
		t.Errorf("Unexpected default template %s", cfg.Organization.FilenameTemplate)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError, got %T: %v", err, err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	configFile := createTempConfig(t, `
detection:
  grace_period: 30s
`)
	t.Setenv("STREAMCAPTURE_DETECTION_GRACE_PERIOD", "12")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Detection.GracePeriod != 12*time.Second {
		t.Errorf("Expected env override 12s, got %s", cfg.Detection.GracePeriod)
	}
}

func TestLoad_EnvOverrideWithoutConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STREAMCAPTURE_MODE", "notify")
	t.Setenv("STREAMCAPTURE_DETECTION_GRACE_PERIOD", "5s")
	t.Setenv("STREAMCAPTURE_EVENTS_KAFKA_BROKERS", "kafka1:9092,kafka2:9092")
	t.Setenv("STREAMCAPTURE_ORGANIZATION_CREATE_SUBDIRS", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Mode != ModeNotify {
		t.Errorf("Expected mode notify from environment, got %s", cfg.Mode)
	}
	if cfg.Detection.GracePeriod != 5*time.Second {
		t.Errorf("Expected grace period 5s from environment, got %s", cfg.Detection.GracePeriod)
	}
	if cfg.Detection.PollInterval != 2*time.Second {
		t.Errorf("Expected default poll interval kept, got %s", cfg.Detection.PollInterval)
	}
	if len(cfg.Events.Kafka.Brokers) != 2 || cfg.Events.Kafka.Brokers[1] != "kafka2:9092" {
		t.Errorf("Expected two brokers from environment, got %v", cfg.Events.Kafka.Brokers)
	}
	if cfg.Organization.CreateSubdirs {
		t.Error("Expected create_subdirs disabled from environment")
	}
	if got := cfg.EnabledTargetNames(); strings.Join(got, ",") != "teams,youtube" {
		t.Errorf("Expected default targets kept, got %v", got)
	}
}

func TestLoad_InvalidConfigs(t *testing.T) {
	tests := []struct {
		name        string
		config      string
		expectedErr string
	}{
		{
			name:        "invalid mode",
			config:      "mode: watch\n",
			expectedErr: "mode must be 'record' or 'notify', got: watch",
		},
		{
			name: "poll interval too small",
			config: `
detection:
  poll_interval: 10ms
`,
			expectedErr: "detection.poll_interval must be at least 100ms",
		},
		{
			name: "negative grace period",
			config: `
detection:
  grace_period: -5s
`,
			expectedErr: "detection.grace_period must be >= 0",
		},
		{
			name: "invalid backend",
			config: `
audio:
  backend: jack
`,
			expectedErr: "audio.backend must be 'auto', 'pulse' or 'pipewire', got: jack",
		},
		{
			name: "missing target name",
			config: `
targets:
  - patterns: [zoom]
`,
			expectedErr: "targets[0]: 'name' is required",
		},
		{
			name: "uppercase target name",
			config: `
targets:
  - name: Teams
    patterns: [teams]
`,
			expectedErr: "'name' must be lowercase",
		},
		{
			name: "duplicate target",
			config: `
targets:
  - name: teams
    patterns: [teams]
  - name: teams
    patterns: [microsoft]
`,
			expectedErr: "targets[1]: duplicate name 'teams'",
		},
		{
			name: "enabled target without patterns",
			config: `
targets:
  - name: zoom
    enabled: true
`,
			expectedErr: "enabled target must have at least one pattern",
		},
		{
			name: "bad regex",
			config: `
targets:
  - name: zoom
    patterns: ["re:zoom(("]
`,
			expectedErr: "pattern[0] is not a valid regular expression",
		},
		{
			name: "no enabled targets",
			config: `
targets:
  - name: zoom
    enabled: false
`,
			expectedErr: "at least one target must be enabled",
		},
		{
			name: "unknown template field",
			config: `
organization:
  filename_template: "{type}_{date}.wav"
`,
			expectedErr: "unknown field {date}",
		},
		{
			name: "template without timestamp",
			config: `
organization:
  filename_template: "{type}.wav"
`,
			expectedErr: "template must contain {timestamp}",
		},
		{
			name: "stereo limit",
			config: `
capture:
  channels: 6
`,
			expectedErr: "capture.channels must be 1 or 2, got: 6",
		},
		{
			name: "kafka without topic",
			config: `
events:
  kafka:
    brokers: [localhost:9092]
    topic: ""
`,
			expectedErr: "events.kafka.topic is required",
		},
		{
			name: "malformed yaml",
			config: `
targets: [
`,
			expectedErr: "error reading config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createTempConfig(t, tt.config)

			_, err := Load(configFile)
			if err == nil {
				t.Fatal("Expected error but got none")
			}

			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Errorf("Expected ConfigurationError, got %T", err)
			}

			if !strings.Contains(err.Error(), tt.expectedErr) {
				t.Errorf("Expected error containing '%s', got: %v", tt.expectedErr, err)
			}
		})
	}
}

func TestWriteDefault_LoadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamcapture", "config.yaml")

	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected written defaults to load, got: %v", err)
	}

	def := Default()
	if cfg.Detection != def.Detection {
		t.Errorf("Expected detection %+v, got %+v", def.Detection, cfg.Detection)
	}
	if cfg.Capture != def.Capture {
		t.Errorf("Expected capture %+v, got %+v", def.Capture, cfg.Capture)
	}
	if len(cfg.Targets) != len(def.Targets) {
		t.Fatalf("Expected %d targets, got %d", len(def.Targets), len(cfg.Targets))
	}
	if cfg.Targets[2].IsEnabled() {
		t.Error("Expected custom target to stay disabled")
	}

	if err := WriteDefault(path, false); err == nil {
		t.Error("Expected error when config file already exists")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("Expected force to overwrite, got: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	if got := expandPath("~/Audio"); got != filepath.Join(home, "Audio") {
		t.Errorf("Expected %s, got %s", filepath.Join(home, "Audio"), got)
	}
	if got := expandPath("/var/log/teams-audio"); got != "/var/log/teams-audio" {
		t.Errorf("Expected absolute path unchanged, got %s", got)
	}
}

// Helper function to create temporary config file for testing
func createTempConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "streamcapture-test.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	return path
}

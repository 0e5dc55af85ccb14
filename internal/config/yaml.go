package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// MarshalYAML writes durations as Go duration strings so the output can be
// loaded back.
func (d DetectionConfig) MarshalYAML() (interface{}, error) {
	return struct {
		PollInterval  string `yaml:"poll_interval"`
		GracePeriod   string `yaml:"grace_period"`
		Cooldown      string `yaml:"cooldown"`
		IncludeCorked bool   `yaml:"include_corked"`
	}{
		PollInterval:  d.PollInterval.String(),
		GracePeriod:   d.GracePeriod.String(),
		Cooldown:      d.Cooldown.String(),
		IncludeCorked: d.IncludeCorked,
	}, nil
}

func (c CaptureConfig) MarshalYAML() (interface{}, error) {
	return struct {
		Binary       string `yaml:"binary"`
		InputFormat  string `yaml:"input_format"`
		Source       string `yaml:"source"`
		SampleRate   int    `yaml:"sample_rate"`
		Channels     int    `yaml:"channels"`
		Codec        string `yaml:"codec"`
		StopTimeout  string `yaml:"stop_timeout"`
		StartupProbe string `yaml:"startup_probe"`
		RetryBackoff string `yaml:"retry_backoff"`
	}{
		Binary:       c.Binary,
		InputFormat:  c.InputFormat,
		Source:       c.Source,
		SampleRate:   c.SampleRate,
		Channels:     c.Channels,
		Codec:        c.Codec,
		StopTimeout:  c.StopTimeout.String(),
		StartupProbe: c.StartupProbe.String(),
		RetryBackoff: c.RetryBackoff.String(),
	}, nil
}

// Render returns the YAML form of cfg.
func Render(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("error marshaling config: %w", err)
	}
	return out, nil
}

// WriteDefault writes the built-in configuration to path. An existing file is
// left untouched unless force is set.
func WriteDefault(path string, force bool) error {
	if path == "" {
		path = DefaultPath()
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}

	out, err := Render(Default())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", path, err)
	}

	return nil
}

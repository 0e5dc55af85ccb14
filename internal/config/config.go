package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Operating modes
const (
	ModeRecord = "record"
	ModeNotify = "notify"
)

// RegexPrefix marks a target pattern as a regular expression instead of a substring.
const RegexPrefix = "re:"

// TimestampLayout is the layout used for the {timestamp} filename field.
const TimestampLayout = "2006-01-02_15-04-05"

type Config struct {
	Mode         string             `mapstructure:"mode" yaml:"mode"`
	Detection    DetectionConfig    `mapstructure:"detection" yaml:"detection"`
	Audio        AudioConfig        `mapstructure:"audio" yaml:"audio"`
	Targets      []Target           `mapstructure:"targets" yaml:"targets"`
	Paths        PathsConfig        `mapstructure:"paths" yaml:"paths"`
	Organization OrganizationConfig `mapstructure:"organization" yaml:"organization"`
	Capture      CaptureConfig      `mapstructure:"capture" yaml:"capture"`
	Events       EventsConfig       `mapstructure:"events" yaml:"events"`
	Archive      ArchiveConfig      `mapstructure:"archive" yaml:"archive"`
	History      HistoryConfig      `mapstructure:"history" yaml:"history"`
	Status       StatusConfig       `mapstructure:"status" yaml:"status"`
}

type DetectionConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	GracePeriod   time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	Cooldown      time.Duration `mapstructure:"cooldown" yaml:"cooldown"` // notify mode only
	IncludeCorked bool          `mapstructure:"include_corked" yaml:"include_corked"`
}

type AudioConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "auto", "pulse", "pipewire"
}

// Target is one classification group. The order of Config.Targets is the
// classification priority.
type Target struct {
	Name     string   `mapstructure:"name" yaml:"name"`
	Enabled  *bool    `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
}

// IsEnabled reports whether the target takes part in classification.
// A target without an explicit enabled flag is enabled.
func (t Target) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

type PathsConfig struct {
	DownloadDir string `mapstructure:"download_dir" yaml:"download_dir"`
	StateDir    string `mapstructure:"state_dir" yaml:"state_dir"`
}

type OrganizationConfig struct {
	CreateSubdirs    bool   `mapstructure:"create_subdirs" yaml:"create_subdirs"`
	FilenameTemplate string `mapstructure:"filename_template" yaml:"filename_template"`
}

type CaptureConfig struct {
	Binary       string        `mapstructure:"binary" yaml:"binary"`
	InputFormat  string        `mapstructure:"input_format" yaml:"input_format"`
	Source       string        `mapstructure:"source" yaml:"source"` // empty: monitor of the stream's sink
	SampleRate   int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels     int           `mapstructure:"channels" yaml:"channels"`
	Codec        string        `mapstructure:"codec" yaml:"codec"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	StartupProbe time.Duration `mapstructure:"startup_probe" yaml:"startup_probe"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
}

type EventsConfig struct {
	Desktop DesktopConfig `mapstructure:"desktop" yaml:"desktop"`
	Kafka   KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
}

type DesktopConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Title    string `mapstructure:"title" yaml:"title"`
	AutoCopy bool   `mapstructure:"auto_copy" yaml:"auto_copy"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

type ArchiveConfig struct {
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey   string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey   string `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket      string `mapstructure:"bucket" yaml:"bucket"`
	Secure      bool   `mapstructure:"secure" yaml:"secure"`
	DeleteLocal bool   `mapstructure:"delete_local" yaml:"delete_local"`
}

type HistoryConfig struct {
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

type StatusConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// ConfigurationError reports an unusable configuration. It is only ever
// returned at load time.
type ConfigurationError struct {
	File string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %s: %v", e.File, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func enabled(b bool) *bool { return &b }

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Mode: ModeRecord,
		Detection: DetectionConfig{
			PollInterval: 2 * time.Second,
			GracePeriod:  30 * time.Second,
			Cooldown:     30 * time.Second,
		},
		Audio: AudioConfig{Backend: "auto"},
		Targets: []Target{
			{Name: "teams", Enabled: enabled(true), Patterns: []string{
				"microsoft teams",
				"teams.microsoft.com",
				"teams meeting",
				"microsoft teams meeting",
			}},
			{Name: "youtube", Enabled: enabled(true), Patterns: []string{"youtube", "youtu.be"}},
			{Name: "custom", Enabled: enabled(false), Patterns: []string{}},
		},
		Paths: PathsConfig{
			DownloadDir: filepath.Join(home, "AudioCaptures"),
			StateDir:    filepath.Join(home, ".local", "share", "streamcapture"),
		},
		Organization: OrganizationConfig{
			CreateSubdirs:    true,
			FilenameTemplate: "{type}_{timestamp}.wav",
		},
		Capture: CaptureConfig{
			Binary:       "ffmpeg",
			InputFormat:  "pulse",
			SampleRate:   16000,
			Channels:     1,
			Codec:        "pcm_s16le",
			StopTimeout:  5 * time.Second,
			StartupProbe: 500 * time.Millisecond,
			RetryBackoff: 10 * time.Second,
		},
		Events: EventsConfig{
			Desktop: DesktopConfig{
				Title:    "Audio Stream Detected",
				AutoCopy: true,
			},
			Kafka: KafkaConfig{Topic: "streamcapture.events"},
		},
	}
}

// DefaultPath returns the config file used when --config is not given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/streamcapture/config.yaml")
}

// Load reads configFile on top of the defaults and validates the result.
// An empty configFile means DefaultPath, which may be absent.
func Load(configFile string) (*Config, error) {
	explicit := configFile != ""
	if !explicit {
		configFile = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("STREAMCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, "", reflect.TypeOf(Config{}))

	cfg := Default()

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		if explicit || !errors.As(err, &pathErr) {
			return nil, &ConfigurationError{File: configFile, Err: fmt.Errorf("error reading config file: %w", err)}
		}
		configFile = ""
	}

	// A targets list in the file replaces the built-in list as a whole;
	// decoding onto the defaults would merge entries by index.
	if v.IsSet("targets") {
		cfg.Targets = nil
	}

	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, &ConfigurationError{File: configFile, Err: fmt.Errorf("error unmarshaling config: %w", err)}
	}

	cfg.Paths.DownloadDir = expandPath(cfg.Paths.DownloadDir)
	cfg.Paths.StateDir = expandPath(cfg.Paths.StateDir)

	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{File: configFile, Err: err}
	}

	return cfg, nil
}

// bindEnv registers every key with viper so a STREAMCAPTURE_* variable
// applies even when the config file does not set that key. Targets can only
// come from the file.
func bindEnv(v *viper.Viper, prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		switch {
		case f.Type.Kind() == reflect.Struct:
			bindEnv(v, key, f.Type)
		case f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Struct:
		default:
			v.BindEnv(key)
		}
	}
}

// durationHook decodes durations from Go duration strings ("30s") or from
// bare numbers, which are taken as seconds.
func durationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			s := strings.TrimSpace(v)
			if secs, err := strconv.ParseFloat(s, 64); err == nil {
				return seconds(secs), nil
			}
			return time.ParseDuration(s)
		case int:
			return seconds(float64(v)), nil
		case int64:
			return seconds(float64(v)), nil
		case uint64:
			return seconds(float64(v)), nil
		case float64:
			return seconds(v), nil
		}
		return data, nil
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Mode != ModeRecord && c.Mode != ModeNotify {
		return fmt.Errorf("mode must be '%s' or '%s', got: %s", ModeRecord, ModeNotify, c.Mode)
	}

	if err := validateDetection(c.Detection); err != nil {
		return err
	}

	switch c.Audio.Backend {
	case "auto", "pulse", "pipewire":
	default:
		return fmt.Errorf("audio.backend must be 'auto', 'pulse' or 'pipewire', got: %s", c.Audio.Backend)
	}

	if err := validateTargets(c.Targets); err != nil {
		return err
	}

	if c.Paths.DownloadDir == "" {
		return fmt.Errorf("paths.download_dir is required")
	}

	if err := ValidateFilenameTemplate(c.Organization.FilenameTemplate); err != nil {
		return fmt.Errorf("organization.filename_template: %w", err)
	}

	if err := validateCapture(c.Capture); err != nil {
		return err
	}

	if len(c.Events.Kafka.Brokers) > 0 && c.Events.Kafka.Topic == "" {
		return fmt.Errorf("events.kafka.topic is required when brokers are set")
	}

	if c.Archive.Endpoint != "" && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive.endpoint is set")
	}

	return nil
}

func validateDetection(d DetectionConfig) error {
	if d.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("detection.poll_interval must be at least 100ms, got: %s", d.PollInterval)
	}
	if d.GracePeriod < 0 {
		return fmt.Errorf("detection.grace_period must be >= 0, got: %s", d.GracePeriod)
	}
	if d.Cooldown < 0 {
		return fmt.Errorf("detection.cooldown must be >= 0, got: %s", d.Cooldown)
	}
	return nil
}

var targetNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// validateTargets validates the ordered pattern groups
func validateTargets(targets []Target) error {
	if len(targets) == 0 {
		return fmt.Errorf("targets cannot be empty")
	}

	seen := make(map[string]bool)
	enabledCount := 0

	for i, t := range targets {
		prefix := fmt.Sprintf("targets[%d]", i)

		if t.Name == "" {
			return fmt.Errorf("%s: 'name' is required", prefix)
		}
		if !targetNamePattern.MatchString(t.Name) {
			return fmt.Errorf("%s: 'name' must be lowercase letters, digits, '-' or '_', got: %s", prefix, t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("%s: duplicate name '%s'", prefix, t.Name)
		}
		seen[t.Name] = true

		if !t.IsEnabled() {
			continue
		}
		enabledCount++

		if len(t.Patterns) == 0 {
			return fmt.Errorf("%s '%s': enabled target must have at least one pattern", prefix, t.Name)
		}

		for j, p := range t.Patterns {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("%s '%s': pattern[%d] is empty", prefix, t.Name, j)
			}
			if expr, ok := strings.CutPrefix(p, RegexPrefix); ok {
				if _, err := regexp.Compile("(?i)" + expr); err != nil {
					return fmt.Errorf("%s '%s': pattern[%d] is not a valid regular expression: %w", prefix, t.Name, j, err)
				}
			}
		}
	}

	if enabledCount == 0 {
		return fmt.Errorf("at least one target must be enabled")
	}

	return nil
}

func validateCapture(c CaptureConfig) error {
	if c.Binary == "" {
		return fmt.Errorf("capture.binary is required")
	}
	if c.InputFormat == "" {
		return fmt.Errorf("capture.input_format is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be > 0, got: %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("capture.channels must be 1 or 2, got: %d", c.Channels)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("capture.stop_timeout must be > 0, got: %s", c.StopTimeout)
	}
	if c.StartupProbe < 0 {
		return fmt.Errorf("capture.startup_probe must be >= 0, got: %s", c.StartupProbe)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("capture.retry_backoff must be >= 0, got: %s", c.RetryBackoff)
	}
	return nil
}

var templateField = regexp.MustCompile(`\{([^{}]*)\}`)

// ValidateFilenameTemplate accepts templates that only use the {type} and
// {timestamp} fields, contain {timestamp} and stay inside one directory.
func ValidateFilenameTemplate(tmpl string) error {
	if tmpl == "" {
		return fmt.Errorf("template is empty")
	}
	if strings.ContainsAny(tmpl, `/\`) {
		return fmt.Errorf("template must not contain path separators: %s", tmpl)
	}

	hasTimestamp := false
	for _, m := range templateField.FindAllStringSubmatch(tmpl, -1) {
		switch m[1] {
		case "timestamp":
			hasTimestamp = true
		case "type":
		default:
			return fmt.Errorf("unknown field {%s} (valid: {type}, {timestamp})", m[1])
		}
	}
	if !hasTimestamp {
		return fmt.Errorf("template must contain {timestamp}: %s", tmpl)
	}
	return nil
}

// EnabledTargetNames returns the enabled target names in priority order.
func (c *Config) EnabledTargetNames() []string {
	var names []string
	for _, t := range c.Targets {
		if t.IsEnabled() {
			names = append(names, t.Name)
		}
	}
	return names
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

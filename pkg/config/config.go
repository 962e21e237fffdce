// Package config holds the file-backed application settings: engine tuning,
// logging, update channel selection and the favorites store. Settings load
// on top of defaults, so a partial file is always valid.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/session"
	"github.com/srg/bluart/uart"
)

// Update channel names.
const (
	UpdateChannelGitHub = "github"
	UpdateChannelServer = "server"
)

// defaultRepo is the GitHub repository the update check queries.
const defaultRepo = "srg/bluart"

// Duration is a time.Duration that round-trips through YAML as a string
// ("15s", "750ms").
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Settings holds application configuration.
type Settings struct {
	LogLevel         string   `yaml:"log_level"`
	ScanDuration     Duration `yaml:"scan_duration"`
	ConnectTimeout   Duration `yaml:"connect_timeout"`
	WriteTimeout     Duration `yaml:"write_timeout"`
	ResponseTimeout  Duration `yaml:"response_timeout"`
	DebounceInterval Duration `yaml:"debounce_interval"`
	MTUTarget        int      `yaml:"mtu_target"`
	HistorySize      int      `yaml:"history_size"`

	Update UpdateSettings `yaml:"update"`
}

// UpdateSettings selects where version checks go.
type UpdateSettings struct {
	Channel    string `yaml:"channel"`
	GitHubRepo string `yaml:"github_repo"`
	ServerURL  string `yaml:"server_url,omitempty"`
}

// DefaultSettings returns settings with every default applied.
func DefaultSettings() *Settings {
	return &Settings{
		LogLevel:         "info",
		ScanDuration:     Duration(10 * time.Second),
		ConnectTimeout:   Duration(15 * time.Second),
		WriteTimeout:     Duration(5 * time.Second),
		ResponseTimeout:  0,
		DebounceInterval: Duration(750 * time.Millisecond),
		MTUTarget:        gatt.MaxMTU,
		HistorySize:      uart.DefaultHistorySize,
		Update: UpdateSettings{
			Channel:    UpdateChannelGitHub,
			GitHubRepo: defaultRepo,
		},
	}
}

// DefaultConfigDir returns the directory settings and favorites live in.
func DefaultConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "bluart")
}

// DefaultSettingsPath returns the default settings file path.
func DefaultSettingsPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultFavoritesPath returns the default favorites file path.
func DefaultFavoritesPath() string {
	return filepath.Join(DefaultConfigDir(), "favorites.yaml")
}

// Load reads a YAML settings file. Missing fields keep their defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	return s, nil
}

// LoadOrDefault loads path, falling back to defaults when no file exists
// yet.
func LoadOrDefault(path string) (*Settings, error) {
	s, err := Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return DefaultSettings(), nil
	}
	return s, err
}

// Save writes the settings as YAML, creating the directory if needed.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// Validate checks the settings for invalid values.
func (s *Settings) Validate() error {
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if s.ScanDuration <= 0 {
		return fmt.Errorf("scan_duration must be > 0")
	}
	if s.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be > 0")
	}
	if s.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be > 0")
	}
	if s.ResponseTimeout < 0 {
		return fmt.Errorf("response_timeout must be >= 0")
	}
	if s.DebounceInterval < 0 {
		return fmt.Errorf("debounce_interval must be >= 0")
	}
	if s.MTUTarget < gatt.MinMTU || s.MTUTarget > gatt.MaxMTU {
		return fmt.Errorf("mtu_target must be within [%d, %d]", gatt.MinMTU, gatt.MaxMTU)
	}
	if s.HistorySize <= 0 {
		return fmt.Errorf("history_size must be > 0")
	}
	switch s.Update.Channel {
	case UpdateChannelGitHub, UpdateChannelServer:
	default:
		return fmt.Errorf("update.channel must be %q or %q, got %q",
			UpdateChannelGitHub, UpdateChannelServer, s.Update.Channel)
	}
	if s.Update.Channel == UpdateChannelServer && s.Update.ServerURL == "" {
		return fmt.Errorf("update.server_url must be set for the server channel")
	}
	return nil
}

// NewLogger creates a configured logger instance. An unparsable level
// falls back to info.
func (s *Settings) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionOptions maps the settings onto session options.
func (s *Settings) SessionOptions() *session.Options {
	return &session.Options{
		ConnectTimeout:  s.ConnectTimeout.Std(),
		MTU:             s.MTUTarget,
		WriteTimeout:    s.WriteTimeout.Std(),
		ResponseTimeout: s.ResponseTimeout.Std(),
		HistorySize:     s.HistorySize,
	}
}

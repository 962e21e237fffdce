//go:build test

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bluart/internal/gatt"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.NotNil(t, s)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, 10*time.Second, s.ScanDuration.Std())
	assert.Equal(t, 15*time.Second, s.ConnectTimeout.Std())
	assert.Equal(t, 5*time.Second, s.WriteTimeout.Std())
	assert.Equal(t, time.Duration(0), s.ResponseTimeout.Std(), "commands wait indefinitely by default")
	assert.Equal(t, 750*time.Millisecond, s.DebounceInterval.Std())
	assert.Equal(t, gatt.MaxMTU, s.MTUTarget)
	assert.Equal(t, 20, s.HistorySize)
	assert.Equal(t, UpdateChannelGitHub, s.Update.Channel)
	assert.NoError(t, s.Validate(), "defaults MUST validate")
}

func TestSettings_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			want:     logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: "info",
			want:     logrus.InfoLevel,
		},
		{
			name:     "creates logger with warning level",
			logLevel: "warning",
			want:     logrus.WarnLevel,
		},
		{
			name:     "creates logger with error level",
			logLevel: "error",
			want:     logrus.ErrorLevel,
		},
		{
			name:     "unparsable level falls back to info",
			logLevel: "shouting",
			want:     logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Settings{LogLevel: tt.logLevel}

			logger := s.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nmtu_target: 185\nconnect_timeout: 3s\n"), 0o644))

	s, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "debug", s.LogLevel, "explicit fields MUST override")
	assert.Equal(t, 185, s.MTUTarget)
	assert.Equal(t, 3*time.Second, s.ConnectTimeout.Std(), "durations MUST parse from strings")
	assert.Equal(t, 10*time.Second, s.ScanDuration.Std(), "missing fields MUST keep defaults")
	assert.Equal(t, UpdateChannelGitHub, s.Update.Channel)
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := Load(path)
	assert.ErrorIs(t, err, os.ErrNotExist, "Load MUST report a missing file")

	s, err := LoadOrDefault(path)
	require.NoError(t, err, "LoadOrDefault MUST tolerate a missing file")
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connect_timeout: fast\n"), 0o644))

	_, err := Load(path)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestSaveRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	s := DefaultSettings()
	s.LogLevel = "debug"
	s.ResponseTimeout = Duration(2 * time.Second)
	s.Update.Channel = UpdateChannelServer
	s.Update.ServerURL = "https://updates.example.com"

	require.NoError(t, s.Save(path), "Save MUST create missing directories")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded, "settings MUST survive a save/load roundtrip")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Settings) {},
		},
		{
			name:    "unknown log level",
			mutate:  func(s *Settings) { s.LogLevel = "loud" },
			wantErr: "log_level",
		},
		{
			name:    "zero scan duration",
			mutate:  func(s *Settings) { s.ScanDuration = 0 },
			wantErr: "scan_duration",
		},
		{
			name:    "transfer unit below the ATT minimum",
			mutate:  func(s *Settings) { s.MTUTarget = 10 },
			wantErr: "mtu_target",
		},
		{
			name:    "transfer unit above the ATT maximum",
			mutate:  func(s *Settings) { s.MTUTarget = 1000 },
			wantErr: "mtu_target",
		},
		{
			name:    "zero history",
			mutate:  func(s *Settings) { s.HistorySize = 0 },
			wantErr: "history_size",
		},
		{
			name:    "unknown update channel",
			mutate:  func(s *Settings) { s.Update.Channel = "ftp" },
			wantErr: "update.channel",
		},
		{
			name: "server channel without URL",
			mutate: func(s *Settings) {
				s.Update.Channel = UpdateChannelServer
				s.Update.ServerURL = ""
			},
			wantErr: "update.server_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)

			err := s.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSessionOptions(t *testing.T) {
	s := DefaultSettings()
	s.ConnectTimeout = Duration(3 * time.Second)
	s.ResponseTimeout = Duration(time.Second)
	s.MTUTarget = 185
	s.HistorySize = 5

	opts := s.SessionOptions()

	assert.Equal(t, 3*time.Second, opts.ConnectTimeout)
	assert.Equal(t, time.Second, opts.ResponseTimeout)
	assert.Equal(t, 5*time.Second, opts.WriteTimeout)
	assert.Equal(t, 185, opts.MTU)
	assert.Equal(t, 5, opts.HistorySize)
}

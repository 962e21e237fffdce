// Package update checks release channels for a newer build of the
// tool. It only reports what is available; downloading and installing
// are left to the user.
package update

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/srg/bluart/pkg/config"
)

const (
	userAgent      = "bluart"
	defaultTimeout = 10 * time.Second
)

// Report is the outcome of a version check. Download fields are only
// populated when an update is available.
type Report struct {
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
	HasUpdate      bool   `json:"has_update"`
	DownloadURL    string `json:"download_url,omitempty"`
	DownloadSize   int64  `json:"download_size,omitempty"`
	ReleaseNotes   string `json:"release_notes,omitempty"`
	IsForced       bool   `json:"is_forced,omitempty"`
	UpdateType     string `json:"update_type,omitempty"`
	ReleaseDate    string `json:"release_date,omitempty"`
}

// Channel answers whether a newer release than current exists.
type Channel interface {
	Check(ctx context.Context, current string) (*Report, error)
}

// NewChannel builds the release channel selected by the settings.
func NewChannel(cfg config.UpdateSettings) (Channel, error) {
	switch cfg.Channel {
	case config.UpdateChannelGitHub:
		if cfg.GitHubRepo == "" {
			return nil, fmt.Errorf("github update channel requires a repository")
		}
		return NewGitHubChannel(cfg.GitHubRepo), nil
	case config.UpdateChannelServer:
		if cfg.ServerURL == "" {
			return nil, fmt.Errorf("server update channel requires a server URL")
		}
		return NewServerChannel(cfg.ServerURL), nil
	default:
		return nil, fmt.Errorf("unknown update channel %q", cfg.Channel)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

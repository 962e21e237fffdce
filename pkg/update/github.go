package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

const githubAPIBase = "https://api.github.com"

// GitHubChannel checks the latest release of a GitHub repository.
type GitHubChannel struct {
	// Repo is the "owner/name" slug of the repository.
	Repo string
	// BaseURL points at the GitHub API. Overridable for tests.
	BaseURL string
	Client  *http.Client
}

// NewGitHubChannel builds a channel for the given "owner/name" repository.
func NewGitHubChannel(repo string) *GitHubChannel {
	return &GitHubChannel{
		Repo:    repo,
		BaseURL: githubAPIBase,
		Client:  newHTTPClient(),
	}
}

type githubRelease struct {
	TagName     string `json:"tag_name"`
	Body        string `json:"body"`
	PublishedAt string `json:"published_at"`
	Assets      []struct {
		Name               string `json:"name"`
		Size               int64  `json:"size"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// Check fetches the latest release and compares its tag against current.
func (c *GitHubChannel) Check(ctx context.Context, current string) (*Report, error) {
	currentVersion, err := ParseVersion(current)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.BaseURL, c.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github release query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github release query returned %s", resp.Status)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("github release query failed: %w", err)
	}

	latest, err := ParseVersion(release.TagName)
	if err != nil {
		return nil, fmt.Errorf("release tag %q: %w", release.TagName, err)
	}

	report := &Report{
		CurrentVersion: currentVersion.String(),
		LatestVersion:  latest.String(),
		HasUpdate:      currentVersion.Older(latest),
	}
	if report.HasUpdate {
		report.ReleaseNotes = release.Body
		report.ReleaseDate = release.PublishedAt
		// Prefer the asset built for this platform, fall back to the
		// first one published.
		pick := -1
		for i, asset := range release.Assets {
			if strings.Contains(strings.ToLower(asset.Name), runtime.GOOS) {
				pick = i
				break
			}
			if pick < 0 {
				pick = i
			}
		}
		if pick >= 0 {
			report.DownloadURL = release.Assets[pick].BrowserDownloadURL
			report.DownloadSize = release.Assets[pick].Size
		}
	}
	return report, nil
}

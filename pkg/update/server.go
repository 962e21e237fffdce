package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
)

// ServerChannel checks a self-hosted update server. The server decides
// whether an update applies, which lets a deployment force or stage
// rollouts per installed version.
type ServerChannel struct {
	// URL is the server base, e.g. "https://updates.example.com".
	URL    string
	Client *http.Client
}

// NewServerChannel builds a channel for the given server base URL.
func NewServerChannel(url string) *ServerChannel {
	return &ServerChannel{
		URL:    strings.TrimRight(url, "/"),
		Client: newHTTPClient(),
	}
}

// Check asks the server whether a newer release exists for current.
func (c *ServerChannel) Check(ctx context.Context, current string) (*Report, error) {
	currentVersion, err := ParseVersion(current)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL+"/api/version", nil)
	if err != nil {
		return nil, err
	}
	release := currentVersion
	release.HasBuild = false
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Current-Version", release.String())
	if currentVersion.HasBuild {
		req.Header.Set("Current-Build", strconv.Itoa(currentVersion.Build))
	}
	req.Header.Set("Platform", runtime.GOOS)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("update server query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("update server returned %s", resp.Status)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("update server query failed: %w", err)
	}
	if report.CurrentVersion == "" {
		report.CurrentVersion = currentVersion.String()
	}
	return &report, nil
}

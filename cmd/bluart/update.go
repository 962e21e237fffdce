package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bluart/pkg/config"
	"github.com/srg/bluart/pkg/update"
)

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for a newer release",
	Long: `Checks the configured release channel for a newer version. The channel
comes from the settings file and can be overridden with flags.`,
	RunE: runUpdate,
}

var (
	updateChannel   string
	updateRepo      string
	updateServerURL string
	updateJSON      bool
)

func init() {
	updateCmd.Flags().StringVar(&updateChannel, "channel", "", "Release channel (github, server)")
	updateCmd.Flags().StringVar(&updateRepo, "repo", "", "GitHub repository to query (owner/name)")
	updateCmd.Flags().StringVar(&updateServerURL, "server-url", "", "Update server URL for the server channel")
	updateCmd.Flags().BoolVar(&updateJSON, "json", false, "Output as JSON")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	settings, err := config.LoadOrDefault(settingsPath(cmd))
	if err != nil {
		return err
	}

	channelCfg := settings.Update
	if updateChannel != "" {
		channelCfg.Channel = updateChannel
	}
	if updateRepo != "" {
		channelCfg.GitHubRepo = updateRepo
	}
	if updateServerURL != "" {
		channelCfg.ServerURL = updateServerURL
	}

	channel, err := update.NewChannel(channelCfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Development builds carry a non-numeric version; compare as 0.0.0 so
	// any published release counts as newer.
	current := version
	if _, err := update.ParseVersion(current); err != nil {
		current = "0.0.0"
	}

	logger.WithField("channel", channelCfg.Channel).Debug("Checking for updates")
	report, err := channel.Check(ctx, current)
	if err != nil {
		return fmt.Errorf("update check failed: %w", err)
	}

	if updateJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	if !report.HasUpdate {
		fmt.Printf("%s is up to date (latest %s)\n", formatVersion(report.CurrentVersion), report.LatestVersion)
		return nil
	}

	fmt.Printf("Update available: %s -> %s\n", formatVersion(report.CurrentVersion), report.LatestVersion)
	if report.DownloadURL != "" {
		fmt.Printf("Download: %s", report.DownloadURL)
		if report.DownloadSize > 0 {
			fmt.Printf(" (%.1f MB)", float64(report.DownloadSize)/(1024*1024))
		}
		fmt.Println()
	}
	if report.ReleaseNotes != "" {
		fmt.Printf("\n%s\n", report.ReleaseNotes)
	}
	if report.IsForced {
		fmt.Println("\nThis update is marked as required.")
	}
	return nil
}

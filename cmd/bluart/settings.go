package main

import (
	"github.com/spf13/cobra"

	"github.com/srg/bluart/pkg/config"
)

// settingsPath resolves the settings file path from the --config flag,
// falling back to the per-user default.
func settingsPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return config.DefaultSettingsPath()
}

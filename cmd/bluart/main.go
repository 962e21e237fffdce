package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

// Injected at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds the 'v' prefix when version starts with a digit.
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bluart",
	Short: "UART-over-GATT terminal for BLE peripherals",
	Long: `bluart talks to Bluetooth Low Energy peripherals that expose a
UART-style GATT service (Nordic UART, HM-10 and friends):

- Scan and discover nearby BLE devices
- Inspect GATT services and the resolved UART channels
- Send one-shot commands and read their responses
- Interactive terminal with command history recall
- Bridge a device to a local PTY for stock serial tools
- Lua scripting for device automation
- WebSocket feed of device and session events

Ideal for firmware bring-up, automated testing, and talking to serial
bridges without a phone app.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(termCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(favoritesCmd)
	rootCmd.AddCommand(updateCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to the settings file")

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} {{.Version}} (commit %s, built %s)\n", commit, date))
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

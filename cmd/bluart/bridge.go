package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/bluart/pkg/bridge"
	"github.com/srg/bluart/pkg/config"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge <device-address>",
	Short: "Expose a UART device as a local pseudo-terminal",
	Long: `Connects to the device and exposes the UART channel as a local PTY,
so stock serial tools (screen, minicom, shell redirection) can talk to
it. The bridge runs until interrupted.

Example:
  bluart bridge AA:BB:CC:DD:EE:FF --symlink /tmp/my-device
  screen /tmp/my-device`,
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

var (
	bridgeSymlink   string
	bridgeRaw       bool
	bridgeStdinBuf  int
	bridgeStdoutBuf int
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a stable symlink to the PTY slave")
	bridgeCmd.Flags().BoolVar(&bridgeRaw, "raw", false, "Forward input bytes as they arrive instead of assembling lines")
	bridgeCmd.Flags().IntVar(&bridgeStdinBuf, "stdin-buffer", 0, "PTY input ring capacity in bytes (0 for default)")
	bridgeCmd.Flags().IntVar(&bridgeStdoutBuf, "stdout-buffer", 0, "PTY output ring capacity in bytes (0 for default)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	address := args[0]

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	settings, err := config.LoadOrDefault(settingsPath(cmd))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down bridge...")
		cancel()
	}()

	progress := NewProgressPrinter(fmt.Sprintf("Bridging %s", address), "Connecting", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	opts := &bridge.Options{
		Address:          address,
		Session:          settings.SessionOptions(),
		Logger:           logger,
		StdinBufferSize:  bridgeStdinBuf,
		StdoutBufferSize: bridgeStdoutBuf,
		TTYSymlinkPath:   bridgeSymlink,
		Raw:              bridgeRaw,
	}

	_, err = bridge.Run(ctx, opts, progress.Callback(), func(b bridge.Bridge) (struct{}, error) {
		progress.Stop()
		fmt.Printf("Bridge ready on %s", b.TTYName())
		if link := b.TTYSymlink(); link != "" {
			fmt.Printf(" (symlink %s)", link)
		}
		fmt.Println("\nPress Ctrl+C to stop.")

		// The pump runs in the background; block until shutdown.
		<-ctx.Done()
		return struct{}{}, nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/bluart/notify"
	"github.com/srg/bluart/pkg/config"
	"github.com/srg/bluart/pkg/monitor"
	"github.com/srg/bluart/registry"
	"github.com/srg/bluart/session"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Serve engine events to WebSocket clients",
	Long: `Scans continuously and streams device sightings as JSON events over
WebSocket. With --address, also connects to the device and streams its
session lifecycle transitions. Events are deduplicated and debounced
before they hit the wire.`,
	RunE: runMonitor,
}

var (
	monitorListen  string
	monitorAddress string
)

func init() {
	monitorCmd.Flags().StringVarP(&monitorListen, "listen", "l", "127.0.0.1:8585", "Listen address for the WebSocket feed")
	monitorCmd.Flags().StringVar(&monitorAddress, "address", "", "Also connect to this device and stream its session states")
}

func runMonitor(cmd *cobra.Command, args []string) error {
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
		fmt.Println("\nShutting down monitor...")
		cancel()
	}()

	filter := notify.NewFilter(notify.Config{Debounce: settings.DebounceInterval.Std()}, logger)
	server := monitor.NewServer(filter, logger)

	reg := registry.New(nil, logger)
	server.WatchRegistry(reg.Events())

	// The scan feeds the registry until shutdown.
	scanOpts := registry.DefaultScanOptions()
	scanOpts.Duration = 0
	go func() {
		if _, err := reg.Scan(ctx, scanOpts, nil); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Scan failed")
			cancel()
		}
	}()

	if monitorAddress != "" {
		s := session.New(settings.SessionOptions(), logger)
		defer s.Close()
		server.WatchSession(s.States())
		go func() {
			if err := s.Connect(ctx, monitorAddress); err != nil {
				logger.WithError(err).Error("Session connect failed")
			}
		}()
	}

	fmt.Printf("Event feed on ws://%s, press Ctrl+C to stop\n", monitorListen)
	if err := server.Serve(ctx, monitorListen); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

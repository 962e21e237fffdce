package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bluart/pkg/config"
	"github.com/srg/bluart/registry"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Discovered devices show their name, address, RSSI with a signal quality
label, and advertised services. Favorites are marked with a star.`,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanServices    []string
	scanAllowList   []string
	scanBlockList   []string
	scanMinRSSI     int
	scanNoDuplicate bool
	scanWatch       bool
)

func init() {
	// Assigned here rather than in the literal to avoid an initialization
	// cycle: runScan -> runWatchScan -> scanCmd.
	scanCmd.RunE = runScan
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by advertised service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().IntVar(&scanMinRSSI, "min-rssi", 0, "Drop sightings weaker than this (0 disables)")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", false, "Keep only the first sighting of each device")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	favorites, err := config.OpenFavorites(config.DefaultFavoritesPath())
	if err != nil {
		logger.WithError(err).Warn("Favorites unavailable, continuing without")
		favorites = nil
	}

	scanOpts := &registry.ScanOptions{
		Duration:        scanDuration,
		AllowDuplicates: !scanNoDuplicate,
		ServiceUUIDs:    scanServices,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
		MinRSSI:         scanMinRSSI,
	}

	var reg *registry.Registry
	if favorites != nil {
		reg = registry.New(favorites, logger)
	} else {
		reg = registry.New(nil, logger)
	}

	if scanWatch {
		return runWatchScan(reg, scanOpts, logger)
	}
	return runSingleScan(reg, scanOpts, logger)
}

func runSingleScan(reg *registry.Registry, opts *registry.ScanOptions, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	progress := NewCountdownProgressPrinter("Scanning for BLE devices", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := reg.Scan(ctx, opts, progress.Callback())
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Scan failed")
		return err
	}

	progress.Stop()
	return displayDevices(os.Stdout, devices, scanFormat)
}

// runWatchScan repaints the device table while an indefinite scan feeds
// the registry, until the user interrupts.
func runWatchScan(reg *registry.Registry, opts *registry.ScanOptions, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	// Watch mode owns the screen, so the scan runs without a deadline
	// unless one was asked for explicitly.
	watchOpts := *opts
	if !scanCmd.Flags().Changed("duration") {
		watchOpts.Duration = 0
	}

	scanErrCh := make(chan error, 1)
	go func() {
		_, err := reg.Scan(ctx, &watchOpts, nil)
		scanErrCh <- err
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	repaint := func() error {
		clearScreen(os.Stdout)
		fmt.Println("Scanning... press Ctrl+C to stop")
		return displayDevices(os.Stdout, reg.Devices(), scanFormat)
	}

	for {
		select {
		case <-ctx.Done():
			clearScreen(os.Stdout)
			return displayDevices(os.Stdout, reg.Devices(), scanFormat)
		case err := <-scanErrCh:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				logger.WithError(err).Error("Scan failed")
				return err
			}
			clearScreen(os.Stdout)
			return displayDevices(os.Stdout, reg.Devices(), scanFormat)
		case <-ticker.C:
			if err := repaint(); err != nil {
				return err
			}
		}
	}
}

func displayDevices(w io.Writer, devices []*registry.Device, format string) error {
	if format == "json" {
		return displayDevicesJSON(w, devices)
	}
	return displayDevicesTable(w, devices)
}

func displayDevicesTable(w io.Writer, devices []*registry.Device) error {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	sorted := make([]*registry.Device, len(devices))
	copy(sorted, devices)
	// Favorites first, then by signal strength
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Favorite() != sorted[j].Favorite() {
			return sorted[i].Favorite()
		}
		return sorted[i].RSSI() > sorted[j].RSSI()
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tADDRESS\tRSSI\tQUALITY\tSERVICES\tLAST SEEN")

	for _, dev := range sorted {
		name := dev.Name()
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(dev.AdvertisedServices(), ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		marker := ""
		if dev.Favorite() {
			marker = "*"
		}

		lastSeen := time.Since(dev.LastSeen()).Truncate(time.Second)

		fmt.Fprintf(tw, "%s\t%s\t%s\t%d dBm\t%s\t%s\t%s ago\n",
			marker, name, dev.Address(), dev.RSSI(), dev.Quality(), services, lastSeen)
	}

	return tw.Flush()
}

// scanResult is the JSON shape of one discovered device.
type scanResult struct {
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	RSSI     int      `json:"rssi"`
	Quality  string   `json:"quality"`
	Favorite bool     `json:"favorite"`
	Services []string `json:"services,omitempty"`
	LastSeen string   `json:"last_seen"`
}

func displayDevicesJSON(w io.Writer, devices []*registry.Device) error {
	results := make([]scanResult, 0, len(devices))
	for _, dev := range devices {
		results = append(results, scanResult{
			Name:     dev.Name(),
			Address:  dev.Address(),
			RSSI:     dev.RSSI(),
			Quality:  string(dev.Quality()),
			Favorite: dev.Favorite(),
			Services: dev.AdvertisedServices(),
			LastSeen: dev.LastSeen().Format(time.RFC3339),
		})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[2J\033[H")
}

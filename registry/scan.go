package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"

	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/internal/gatt/goble"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// ScanOptions configures a discovery run.
type ScanOptions struct {
	// Duration bounds the scan; 0 scans until the context is done.
	Duration time.Duration `default:"10s"`
	// AllowDuplicates asks the transport to redeliver advertisements from
	// already seen devices, which is what keeps RSSI and last-seen fresh.
	AllowDuplicates bool `default:"true"`
	// ServiceUUIDs keeps only devices advertising at least one of these.
	ServiceUUIDs []string
	AllowList    []string
	BlockList    []string
	// MinRSSI drops sightings weaker than this when non-zero.
	MinRSSI int
}

// DefaultScanOptions returns the default scanning policy.
func DefaultScanOptions() *ScanOptions {
	opts := &ScanOptions{}
	defaults.SetDefaults(opts)
	return opts
}

// Scan clears the registry and runs one discovery cycle, returning the
// devices found in discovery order. The registry keeps them until the next
// Scan or Clear.
func (r *Registry) Scan(ctx context.Context, opts *ScanOptions, progress ProgressCallback) ([]*Device, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progress == nil {
		progress = func(string) {} // No-op callback
	}

	r.Clear()

	r.logger.WithField("duration", opts.Duration).Info("Starting BLE scan")
	progress("Scanning")

	scanner, err := goble.NewScanner()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	err = scanner.Scan(scanCtx, opts.AllowDuplicates, func(adv gatt.Advertisement) {
		r.observe(adv, opts)
	})
	// A duration-bounded scan ends with a context error; that is normal
	// completion, not failure.
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	r.logger.WithField("device_count", r.Len()).Info("BLE scan completed")
	progress("Processing results")

	return r.Devices(), nil
}

// observe routes one sighting: known devices always refresh, unknown ones
// must pass the filters first.
func (r *Registry) observe(adv gatt.Advertisement, opts *ScanOptions) {
	if _, known := r.Get(adv.Addr()); !known && !shouldInclude(adv, opts) {
		return
	}
	r.Upsert(adv)
}

// shouldInclude applies the block/allow/RSSI/service filters
func shouldInclude(adv gatt.Advertisement, opts *ScanOptions) bool {
	addr := normalizeAddr(adv.Addr())

	for _, blocked := range opts.BlockList {
		if addr == normalizeAddr(blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if addr == normalizeAddr(a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if opts.MinRSSI != 0 && adv.RSSI() < opts.MinRSSI {
		return false
	}

	if len(opts.ServiceUUIDs) > 0 {
		hasRequired := false
		for _, required := range opts.ServiceUUIDs {
			want := gatt.NormalizeUUID(required)
			for _, advertised := range adv.Services() {
				if gatt.NormalizeUUID(advertised) == want {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	return true
}

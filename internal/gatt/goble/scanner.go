package goble

import (
	"context"

	ble "github.com/go-ble/ble"
	"github.com/srg/bluart/internal/gatt"
)

// bleScanner wraps ble.Device to implement the gatt.Scanner interface
type bleScanner struct {
	dev ble.Device
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to
// gatt.Advertisement
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(gatt.Advertisement)) error {
	// Adapter: convert a handler expecting a gatt.Advertisement to the one
	// expecting ble.Advertisement
	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	if err := s.dev.Scan(ctx, allowDup, bleHandler); err != nil {
		return gatt.NormalizeError(err)
	}
	return nil
}

// NewScanner creates a gatt.Scanner instance for discovery runs.
func NewScanner() (gatt.Scanner, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, gatt.NormalizeError(err)
	}
	return &bleScanner{dev: dev}, nil
}

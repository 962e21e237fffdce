package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/bluart/internal/gatt"
)

// BLEAdvertisement wraps ble.Advertisement to implement the
// gatt.Advertisement interface.
type BLEAdvertisement struct {
	adv ble.Advertisement
}

// NewBLEAdvertisement creates a new BLEAdvertisement wrapper
func NewBLEAdvertisement(adv ble.Advertisement) gatt.Advertisement {
	return &BLEAdvertisement{adv: adv}
}

func (a *BLEAdvertisement) LocalName() string        { return a.adv.LocalName() }
func (a *BLEAdvertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *BLEAdvertisement) TxPowerLevel() int        { return int(a.adv.TxPowerLevel()) }
func (a *BLEAdvertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *BLEAdvertisement) RSSI() int                { return a.adv.RSSI() }
func (a *BLEAdvertisement) Addr() string             { return a.adv.Addr().String() }

func (a *BLEAdvertisement) ServiceData() []struct {
	UUID string
	Data []byte
} {
	bleServiceData := a.adv.ServiceData()
	result := make([]struct {
		UUID string
		Data []byte
	}, len(bleServiceData))
	for i, sd := range bleServiceData {
		result[i].UUID = sd.UUID.String()
		result[i].Data = sd.Data
	}
	return result
}

// Services returns advertised service UUIDs with CoreBluetooth overflow
// entries folded in. iOS moves UUIDs past the packet limit into the
// overflow area; callers care about the union, not where a UUID rode.
func (a *BLEAdvertisement) Services() []string {
	bleServices := a.adv.Services()
	result := make([]string, 0, len(bleServices))
	seen := make(map[string]struct{}, len(bleServices))
	for _, svc := range bleServices {
		result = appendUnique(result, seen, svc.String())
	}
	for _, svc := range a.adv.OverflowService() {
		result = appendUnique(result, seen, svc.String())
	}
	return result
}

func appendUnique(list []string, seen map[string]struct{}, uuid string) []string {
	if _, ok := seen[uuid]; ok {
		return list
	}
	seen[uuid] = struct{}{}
	return append(list, uuid)
}

// Unwrap returns the underlying ble.Advertisement for internal use within
// the goble package
func (a *BLEAdvertisement) Unwrap() ble.Advertisement {
	return a.adv
}

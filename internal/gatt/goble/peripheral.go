package goble

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/srg/bluart/internal/gatt"
)

const (
	// gapServiceUUID and gapDeviceNameChar locate the GAP Device Name
	// characteristic, which is more authoritative than the advertised name.
	gapServiceUUID    = "1800"
	gapDeviceNameChar = "2a00"

	// gapNameReadTimeout bounds the best-effort name read after connect.
	gapNameReadTimeout = 2 * time.Second
)

// BLEPeripheral implements the Peripheral interface for go-ble devices.
type BLEPeripheral struct {
	id                 string
	name               string
	address            string
	rssi               int
	txPower            *int
	connectable        bool
	lastSeen           time.Time
	advertisedServices []string
	manufData          []byte
	serviceData        map[string][]byte
	link               *BLELink
	connecting         bool
	logger             *logrus.Logger
	mu                 sync.RWMutex
}

// NewPeripheral creates a BLEPeripheral for the given hardware address.
func NewPeripheral(address string, logger *logrus.Logger) *BLEPeripheral {
	if logger == nil {
		logger = logrus.New()
	}

	return &BLEPeripheral{
		id:                 address,
		address:            address,
		advertisedServices: make([]string, 0),
		serviceData:        make(map[string][]byte),
		lastSeen:           time.Now(),
		logger:             logger,
	}
}

// NewPeripheralFromAdvertisement creates a BLEPeripheral from a sighting.
func NewPeripheralFromAdvertisement(adv gatt.Advertisement, logger *logrus.Logger) *BLEPeripheral {
	p := NewPeripheral(adv.Addr(), logger)

	p.name = adv.LocalName()
	p.rssi = adv.RSSI()
	p.connectable = adv.Connectable()
	p.manufData = adv.ManufacturerData()

	for _, uuid := range adv.Services() {
		p.advertisedServices = append(p.advertisedServices, gatt.NormalizeUUID(uuid))
	}
	sort.Strings(p.advertisedServices)

	for _, svcData := range adv.ServiceData() {
		p.serviceData[gatt.NormalizeUUID(svcData.UUID)] = svcData.Data
	}

	// 127 means TX power not available
	if adv.TxPowerLevel() != 127 {
		txPower := adv.TxPowerLevel()
		p.txPower = &txPower
	}

	// Try to extract a name from manufacturer data if no local name
	if p.name == "" {
		if extracted := extractNameFromManufacturerData(adv.ManufacturerData()); extracted != "" {
			p.name = extracted
		}
	}

	return p
}

// PeripheralInfo implementation

func (p *BLEPeripheral) ID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

func (p *BLEPeripheral) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.name == "" {
		return p.address
	}
	return p.name
}

func (p *BLEPeripheral) Address() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.address
}

func (p *BLEPeripheral) RSSI() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rssi
}

func (p *BLEPeripheral) TxPower() *int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.txPower
}

func (p *BLEPeripheral) IsConnectable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connectable
}

func (p *BLEPeripheral) AdvertisedServices() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.advertisedServices
}

func (p *BLEPeripheral) ManufacturerData() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.manufData
}

func (p *BLEPeripheral) ServiceData() map[string][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.serviceData
}

func (p *BLEPeripheral) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

// Connect establishes a link and resolves the peripheral's GAP name. Each
// attempt builds a fresh link; characteristic handles never survive a
// disconnect.
func (p *BLEPeripheral) Connect(ctx context.Context, opts *gatt.ConnectOptions) error {
	if opts == nil {
		opts = gatt.DefaultConnectOptions()
	}

	// Reserve the attempt, then release the lock: the dial and the GAP
	// read below are network calls, and identity or status queries must
	// keep answering while they run.
	p.mu.Lock()
	if p.connecting || (p.link != nil && p.link.IsConnected()) {
		p.mu.Unlock()
		return gatt.ErrAlreadyConnected
	}
	p.connecting = true
	link := NewLink(p.logger)
	address := p.address
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.connecting = false
		p.mu.Unlock()
	}()

	if err := link.Connect(ctx, address, opts); err != nil {
		return err
	}

	p.mu.Lock()
	p.link = link
	p.mu.Unlock()

	// GAP Device Name read is best-effort; the advertisement already gave
	// us a usable name in most cases.
	if char, err := link.Characteristic(gapServiceUUID, gapDeviceNameChar); err == nil {
		if data, err := char.Read(gapNameReadTimeout); err == nil && len(data) > 0 {
			name := strings.TrimSpace(strings.TrimRight(string(data), "\x00"))
			if len(name) > 0 && isValidDeviceName(name) {
				p.mu.Lock()
				p.name = name
				p.mu.Unlock()
				p.logger.WithFields(logrus.Fields{
					"address": address,
					"name":    name,
				}).Debug("Resolved peripheral name from GAP")
			}
		}
	}

	return nil
}

// Disconnect tears the link down. Safe to call when already disconnected.
func (p *BLEPeripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.link == nil {
		return nil
	}
	return p.link.Disconnect()
}

func (p *BLEPeripheral) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.link != nil && p.link.IsConnected()
}

// Link returns the active link, nil when disconnected.
func (p *BLEPeripheral) Link() gatt.Link {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.link == nil || !p.link.IsConnected() {
		return nil
	}
	return p.link
}

// Refresh folds a new sighting into the peripheral's attributes.
func (p *BLEPeripheral) Refresh(adv gatt.Advertisement) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rssi = adv.RSSI()
	p.lastSeen = time.Now()

	// Update name if it wasn't available before or changed
	if name := adv.LocalName(); name != "" {
		p.name = name
	} else if p.name == "" {
		if extracted := extractNameFromManufacturerData(adv.ManufacturerData()); extracted != "" {
			p.name = extracted
		}
	}

	if manufData := adv.ManufacturerData(); len(manufData) > 0 {
		p.manufData = manufData
	}

	// Merge advertised services (ensure UUID entries exist)
	needsSort := false
	for _, svc := range adv.Services() {
		normalized := gatt.NormalizeUUID(svc)
		if !p.hasServiceUUID(normalized) {
			p.advertisedServices = append(p.advertisedServices, normalized)
			needsSort = true
		}
	}
	if needsSort {
		sort.Strings(p.advertisedServices)
	}

	for _, svcData := range adv.ServiceData() {
		p.serviceData[gatt.NormalizeUUID(svcData.UUID)] = svcData.Data
	}

	if adv.TxPowerLevel() != 127 {
		txPower := adv.TxPowerLevel()
		p.txPower = &txPower
	}
}

// hasServiceUUID checks whether the advertised list already has the UUID
func (p *BLEPeripheral) hasServiceUUID(uuid string) bool {
	for _, s := range p.advertisedServices {
		if strings.EqualFold(s, uuid) {
			return true
		}
	}
	return false
}

// Helper functions

// extractNameFromManufacturerData attempts to extract a device name from
// manufacturer data. Many vendors embed the name as ASCII text.
func extractNameFromManufacturerData(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// Look for readable ASCII strings longer than 3 characters
	for i := 0; i < len(data)-3; i++ {
		if isReadableASCII(data[i]) {
			var nameBytes []byte
			for j := i; j < len(data) && j < i+32; j++ { // limit to 32 chars
				if isReadableASCII(data[j]) {
					nameBytes = append(nameBytes, data[j])
				} else {
					break
				}
			}

			if len(nameBytes) >= 3 { // minimum meaningful name length
				name := strings.TrimSpace(string(nameBytes))
				if len(name) >= 3 && isValidDeviceName(name) {
					return name
				}
			}
		}
	}

	return ""
}

// isReadableASCII checks if a byte represents a readable ASCII character
func isReadableASCII(b byte) bool {
	return b >= 32 && b <= 126 && unicode.IsPrint(rune(b))
}

// isValidDeviceName checks if a string looks like a valid device name
func isValidDeviceName(name string) bool {
	if len(name) < 3 || len(name) > 32 {
		return false
	}

	// Must contain at least one letter
	hasLetter := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}

	return hasLetter
}

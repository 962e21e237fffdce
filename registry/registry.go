// Package registry keeps the deduplicated, insertion-ordered collection of
// peripherals seen during discovery. Entries are keyed by hardware address,
// refreshed on every sighting and dropped when the next scan cycle starts;
// nothing survives a Clear except what the favorites store remembers.
package registry

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/internal/gatt/goble"
	"github.com/srg/bluart/internal/ringchan"
)

// eventBuffer bounds the device event stream; when a consumer stalls the
// oldest events are discarded, discovery never blocks.
const eventBuffer = 100

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type   DeviceEventType
	Device *Device
}

// FavoriteSource reports whether an address was persisted as a favorite.
// The config package's Favorites store satisfies it.
type FavoriteSource interface {
	Contains(address string) bool
}

// Device is one discovered peripheral enriched with registry state: the
// favorite flag and a free-form metadata map. Identity is the hardware
// address and never changes; the advertised attributes track the most
// recent sighting.
type Device struct {
	gatt.Peripheral

	mu       sync.RWMutex
	favorite bool
	metadata map[string]string
}

func (d *Device) Favorite() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.favorite
}

func (d *Device) SetFavorite(favorite bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.favorite = favorite
}

// Quality labels the latest RSSI reading.
func (d *Device) Quality() Quality {
	return SignalQuality(d.RSSI())
}

// Metadata returns a copy of the device's metadata map.
func (d *Device) Metadata() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]string, len(d.metadata))
	for k, v := range d.metadata {
		out[k] = v
	}
	return out
}

// SetMetadata stores one metadata entry on the device.
func (d *Device) SetMetadata(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metadata[key] = value
}

// Registry tracks discovered devices in discovery order.
type Registry struct {
	mu      sync.RWMutex
	devices *orderedmap.OrderedMap[string, *Device]

	events    *ringchan.RingChannel[DeviceEvent]
	favorites FavoriteSource
	logger    *logrus.Logger
}

// New creates an empty registry. favorites may be nil when no favorite
// store is wired.
func New(favorites FavoriteSource, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}

	return &Registry{
		devices:   orderedmap.New[string, *Device](),
		events:    ringchan.New[DeviceEvent](eventBuffer),
		favorites: favorites,
		logger:    logger,
	}
}

// Upsert folds a sighting into the registry: the first sighting of an
// address creates the entry, every later one refreshes its attributes.
// Emits EventNew or EventUpdated on the event stream either way.
func (r *Registry) Upsert(adv gatt.Advertisement) *Device {
	key := normalizeAddr(adv.Addr())

	r.mu.Lock()
	dev, existing := r.devices.Get(key)
	if !existing {
		dev = &Device{
			Peripheral: goble.NewPeripheralFromAdvertisement(adv, r.logger),
			metadata:   make(map[string]string),
		}
		dev.favorite = r.favorites != nil && r.favorites.Contains(key)
		r.devices.Set(key, dev)
	}
	r.mu.Unlock()

	event := DeviceEvent{Device: dev}
	if existing {
		dev.Refresh(adv)
		event.Type = EventUpdated
	} else {
		r.logger.WithFields(logrus.Fields{
			"device":  dev.Name(),
			"address": dev.Address(),
			"rssi":    dev.RSSI(),
			"quality": dev.Quality(),
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	r.events.Send(event)
	return dev
}

// Get looks a device up by address. Lookup is case-insensitive.
func (r *Registry) Get(address string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices.Get(normalizeAddr(address))
}

// Devices returns a snapshot of tracked devices in discovery order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devs := make([]*Device, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		devs = append(devs, pair.Value)
	}
	return devs
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices.Len()
}

// Clear drops every tracked device. Scan calls it first, so each scan
// cycle starts empty and stale sightings never leak across cycles.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = orderedmap.New[string, *Device]()
}

// Events returns a read-only channel of device events
func (r *Registry) Events() <-chan DeviceEvent {
	return r.events.C()
}

// normalizeAddr canonicalizes a hardware address for map keys and favorite
// lookups.
func normalizeAddr(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

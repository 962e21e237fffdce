//go:build test

package registry_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/internal/gatt/goble"
	"github.com/srg/bluart/internal/testutils"
	"github.com/srg/bluart/registry"
)

const roverAddress = "AA:BB:CC:DD:EE:FF"

func sighting(jsonFmt string, args ...interface{}) gatt.Advertisement {
	return goble.NewBLEAdvertisement(testutils.CreateMockAdvertisementFromJSON(jsonFmt, args...).Build())
}

// fullSighting builds a first-contact advertisement carrying every field
// the peripheral constructor reads.
func fullSighting(name, address string, rssi int) gatt.Advertisement {
	return sighting(`{
		"name": %s,
		"address": %s,
		"rssi": %d,
		"services": ["180F"],
		"manufacturerData": null,
		"serviceData": null,
		"txPower": 127,
		"connectable": true
	}`, testutils.MustJSON(name), testutils.MustJSON(address), rssi)
}

// resighting builds a repeat advertisement carrying only the fields a
// refresh reads.
func resighting(name, address string, rssi int) gatt.Advertisement {
	return sighting(`{
		"name": %s,
		"address": %s,
		"rssi": %d,
		"services": [],
		"manufacturerData": null,
		"serviceData": null,
		"txPower": 127
	}`, testutils.MustJSON(name), testutils.MustJSON(address), rssi)
}

func drainEvents(reg *registry.Registry) []registry.DeviceEvent {
	var events []registry.DeviceEvent
	for {
		select {
		case e := <-reg.Events():
			events = append(events, e)
		default:
			return events
		}
	}
}

func TestRegistry_DeduplicatesSightings(t *testing.T) {
	reg := registry.New(nil, nil)

	first := reg.Upsert(fullSighting("Rover", roverAddress, -60))
	require.NotNil(t, first)
	assert.Equal(t, registry.QualityGood, first.Quality())

	reg.Upsert(resighting("Rover", roverAddress, -55))
	assert.Equal(t, 1, reg.Len(), "repeat sightings MUST NOT create new entries")
	assert.Equal(t, -55, first.RSSI())

	// Case differences in the reported address must not split the entry
	reg.Upsert(resighting("Rover", strings.ToLower(roverAddress), -90))

	assert.Equal(t, 1, reg.Len())
	dev, ok := reg.Get(roverAddress)
	require.True(t, ok)
	assert.Equal(t, -90, dev.RSSI(), "the last sighting MUST win")
	assert.Equal(t, registry.QualityWeak, dev.Quality(), "quality label MUST track the latest RSSI")
	assert.Same(t, first, dev, "all sightings MUST resolve to the same entry")
}

func TestRegistry_KeepsDiscoveryOrder(t *testing.T) {
	reg := registry.New(nil, nil)

	reg.Upsert(fullSighting("Alpha", "AA:00:00:00:00:01", -50))
	reg.Upsert(fullSighting("Beta", "AA:00:00:00:00:02", -60))
	reg.Upsert(fullSighting("Gamma", "AA:00:00:00:00:03", -70))

	// Refreshing an early entry must not move it to the back
	reg.Upsert(resighting("Alpha", "AA:00:00:00:00:01", -40))

	devices := reg.Devices()
	require.Len(t, devices, 3)

	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, names, "devices MUST stay in discovery order")
	assert.Equal(t, -40, devices[0].RSSI())
}

func TestRegistry_EmitsDeviceEvents(t *testing.T) {
	reg := registry.New(nil, nil)

	reg.Upsert(fullSighting("Rover", roverAddress, -60))
	reg.Upsert(resighting("Rover", roverAddress, -55))

	events := drainEvents(reg)
	require.Len(t, events, 2)
	assert.Equal(t, registry.EventNew, events[0].Type, "first sighting MUST emit EventNew")
	assert.Equal(t, registry.EventUpdated, events[1].Type, "repeat sighting MUST emit EventUpdated")
	assert.Same(t, events[0].Device, events[1].Device)
}

func TestRegistry_ClearStartsEmpty(t *testing.T) {
	reg := registry.New(nil, nil)

	reg.Upsert(fullSighting("Alpha", "AA:00:00:00:00:01", -50))
	reg.Upsert(fullSighting("Beta", "AA:00:00:00:00:02", -60))
	require.Equal(t, 2, reg.Len())

	reg.Clear()
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.Devices())

	// A device seen before the clear counts as new again
	drainEvents(reg)
	reg.Upsert(fullSighting("Alpha", "AA:00:00:00:00:01", -50))
	events := drainEvents(reg)
	require.Len(t, events, 1)
	assert.Equal(t, registry.EventNew, events[0].Type)
}

type favoriteSet map[string]bool

func (f favoriteSet) Contains(address string) bool { return f[address] }

func TestRegistry_FavoriteFlagFromStore(t *testing.T) {
	favorites := favoriteSet{"aa:bb:cc:dd:ee:ff": true}
	reg := registry.New(favorites, nil)

	fav := reg.Upsert(fullSighting("Rover", roverAddress, -60))
	other := reg.Upsert(fullSighting("Stranger", "11:22:33:44:55:66", -70))

	assert.True(t, fav.Favorite(), "favorited address MUST come back flagged")
	assert.False(t, other.Favorite())

	other.SetFavorite(true)
	assert.True(t, other.Favorite())
}

func TestRegistry_DeviceMetadata(t *testing.T) {
	reg := registry.New(nil, nil)
	dev := reg.Upsert(fullSighting("Rover", roverAddress, -60))

	dev.SetMetadata("firmware", "1.4.2")
	meta := dev.Metadata()
	assert.Equal(t, "1.4.2", meta["firmware"])

	// The returned map is a copy
	meta["firmware"] = "tampered"
	assert.Equal(t, "1.4.2", dev.Metadata()["firmware"])
}

func TestRegistry_GetUnknownAddress(t *testing.T) {
	reg := registry.New(nil, nil)

	_, ok := reg.Get("00:00:00:00:00:00")
	assert.False(t, ok)
}

// Package gatt defines the transport abstraction the session engine runs
// on: peripherals, links, services, characteristics and the typed failure
// set. Implementations live in subpackages (go-ble under gatt/goble); the
// engine itself never touches a radio API directly.
package gatt

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
)

// NotifyHandler receives notification payloads for a subscribed
// characteristic. The slice is only valid for the duration of the call;
// handlers must copy it to retain the data.
type NotifyHandler func(data []byte)

// Scanner delivers advertisements until the context is done.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Advertisement is one received advertising packet.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	ServiceData() []struct {
		UUID string
		Data []byte
	}
	Services() []string
	TxPowerLevel() int
	Connectable() bool
	RSSI() int
	Addr() string
}

// PeripheralInfo is the read-only identity and advertising view of a
// peripheral. Identity is the hardware address and never changes; all other
// attributes track the most recent sighting.
type PeripheralInfo interface {
	ID() string
	Name() string
	Address() string
	RSSI() int
	TxPower() *int
	IsConnectable() bool
	AdvertisedServices() []string
	ManufacturerData() []byte
	ServiceData() map[string][]byte
	LastSeen() time.Time
}

// Peripheral is a connectable device.
type Peripheral interface {
	PeripheralInfo

	Connect(ctx context.Context, opts *ConnectOptions) error
	Disconnect() error
	IsConnected() bool
	// Refresh folds a new sighting into the peripheral's attributes.
	Refresh(adv Advertisement)
	// Link returns the active link, nil when disconnected.
	Link() Link
}

// Link is an established connection's GATT surface.
type Link interface {
	Services() []Service
	Service(uuid string) (Service, error)
	Characteristic(serviceUUID, charUUID string) (Characteristic, error)

	// NegotiateMTU requests the target transfer unit. Failure is reported
	// but never terminal: the returned value is the unit actually in
	// effect, which callers must use either way.
	NegotiateMTU(target int) (int, error)
	MTU() int

	// Disconnected is closed when the transport reports link loss.
	Disconnected() <-chan struct{}
}

// Service is a discovered GATT service.
type Service interface {
	UUID() string
	KnownName() string
	Primary() bool
	Characteristics() []Characteristic
}

// CharacteristicInfo is characteristic metadata.
type CharacteristicInfo interface {
	UUID() string
	KnownName() string
	Properties() Properties
}

// Characteristic combines metadata with the value operations the engine
// needs. Instances are owned by the link that discovered them and die with
// it; they are never reused across connections.
type Characteristic interface {
	CharacteristicInfo

	Read(timeout time.Duration) ([]byte, error)
	Write(data []byte, withResponse bool, timeout time.Duration) error

	// Subscribe enables notifications (or indications) and installs the
	// handler. Only one handler is active per characteristic.
	Subscribe(indicate bool, h NotifyHandler) error
	Unsubscribe() error
	Notifying() bool

	// Value returns the last value seen for this characteristic, nil if
	// none. The returned slice must not be modified.
	Value() []byte
}

// Property is a single capability bit.
type Property interface {
	Value() int
	KnownName() string
}

// Properties exposes capability bits as nil-or-value accessors: a nil
// return means the capability is absent.
type Properties interface {
	Broadcast() Property
	Read() Property
	Write() Property
	WriteWithoutResponse() Property
	Notify() Property
	Indicate() Property
}

// ConnectOptions configures a connection attempt.
type ConnectOptions struct {
	Address        string
	ConnectTimeout time.Duration `default:"15s"`
	// MTU is the transfer unit target for negotiation, see Link.NegotiateMTU.
	MTU int `default:"517"`
	// WriteTimeout bounds individual characteristic writes.
	WriteTimeout time.Duration `default:"5s"`
}

// DefaultConnectOptions returns options with the default policy applied.
func DefaultConnectOptions() *ConnectOptions {
	opts := &ConnectOptions{}
	defaults.SetDefaults(opts)
	return opts
}

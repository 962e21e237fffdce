package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"

	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/internal/testutils/mocks"
)

// createMockUUID creates a ble.UUID from a string for testing
func createMockUUID(name string) blelib.UUID {
	// Parse as proper UUID - will panic if invalid, which is fine for tests
	return blelib.MustParse(name)
}

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value      []byte `json:"value,omitempty"`

	ReadDelay  time.Duration `json:"-"`
	WriteDelay time.Duration `json:"-"`
}

// CharOption tweaks a single characteristic's mocked behavior.
type CharOption func(*CharacteristicConfig)

// WithReadDelay makes reads of this characteristic take d, for exercising
// read timeouts.
func WithReadDelay(d time.Duration) CharOption {
	return func(c *CharacteristicConfig) {
		c.ReadDelay = d
	}
}

// WithWriteDelay makes writes to this characteristic take d, for exercising
// write timeouts.
func WithWriteDelay(d time.Duration) CharOption {
	return func(c *CharacteristicConfig) {
		c.WriteDelay = d
	}
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralProfileConfig represents the complete GATT profile for mocking
type PeripheralProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds a mocked ble.Device with full service and
// characteristic support. Beyond the static profile it can shape the
// transport behavior a test needs: MTU exchange results, dial failures
// and delays, subscription failures, and link loss. After Build the
// builder stays useful as the test's remote side: Notify injects
// notifications through captured subscription handlers and Writes
// returns what the code under test wrote.
//
// Unless the profile already declares one, Build injects a Generic Access
// service (1800) with a readable Device Name characteristic (2A00), which
// every real peripheral carries.
type PeripheralBuilder struct {
	t                  *testing.T
	profile            PeripheralProfileConfig
	scanAdvertisements []blelib.Advertisement

	gapName       string
	mtu           int
	mtuErr        error
	dialErr       error
	dialDelay     time.Duration
	subscribeErrs map[string]error
	writeErrs     map[string]error
	scanErr       error

	device   *mocks.MockDevice
	client   *mocks.MockClient
	disconn  chan struct{}
	lossOnce *sync.Once

	mu       sync.Mutex
	writes   map[string][][]byte
	handlers map[string]blelib.NotificationHandler
}

// NewPeripheralBuilder creates a new peripheral builder. The MTU exchange
// answers 185 unless overridden, a common value for modern peripherals.
func NewPeripheralBuilder(t *testing.T) *PeripheralBuilder {
	return &PeripheralBuilder{
		t: t,
		profile: PeripheralProfileConfig{
			Services: []ServiceConfig{},
		},
		gapName:       "Mock Peripheral",
		mtu:           185,
		subscribeErrs: make(map[string]error),
		writeErrs:     make(map[string]error),
		writes:        make(map[string][][]byte),
		handlers:      make(map[string]blelib.NotificationHandler),
	}
}

// WithDeviceName sets the value of the injected GAP Device Name
// characteristic.
func (b *PeripheralBuilder) WithDeviceName(name string) *PeripheralBuilder {
	b.gapName = name
	return b
}

// WithService adds a service to the peripheral profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte, opts ...CharOption) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	lastServiceIdx := len(b.profile.Services) - 1
	char := CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	}
	for _, opt := range opts {
		opt(&char)
	}
	b.profile.Services[lastServiceIdx].Characteristics = append(
		b.profile.Services[lastServiceIdx].Characteristics, char)
	return b
}

// FromJSON fills the peripheral profile from JSON. Characteristic values
// may be written as number arrays or base64 strings.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	type charJSON struct {
		UUID       string    `json:"uuid"`
		Properties string    `json:"properties,omitempty"`
		Value      flexBytes `json:"value,omitempty"`
	}
	type serviceJSON struct {
		UUID            string     `json:"uuid"`
		Characteristics []charJSON `json:"characteristics,omitempty"`
	}
	var wire struct {
		Services []serviceJSON `json:"services"`
	}

	if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	config := PeripheralProfileConfig{Services: make([]ServiceConfig, 0, len(wire.Services))}
	for _, svc := range wire.Services {
		sc := ServiceConfig{UUID: svc.UUID}
		for _, ch := range svc.Characteristics {
			sc.Characteristics = append(sc.Characteristics, CharacteristicConfig{
				UUID:       ch.UUID,
				Properties: ch.Properties,
				Value:      []byte(ch.Value),
			})
		}
		config.Services = append(config.Services, sc)
	}

	b.profile = config
	return b
}

// WithMTU sets the value the mocked MTU exchange reports.
func (b *PeripheralBuilder) WithMTU(mtu int) *PeripheralBuilder {
	b.mtu = mtu
	return b
}

// WithMTUError makes the mocked MTU exchange fail.
func (b *PeripheralBuilder) WithMTUError(err error) *PeripheralBuilder {
	b.mtuErr = err
	return b
}

// WithDialError makes Dial fail immediately with err.
func (b *PeripheralBuilder) WithDialError(err error) *PeripheralBuilder {
	b.dialErr = err
	return b
}

// WithDialDelay makes Dial block for d before succeeding. If the dial
// context expires first, Dial returns its error instead, which is how
// connect timeouts are exercised.
func (b *PeripheralBuilder) WithDialDelay(d time.Duration) *PeripheralBuilder {
	b.dialDelay = d
	return b
}

// WithSubscribeError makes Subscribe fail for the given characteristic.
func (b *PeripheralBuilder) WithSubscribeError(charUUID string, err error) *PeripheralBuilder {
	b.subscribeErrs[gatt.NormalizeUUID(charUUID)] = err
	return b
}

// WithWriteError makes WriteCharacteristic fail for the given characteristic.
func (b *PeripheralBuilder) WithWriteError(charUUID string, err error) *PeripheralBuilder {
	b.writeErrs[gatt.NormalizeUUID(charUUID)] = err
	return b
}

// WithScanError makes Scan return err after replaying the configured
// advertisements. Real adapters end a duration-bounded scan with
// context.DeadlineExceeded, so pass that to model a normal timeout.
func (b *PeripheralBuilder) WithScanError(err error) *PeripheralBuilder {
	b.scanErr = err
	return b
}

// WithScanAdvertisements returns an AdvertisementArrayBuilder that will return this PeripheralBuilder on Build()
func (b *PeripheralBuilder) WithScanAdvertisements() *AdvertisementArrayBuilder[*PeripheralBuilder] {
	arrayBuilder := NewAdvertisementArrayBuilder[*PeripheralBuilder]()
	arrayBuilder.parent = b
	arrayBuilder.buildFunc = func(parent *PeripheralBuilder, ads []blelib.Advertisement) *PeripheralBuilder {
		parent.scanAdvertisements = append(parent.scanAdvertisements, ads...)
		return parent
	}
	return arrayBuilder
}

// parseCharacteristicProperties converts a comma separated property list
// to ble.Property flags. An empty string gets the read/write/notify default.
func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify // default
	}

	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "broadcast":
			property |= blelib.CharBroadcast
		case "read":
			property |= blelib.CharRead
		case "writeWithoutResponse":
			property |= blelib.CharWriteNR
		case "write":
			property |= blelib.CharWrite
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		default:
			panic(fmt.Sprintf("parseCharacteristicProperties: unknown property %q", p))
		}
	}
	return property
}

// Build creates a mocked ble.Device with the configured profile and
// behavior. The disconnect channel is closed via t.Cleanup so link
// monitors never outlive the test.
func (b *PeripheralBuilder) Build() blelib.Device {
	b.device = &mocks.MockDevice{}
	b.client = &mocks.MockClient{}
	b.disconn = make(chan struct{})
	b.lossOnce = &sync.Once{}

	// Create the BLE profile with services and characteristics
	type boundChar struct {
		char   *blelib.Characteristic
		config CharacteristicConfig
	}
	var bound []boundChar

	var bleServices []*blelib.Service
	for _, svcConfig := range b.effectiveServices() {
		bleService := &blelib.Service{
			UUID: createMockUUID(svcConfig.UUID),
		}

		var bleCharacteristics []*blelib.Characteristic
		for _, charConfig := range svcConfig.Characteristics {
			bleChar := &blelib.Characteristic{
				UUID:     createMockUUID(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    charConfig.Value,
			}
			bleCharacteristics = append(bleCharacteristics, bleChar)
			bound = append(bound, boundChar{char: bleChar, config: charConfig})
		}
		bleService.Characteristics = bleCharacteristics
		bleServices = append(bleServices, bleService)
	}

	mockProfile := &blelib.Profile{
		Services: bleServices,
	}

	switch {
	case b.dialErr != nil:
		b.device.On("Dial", mock.Anything, mock.Anything).Return(nil, b.dialErr)
	case b.dialDelay > 0:
		client := b.client
		delay := b.dialDelay
		b.device.On("Dial", mock.Anything, mock.Anything).Return(
			func(ctx context.Context, _ blelib.Addr) (blelib.Client, error) {
				select {
				case <-time.After(delay):
					return client, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			})
	default:
		b.device.On("Dial", mock.Anything, mock.Anything).Return(b.client, nil)
	}

	b.client.On("DiscoverProfile", true).Return(mockProfile, nil)
	b.client.On("CancelConnection").Return(nil)
	b.client.On("Disconnected").Return(b.disconn)

	if b.mtuErr != nil {
		b.client.On("ExchangeMTU", mock.Anything).Return(0, b.mtuErr)
	} else {
		b.client.On("ExchangeMTU", mock.Anything).Return(b.mtu, nil)
	}

	for _, bc := range bound {
		b.setupCharacteristic(bc.char, bc.config)
	}

	// Simulate discovering the configured advertisements
	b.device.On("Scan", mock.Anything, mock.Anything, mock.MatchedBy(func(handler blelib.AdvHandler) bool {
		for _, adv := range b.scanAdvertisements {
			handler(adv)
		}
		return true
	})).Return(b.scanErr)

	b.t.Cleanup(b.SimulateLinkLoss)

	return b.device
}

// effectiveServices returns the configured services with the GAP service
// injected in front unless the profile already declares one.
func (b *PeripheralBuilder) effectiveServices() []ServiceConfig {
	for _, svc := range b.profile.Services {
		if gatt.NormalizeUUID(svc.UUID) == "1800" {
			return b.profile.Services
		}
	}

	gap := ServiceConfig{
		UUID: "1800",
		Characteristics: []CharacteristicConfig{
			{UUID: "2A00", Properties: "read", Value: []byte(b.gapName)},
		},
	}
	return append([]ServiceConfig{gap}, b.profile.Services...)
}

func (b *PeripheralBuilder) setupCharacteristic(char *blelib.Characteristic, config CharacteristicConfig) {
	key := gatt.NormalizeUUID(char.UUID.String())

	if err, ok := b.subscribeErrs[key]; ok {
		b.client.On("Subscribe", char, mock.Anything, mock.Anything).Return(err)
	} else {
		b.client.On("Subscribe", char, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				h := args.Get(2).(blelib.NotificationHandler)
				b.mu.Lock()
				b.handlers[key] = h
				b.mu.Unlock()
			}).Return(nil)
	}
	b.client.On("Unsubscribe", char, false).Return(nil)
	b.client.On("Unsubscribe", char, true).Return(nil)

	if char.Property&blelib.CharRead != 0 {
		call := b.client.On("ReadCharacteristic", char)
		if config.ReadDelay > 0 {
			call.Run(func(mock.Arguments) { time.Sleep(config.ReadDelay) })
		}
		call.Return(char.Value, nil)
	} else {
		b.client.On("ReadCharacteristic", char).Return(nil, fmt.Errorf("characteristic does not support read"))
	}

	if char.Property&(blelib.CharWrite|blelib.CharWriteNR) != 0 {
		writeErr := b.writeErrs[key]
		b.client.On("WriteCharacteristic", char, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				if config.WriteDelay > 0 {
					time.Sleep(config.WriteDelay)
				}
				data := args.Get(1).([]byte)
				cp := make([]byte, len(data))
				copy(cp, data)
				b.mu.Lock()
				b.writes[key] = append(b.writes[key], cp)
				b.mu.Unlock()
			}).Return(writeErr)
	} else {
		b.client.On("WriteCharacteristic", char, mock.Anything, mock.Anything).
			Return(fmt.Errorf("characteristic does not support write"))
	}
}

// Notify delivers data through the subscription handler captured for the
// given characteristic, as if the peripheral had sent a notification.
// Fails the test if nothing has subscribed to it yet.
func (b *PeripheralBuilder) Notify(charUUID string, data []byte) {
	b.mu.Lock()
	h := b.handlers[gatt.NormalizeUUID(charUUID)]
	b.mu.Unlock()
	if h == nil {
		b.t.Fatalf("Notify: no subscription captured for characteristic %s", charUUID)
		return
	}
	h(data)
}

// Writes returns a snapshot of the payloads written to the given
// characteristic, in write order.
func (b *PeripheralBuilder) Writes(charUUID string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	recorded := b.writes[gatt.NormalizeUUID(charUUID)]
	out := make([][]byte, len(recorded))
	copy(out, recorded)
	return out
}

// SimulateLinkLoss closes the disconnect channel the transport watches.
// Safe to call more than once.
func (b *PeripheralBuilder) SimulateLinkLoss() {
	if b.lossOnce == nil {
		return
	}
	b.lossOnce.Do(func() { close(b.disconn) })
}

// Client exposes the mocked client for tests that need extra expectations.
func (b *PeripheralBuilder) Client() *mocks.MockClient {
	return b.client
}

// GetServices returns the configured services for use in creating session options
func (b *PeripheralBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}

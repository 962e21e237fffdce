//go:build test

package goble_test

import (
	"context"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/internal/gatt/goble"
	"github.com/srg/bluart/internal/testutils"
)

const (
	testAddress = "AA:BB:CC:DD:EE:FF"

	uartServiceUUID = "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"
	uartRxUUID      = "6E400002-B5A3-F393-E0A9-E50E24DCCA9E"
	uartTxUUID      = "6E400003-B5A3-F393-E0A9-E50E24DCCA9E"
)

// PeripheralTestSuite connects to a mocked UART peripheral before each test.
// The profile carries the Nordic UART pair, a battery service and a vendor
// service with slow and write-degraded characteristics for the error paths.
type PeripheralTestSuite struct {
	testutils.MockBLEPeripheralSuite

	peripheral *goble.BLEPeripheral
	link       gatt.Link
}

// ensureConnected connects a fresh peripheral if the previous subtest left
// the link down.
func (suite *PeripheralTestSuite) ensureConnected() {
	if suite.peripheral != nil && suite.peripheral.IsConnected() {
		return
	}

	suite.peripheral = goble.NewPeripheral(testAddress, suite.Logger)
	err := suite.peripheral.Connect(context.Background(), &gatt.ConnectOptions{
		ConnectTimeout: 5 * time.Second,
		MTU:            gatt.MaxMTU,
		WriteTimeout:   5 * time.Second,
	})

	if err != nil {
		if dErr := suite.peripheral.Disconnect(); dErr != nil {
			suite.Logger.WithField("error", dErr).Error("Failed to disconnect peripheral after connect failure")
		}
		suite.peripheral = nil
	}

	suite.Require().NoError(err, "MUST connect successfully")
	suite.link = suite.peripheral.Link()
	suite.Require().NotNil(suite.link, "link MUST not be nil")
}

func (suite *PeripheralTestSuite) SetupTest() {
	suite.WithPeripheral().
		WithService("180F").
		WithCharacteristic("2A19", "read,notify", []byte{85}).
		WithCharacteristic("2A1A", "read", []byte{}).
		WithService(uartServiceUUID).
		WithCharacteristic(uartRxUUID, "write,writeWithoutResponse", []byte{}).
		WithCharacteristic(uartTxUUID, "notify", []byte{}).
		WithService("AF30").                                                             // vendor service for behavior shaping
		WithCharacteristic("AF31", "read", []byte{42}, testutils.WithReadDelay(1*time.Second)).
		WithCharacteristic("AF32", "write", []byte{}, testutils.WithWriteDelay(1*time.Second)).
		WithCharacteristic("AF33", "writeWithoutResponse", []byte{}).
		WithCharacteristic("AF34", "read,write", []byte{0x00})

	// Call parent to apply the configuration and set up the device factory
	suite.MockBLEPeripheralSuite.SetupTest()

	suite.ensureConnected()
}

func (suite *PeripheralTestSuite) SetupSubTest() {
	suite.ensureConnected()
}

func (suite *PeripheralTestSuite) TearDownTest() {
	if suite.peripheral != nil {
		if err := suite.peripheral.Disconnect(); err != nil {
			suite.Logger.WithField("error", err).Error("Failed to disconnect peripheral")
		}
	}

	suite.peripheral = nil
	suite.link = nil
	suite.MockBLEPeripheralSuite.TearDownTest()
}

// installPeripheral swaps the device factory for one backed by the given
// builder. Used by tests that need transport behavior the default profile
// does not model (dial failures, MTU shaping).
func installPeripheral(b *testutils.PeripheralBuilder) {
	dev := b.Build()
	goble.DeviceFactory = func() (blelib.Device, error) {
		return dev, nil
	}
}

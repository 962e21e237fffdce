//go:build test

package testutils

import (
	"sync"
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bluart/internal/gatt/goble"
)

// MockBLEPeripheralSuite provides a reusable test suite with mock BLE peripheral support.
// It follows testify/suite best practices and provides standardized BLE mocking capabilities.
//
// The suite automatically handles device factory lifecycle management and provides
// a fluent API for configuring mock BLE peripherals with services, characteristics,
// and advertisements.
//
// Basic usage (automatic setup with default UART peripheral):
//
//	type SimpleSuite struct {
//	    testutils.MockBLEPeripheralSuite
//	}
//
//	func TestSimpleSuite(t *testing.T) {
//	    suite.Run(t, new(SimpleSuite))
//	}
//
// Custom peripheral profile usage:
//
//	type InspectSuite struct {
//	    testutils.MockBLEPeripheralSuite
//	}
//
//	func (s *InspectSuite) SetupTest() {
//	    // Configure custom peripheral with Heart Rate service first
//	    s.WithPeripheral().
//	        WithService("180D"). // Heart Rate Service
//	        WithCharacteristic("2A37", "read,notify", []byte{80}) // 80 BPM
//
//	    s.MockBLEPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
//
// Scanner with advertisement usage:
//
//	type ScannerSuite struct {
//	    testutils.MockBLEPeripheralSuite
//	}
//
//	func (s *ScannerSuite) SetupTest() {
//	    // Configure scan advertisements first
//	    adv1 := testutils.NewAdvertisementBuilder().
//	        WithAddress("AA:BB:CC:DD:EE:FF").WithName("Rover1").Build()
//	    adv2 := testutils.NewAdvertisementBuilder().
//	        WithAddress("11:22:33:44:55:66").WithName("Rover2").Build()
//
//	    s.WithAdvertisements().
//	        WithAdvertisements(adv1, adv2).
//	        Build()
//
//	    s.MockBLEPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	// Core test utilities
	Helper *TestHelper    // Test helper with logging and assertions
	Logger *logrus.Logger // Structured logger for test output

	// BLE device factory management
	OriginalDeviceFactory func() (blelib.Device, error) // Backup of the original factory
	TestTimeout           time.Duration                 // Default timeout for BLE operations

	// Mock peripheral configuration
	PeripheralBuilder *PeripheralBuilder // Builder for configuring mock peripherals

	// Mock advertisements configuration
	AdvertisementsBuilder *AdvertisementArrayBuilder[[]blelib.Advertisement] // Builder for configuring mocked Advertisements for Scan
}

// SetupSuite initializes the test suite following testify/suite best practices.
// Called once before all tests in the suite.
func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 30 * time.Second

	// Save the original BLE device factory for restoration
	s.OriginalDeviceFactory = goble.DeviceFactory

	s.T().Cleanup(func() {
		if s.OriginalDeviceFactory != nil {
			goble.DeviceFactory = s.OriginalDeviceFactory
			s.Logger.Debug("Device factory restored via t.Cleanup")
		}
	})

	s.Logger.Debug("Suite setup completed")
}

// SetupTest configures the mock device factory before each test.
// The factory builds the mock once per test and hands out the same
// device on every call, so subscription handlers captured during a
// connect stay valid when the scanner asks for a device too.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = createDefaultPeripheralBuilder(s.T())
	}

	if s.AdvertisementsBuilder != nil {
		s.PeripheralBuilder.
			WithScanAdvertisements().
			WithAdvertisements(s.AdvertisementsBuilder.Build()...).
			Build()
	}

	s.OriginalDeviceFactory = goble.DeviceFactory

	var (
		buildOnce sync.Once
		dev       blelib.Device
	)
	goble.DeviceFactory = func() (blelib.Device, error) {
		buildOnce.Do(func() {
			dev = s.PeripheralBuilder.Build()
		})
		return dev, nil
	}

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest resets the peripheral builder after each test.
// Note: Disconnect channel cleanup is handled automatically via t.Cleanup() registered in Build().
func (s *MockBLEPeripheralSuite) TearDownTest() {
	// Restore the device factory to prevent nil pointer panics in subsequent tests
	if s.OriginalDeviceFactory != nil {
		goble.DeviceFactory = s.OriginalDeviceFactory
	}

	s.PeripheralBuilder = nil
	s.AdvertisementsBuilder = nil
}

// TearDownSuite performs final cleanup after all tests complete.
// Device factory restoration is handled automatically via t.Cleanup().
func (s *MockBLEPeripheralSuite) TearDownSuite() {
	s.Logger.Debug("Suite teardown completed")
}

// WithPeripheral returns the peripheral builder for fluent configuration.
// Use this method to configure custom peripheral profiles in the test setup.
func (s *MockBLEPeripheralSuite) WithPeripheral() *PeripheralBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralBuilder(s.T())
	}

	s.Logger.Debug("Peripheral configuration started")
	return s.PeripheralBuilder
}

// WithAdvertisements returns the advertisement array builder for configuring scan advertisements.
// Use this method to set up scan advertisements in the test setup.
func (s *MockBLEPeripheralSuite) WithAdvertisements() *AdvertisementArrayBuilder[[]blelib.Advertisement] {
	if s.AdvertisementsBuilder == nil {
		s.AdvertisementsBuilder = NewAdvertisementArrayBuilder[[]blelib.Advertisement]()
	}

	s.Logger.Debug("Advertisements configuration started")
	return s.AdvertisementsBuilder
}

// createDefaultPeripheralBuilder creates the default mock peripheral: a
// Nordic UART Service with write and notify channels, plus a Battery
// Service so read paths have something to read.
func createDefaultPeripheralBuilder(t *testing.T) *PeripheralBuilder {
	return NewPeripheralBuilder(t).
		FromJSON(`
		{
			"services": [
				{
					"uuid": "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
					"characteristics": [
						{ "uuid": "6e400002-b5a3-f393-e0a9-e50e24dcca9e", "properties": "write,writeWithoutResponse" },
						{ "uuid": "6e400003-b5a3-f393-e0a9-e50e24dcca9e", "properties": "notify" }
					]
				},
				{
					"uuid": "180F",
					"characteristics": [
						{ "uuid": "2A19", "properties": "read,notify", "value": [50] }
					]
				}
			]
		}`)
}

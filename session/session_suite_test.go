//go:build test

package session_test

import (
	"context"
	"time"

	blelib "github.com/go-ble/ble"

	"github.com/srg/bluart/internal/gatt/goble"
	"github.com/srg/bluart/internal/testutils"
	"github.com/srg/bluart/session"
	"github.com/srg/bluart/uart"
)

const (
	testAddress = "AA:BB:CC:DD:EE:FF"

	nusServiceUUID = "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"
	nusRxUUID      = "6E400002-B5A3-F393-E0A9-E50E24DCCA9E"
	nusTxUUID      = "6E400003-B5A3-F393-E0A9-E50E24DCCA9E"
)

// SessionTestSuite drives sessions against mocked peripherals. The default
// profile is the Nordic UART pair; tests that need another profile or
// shaped transport behavior install their own builder.
type SessionTestSuite struct {
	testutils.MockBLEPeripheralSuite
}

// installPeripheral swaps the device factory for one backed by the given
// builder and returns the builder so the test can observe writes and
// inject notifications.
func (suite *SessionTestSuite) installPeripheral(b *testutils.PeripheralBuilder) *testutils.PeripheralBuilder {
	dev := b.Build()
	goble.DeviceFactory = func() (blelib.Device, error) {
		return dev, nil
	}
	return b
}

// newSession creates a session that is closed when the test ends.
func (suite *SessionTestSuite) newSession(opts *session.Options) *session.Session {
	s := session.New(opts, suite.Logger)
	suite.T().Cleanup(s.Close)
	return s
}

// connect brings the session to Ready or fails the test.
func (suite *SessionTestSuite) connect(s *session.Session) {
	suite.Require().NoError(s.Connect(context.Background(), testAddress), "connect MUST succeed")
	suite.Require().True(s.Ready(), "session MUST be ready after connect")
}

// awaitState consumes the state stream until a transition into want
// arrives and returns it.
func (suite *SessionTestSuite) awaitState(states <-chan session.StateChange, want session.State) session.StateChange {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case change, ok := <-states:
			suite.Require().True(ok, "state stream MUST stay open while waiting for %v", want)
			if change.To == want {
				return change
			}
		case <-deadline:
			suite.Require().FailNowf("timed out", "no transition into %v arrived", want)
			return session.StateChange{}
		}
	}
}

// nextExchange returns the next event on the response stream.
func (suite *SessionTestSuite) nextExchange(responses <-chan uart.Exchange) uart.Exchange {
	select {
	case ex, ok := <-responses:
		suite.Require().True(ok, "exchange stream MUST stay open")
		return ex
	case <-time.After(2 * time.Second):
		suite.Require().FailNow("timed out waiting for an exchange")
		return uart.Exchange{}
	}
}

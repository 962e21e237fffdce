//go:build test

package session_test

import (
	"context"
	"fmt"
	"time"

	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/internal/testutils"
	"github.com/srg/bluart/session"
	"github.com/srg/bluart/uart"
)

func (suite *SessionTestSuite) TestNoUsableChannel() {
	// GOAL: Verify a peripheral with nothing writable or notifiable fails capability negotiation
	//
	// TEST SCENARIO: Read-only Device Information profile → Connect fails with the
	// no-usable-channel kind → session back in disconnected, no command channel created

	suite.installPeripheral(testutils.NewPeripheralBuilder(suite.T()).
		WithService("180A").
		WithCharacteristic("2A29", "read", []byte("bluart")))

	s := suite.newSession(nil)
	states := s.States()

	err := s.Connect(context.Background(), testAddress)

	suite.Assert().ErrorIs(err, gatt.ErrNoUsableChannel, "MUST fail when no channel can carry data")
	suite.Assert().Equal(session.StateDisconnected, s.State(), "MUST land back in disconnected")

	change := suite.awaitState(states, session.StateDisconnected)
	suite.Assert().ErrorIs(change.Reason, gatt.ErrNoUsableChannel, "state stream MUST carry the failure")
	suite.Assert().Nil(s.History(), "no command channel MUST have been created")
}

func (suite *SessionTestSuite) TestDegradedSendOnly() {
	// GOAL: Verify a failed subscription degrades the session to send-only instead of failing it
	//
	// TEST SCENARIO: CCCD write rejected → session reaches Ready without the notify channel
	// → commands are written but never resolve

	b := suite.installPeripheral(testutils.NewPeripheralBuilder(suite.T()).
		WithService(nusServiceUUID).
		WithCharacteristic(nusRxUUID, "write,writeWithoutResponse", []byte{}).
		WithCharacteristic(nusTxUUID, "notify", []byte{}).
		WithSubscribeError(nusTxUUID, fmt.Errorf("cccd write rejected")))

	s := suite.newSession(nil)
	suite.connect(s)

	send, receive := s.Directions()
	suite.Assert().True(send, "write channel MUST survive")
	suite.Assert().False(receive, "notify channel MUST be dropped after a failed subscription")

	ch := s.Channels()
	suite.Require().NotNil(ch, "channels MUST be available")
	suite.Assert().ErrorIs(ch.SubscribeErr, gatt.ErrSubscriptionFailed, "the degradation MUST be recorded with its kind")

	seq, err := s.Send("status")
	suite.Require().NoError(err, "sending MUST still work")
	suite.Assert().Equal(uint64(1), seq)

	suite.Require().Eventually(func() bool { return len(b.Writes(nusRxUUID)) == 1 },
		time.Second, 5*time.Millisecond, "the command MUST reach the peripheral")
	suite.Assert().Equal("status", string(b.Writes(nusRxUUID)[0]), "the frame MUST carry the exact text")

	time.Sleep(50 * time.Millisecond)
	records := s.History().Records()
	suite.Require().Len(records, 1)
	suite.Assert().False(records[0].Resolved(), "without a notify channel the command MUST never resolve")
	suite.Assert().NoError(records[0].Err, "an unresolved command is not a failed one")
}

func (suite *SessionTestSuite) TestDegradedReceiveOnly() {
	// GOAL: Verify a notify-only peripheral yields a listening session
	//
	// TEST SCENARIO: Profile with only the UART TX characteristic → Ready with receive
	// only → sends rejected → notifications surface as unsolicited

	b := suite.installPeripheral(testutils.NewPeripheralBuilder(suite.T()).
		WithService(nusServiceUUID).
		WithCharacteristic(nusTxUUID, "notify", []byte{}))

	s := suite.newSession(nil)
	suite.connect(s)

	send, receive := s.Directions()
	suite.Assert().False(send, "MUST have no write channel")
	suite.Assert().True(receive, "notify channel MUST be usable")

	_, err := s.Send("ping")
	suite.Assert().ErrorIs(err, uart.ErrNoWriteChannel, "send MUST be rejected without a write channel")

	responses := s.Responses()
	b.Notify(nusTxUUID, []byte("telemetry"))

	ex := suite.nextExchange(responses)
	suite.Assert().Equal(uart.ExchangeUnsolicited, ex.Type, "inbound data MUST surface as unsolicited")
	suite.Assert().Equal("telemetry", ex.Text)
}

func (suite *SessionTestSuite) TestSingleCharacteristicService() {
	// GOAL: Verify a single-pipe serial service carries both directions over one characteristic
	//
	// TEST SCENARIO: HM-10 profile, one characteristic with write-without-response and notify
	// → both channels resolve to it → command roundtrip works

	b := suite.installPeripheral(testutils.NewPeripheralBuilder(suite.T()).
		WithService("FFE0").
		WithCharacteristic("FFE1", "writeWithoutResponse,notify", []byte{}))

	s := suite.newSession(nil)
	suite.connect(s)

	ch := s.Channels()
	suite.Require().NotNil(ch, "channels MUST be available")
	suite.Assert().Equal(ch.Write, ch.Notify, "both directions MUST share the single characteristic")
	suite.Assert().True(ch.WriteNoRsp, "MUST use unacknowledged writes")

	responses := s.Responses()
	_, err := s.Send("AT")
	suite.Require().NoError(err, "send MUST succeed")

	suite.Require().Eventually(func() bool { return len(b.Writes("FFE1")) == 1 },
		time.Second, 5*time.Millisecond, "the command MUST reach the characteristic")

	b.Notify("FFE1", []byte("OK"))

	suite.Assert().Equal(uart.ExchangeSent, suite.nextExchange(responses).Type, "submission MUST be reported first")
	resolved := suite.nextExchange(responses)
	suite.Assert().Equal(uart.ExchangeResolved, resolved.Type, "the notification MUST resolve the command")
	suite.Assert().Equal("OK", resolved.Record.Response, "the response MUST pair with the command")
}

func (suite *SessionTestSuite) TestKnownServiceBeatsCapabilityMatch() {
	// GOAL: Verify characteristics of known serial services win over generic capability matches
	//
	// TEST SCENARIO: A generic write+notify characteristic sorts before the UART service
	// → resolution still picks the UART pair

	suite.installPeripheral(testutils.NewPeripheralBuilder(suite.T()).
		WithService("1000").
		WithCharacteristic("1001", "write,notify", []byte{}).
		WithService(nusServiceUUID).
		WithCharacteristic(nusRxUUID, "write,writeWithoutResponse", []byte{}).
		WithCharacteristic(nusTxUUID, "notify", []byte{}))

	s := suite.newSession(nil)
	suite.connect(s)

	ch := s.Channels()
	suite.Require().NotNil(ch, "channels MUST be available")
	suite.Assert().Equal(gatt.NormalizeUUID(nusRxUUID), gatt.NormalizeUUID(ch.Write.UUID()),
		"a known serial characteristic MUST beat a generic writable one")
	suite.Assert().Equal(gatt.NormalizeUUID(nusTxUUID), gatt.NormalizeUUID(ch.Notify.UUID()),
		"a known serial characteristic MUST beat a generic notifiable one")
}

func (suite *SessionTestSuite) TestUnknownServiceFallsBackToCapabilities() {
	// GOAL: Verify resolution falls back to plain capabilities when no known service is present
	//
	// TEST SCENARIO: Vendor service with separate write and notify characteristics → both
	// resolved by capability → acknowledged writes → roundtrip works

	b := suite.installPeripheral(testutils.NewPeripheralBuilder(suite.T()).
		WithService("AF00").
		WithCharacteristic("AF01", "write", []byte{}).
		WithCharacteristic("AF02", "notify", []byte{}))

	s := suite.newSession(nil)
	suite.connect(s)

	ch := s.Channels()
	suite.Require().NotNil(ch, "channels MUST be available")
	suite.Assert().Equal(gatt.NormalizeUUID("AF01"), gatt.NormalizeUUID(ch.Write.UUID()),
		"MUST fall back to the first writable characteristic")
	suite.Assert().Equal(gatt.NormalizeUUID("AF02"), gatt.NormalizeUUID(ch.Notify.UUID()),
		"MUST fall back to the first notifiable characteristic")
	suite.Assert().False(ch.WriteNoRsp, "plain write MUST use acknowledged mode")

	responses := s.Responses()
	_, err := s.Send("hello")
	suite.Require().NoError(err, "send MUST succeed")

	suite.Require().Eventually(func() bool { return len(b.Writes("AF01")) == 1 },
		time.Second, 5*time.Millisecond, "the command MUST reach the characteristic")

	b.Notify("AF02", []byte("world"))

	suite.Assert().Equal(uart.ExchangeSent, suite.nextExchange(responses).Type, "submission MUST be reported first")
	resolved := suite.nextExchange(responses)
	suite.Assert().Equal(uart.ExchangeResolved, resolved.Type, "the notification MUST resolve the command")
	suite.Assert().Equal("world", resolved.Record.Response)
}

//go:build test

package session_test

import (
	"time"

	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/session"
	"github.com/srg/bluart/uart"
)

func (suite *SessionTestSuite) TestSendAndReceive() {
	// GOAL: Verify the full command roundtrip over an established session
	//
	// TEST SCENARIO: Send over the UART pair → frame reaches the write characteristic →
	// notification resolves the record → Sent then Resolved on the stream → history pairs them

	s := suite.newSession(nil)
	suite.connect(s)

	responses := s.Responses()
	suite.Require().NotNil(responses, "a ready session MUST expose its response stream")

	seq, err := s.Send("ping")
	suite.Require().NoError(err, "send MUST succeed on a ready session")
	suite.Assert().Equal(uint64(1), seq, "sequence numbers MUST start at 1")

	suite.Require().Eventually(func() bool { return len(suite.PeripheralBuilder.Writes(nusRxUUID)) == 1 },
		time.Second, 5*time.Millisecond, "the frame MUST reach the write characteristic")
	suite.Assert().Equal("ping", string(suite.PeripheralBuilder.Writes(nusRxUUID)[0]),
		"the frame MUST carry the exact text")

	sent := suite.nextExchange(responses)
	suite.Assert().Equal(uart.ExchangeSent, sent.Type, "the first event MUST be the submission")
	suite.Assert().Equal("ping", sent.Text)

	suite.PeripheralBuilder.Notify(nusTxUUID, []byte("pong"))

	resolved := suite.nextExchange(responses)
	suite.Assert().Equal(uart.ExchangeResolved, resolved.Type, "the notification MUST resolve the oldest pending command")
	suite.Assert().Equal(uint64(1), resolved.Record.Seq)
	suite.Assert().Equal("pong", resolved.Record.Response)
	suite.Assert().Equal("pong", resolved.Text)

	records := s.History().Records()
	suite.Require().Len(records, 1)
	suite.Assert().True(records[0].Resolved(), "the record MUST be resolved")
	suite.Assert().Equal("ping", records[0].Command)
	suite.Assert().Equal("pong", records[0].Response)
}

func (suite *SessionTestSuite) TestDisconnectFailsPending() {
	// GOAL: Verify disconnect fails every pending command and ends the response stream
	//
	// TEST SCENARIO: Two commands in flight → Disconnect → both fail with the channel-closed
	// error, oldest first → stream closes → history survives for inspection

	s := suite.newSession(nil)
	suite.connect(s)

	responses := s.Responses()
	states := s.States()

	_, err := s.Send("first")
	suite.Require().NoError(err)
	_, err = s.Send("second")
	suite.Require().NoError(err)

	// Let both frames drain so teardown exercises pending commands, not queued ones.
	suite.Require().Eventually(func() bool { return len(suite.PeripheralBuilder.Writes(nusRxUUID)) == 2 },
		time.Second, 5*time.Millisecond, "both frames MUST be written")

	s.Disconnect()

	suite.Assert().Equal(session.StateDisconnected, s.State(), "MUST end disconnected")
	suite.awaitState(states, session.StateDisconnecting)
	suite.awaitState(states, session.StateDisconnected)

	suite.Assert().Equal(uart.ExchangeSent, suite.nextExchange(responses).Type)
	suite.Assert().Equal(uart.ExchangeSent, suite.nextExchange(responses).Type)

	failed := suite.nextExchange(responses)
	suite.Assert().Equal(uart.ExchangeFailed, failed.Type, "pending commands MUST fail on disconnect")
	suite.Assert().Equal(uint64(1), failed.Record.Seq, "pending commands MUST fail oldest first")
	suite.Assert().ErrorIs(failed.Record.Err, gatt.ErrChannelClosed)

	failed = suite.nextExchange(responses)
	suite.Assert().Equal(uart.ExchangeFailed, failed.Type)
	suite.Assert().Equal(uint64(2), failed.Record.Seq)
	suite.Assert().ErrorIs(failed.Record.Err, gatt.ErrChannelClosed)

	select {
	case _, ok := <-responses:
		suite.Assert().False(ok, "response stream MUST close on disconnect")
	case <-time.After(time.Second):
		suite.Require().FailNow("response stream did not close")
	}

	records := s.History().Records()
	suite.Require().Len(records, 2, "history MUST survive the disconnect")
	for _, rec := range records {
		suite.Assert().ErrorIs(rec.Err, gatt.ErrChannelClosed, "history MUST record the channel-closed failure")
	}

	_, err = s.Send("late")
	suite.Assert().ErrorIs(err, gatt.ErrNotConnected, "send after disconnect MUST be rejected")
}

func (suite *SessionTestSuite) TestLinkLossTearsDown() {
	// GOAL: Verify out-of-band link loss tears the session down and fails pending commands
	//
	// TEST SCENARIO: Command in flight → link drops → session lands in Disconnected with the
	// transport reason → record fails with channel-closed → further sends rejected

	s := suite.newSession(nil)
	suite.connect(s)

	responses := s.Responses()
	states := s.States()

	_, err := s.Send("ping")
	suite.Require().NoError(err)
	suite.Require().Eventually(func() bool { return len(suite.PeripheralBuilder.Writes(nusRxUUID)) == 1 },
		time.Second, 5*time.Millisecond, "the frame MUST be written before the loss")

	suite.PeripheralBuilder.SimulateLinkLoss()

	suite.Require().Eventually(func() bool { return s.State() == session.StateDisconnected },
		2*time.Second, 10*time.Millisecond, "loss MUST drive the session to disconnected")

	change := suite.awaitState(states, session.StateDisconnected)
	suite.Assert().Equal(session.StateReady, change.From, "loss MUST tear down from ready")
	suite.Assert().ErrorIs(change.Reason, gatt.ErrNotConnected, "the reason MUST be the transport loss")

	suite.Assert().Equal(uart.ExchangeSent, suite.nextExchange(responses).Type)
	failed := suite.nextExchange(responses)
	suite.Assert().Equal(uart.ExchangeFailed, failed.Type, "the pending command MUST fail on loss")
	suite.Assert().ErrorIs(failed.Record.Err, gatt.ErrChannelClosed)

	_, err = s.Send("late")
	suite.Assert().ErrorIs(err, gatt.ErrNotConnected, "send after loss MUST be rejected")

	suite.Require().Len(s.History().Records(), 1, "history MUST survive the loss")
}

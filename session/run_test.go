//go:build test

package session_test

import (
	"context"
	"fmt"

	"github.com/srg/bluart/internal/testutils"
	"github.com/srg/bluart/session"
)

func (suite *SessionTestSuite) TestRunConnectsAndCleansUp() {
	// GOAL: Verify Run reports phases, hands a ready session to the callback and returns its result
	//
	// TEST SCENARIO: Run against the default peripheral → phases in order → callback sees
	// a ready session → its result comes back

	var phases []string
	progress := func(phase string) { phases = append(phases, phase) }

	mtu, err := session.Run(context.Background(), testAddress, nil, suite.Logger, progress,
		func(s *session.Session) (int, error) {
			suite.Assert().True(s.Ready(), "callback MUST receive a ready session")
			return s.MTU(), nil
		})

	suite.Require().NoError(err, "run MUST succeed")
	suite.Assert().Equal(185, mtu, "run MUST return the callback result")
	suite.Assert().Equal([]string{"Connecting", "Connected", "Processing results"}, phases,
		"phases MUST be reported in order")
}

func (suite *SessionTestSuite) TestRunReportsFailure() {
	// GOAL: Verify a failed connect aborts Run without invoking the callback
	//
	// TEST SCENARIO: Dial refused → Run fails with the cause → phases end at Failed

	suite.installPeripheral(testutils.NewPeripheralBuilder(suite.T()).
		WithDialError(fmt.Errorf("connection refused")))

	var phases []string
	called := false

	_, err := session.Run(context.Background(), testAddress, nil, suite.Logger,
		func(phase string) { phases = append(phases, phase) },
		func(s *session.Session) (struct{}, error) {
			called = true
			return struct{}{}, nil
		})

	suite.Assert().Error(err, "run MUST surface the connect failure")
	suite.Assert().Contains(err.Error(), "connection refused", "the cause MUST survive")
	suite.Assert().False(called, "callback MUST NOT run when connect fails")
	suite.Assert().Equal([]string{"Connecting", "Failed"}, phases, "phases MUST end at Failed")
}

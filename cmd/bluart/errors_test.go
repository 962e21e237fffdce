//go:build test

package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/bluart/internal/gatt"
)

func TestFormatUserError(t *testing.T) {
	// GOAL: Verify each failure kind maps to an actionable message a user
	// can act on without reading source code

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"connect timeout", gatt.ErrConnectTimeout, "connection timed out; is the device in range and advertising?"},
		{"already connecting", gatt.ErrAlreadyConnecting, "a connection attempt is already in progress"},
		{"no usable channel", gatt.ErrNoUsableChannel, "the device does not expose a usable UART service"},
		{"channel closed", gatt.ErrChannelClosed, "the command channel is closed"},
		{"subscription failed", gatt.ErrSubscriptionFailed, "could not subscribe to responses; the device may not support notifications"},
		{"bluetooth off", gatt.ErrBluetoothOff, "bluetooth is turned off; enable it and try again"},
		{"not connected", gatt.ErrNotConnected, "device is not connected"},
		{"already connected", gatt.ErrAlreadyConnected, "device is already connected"},
		{"unsupported", gatt.ErrUnsupported, "operation is not supported on this platform"},
		{"unknown passes through", errors.New("something odd"), "something odd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

func TestFormatUserErrorWrapped(t *testing.T) {
	// GOAL: Verify wrapping does not hide the typed failure

	wrapped := fmt.Errorf("session teardown: %w", gatt.SessionFailure(gatt.FailConnectTimeout, errors.New("dial")))
	assert.Equal(t, "connection timed out; is the device in range and advertising?", FormatUserError(wrapped))

	transport := fmt.Errorf("scan: %w", gatt.ErrBluetoothOff)
	assert.Equal(t, "bluetooth is turned off; enable it and try again", FormatUserError(transport))
}

func TestFormatUserErrorNotFound(t *testing.T) {
	err := &gatt.NotFoundError{Resource: "service", UUIDs: []string{"180F"}}
	assert.Equal(t, `service "180F" not found`, FormatUserError(err))
}

package main

import (
	"errors"
	"fmt"

	"github.com/srg/bluart/internal/gatt"
)

// FormatUserError turns a session or transport failure into a short
// actionable message. Unknown errors pass through unchanged.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var serr *gatt.SessionError
	if errors.As(err, &serr) {
		switch serr.Kind {
		case gatt.FailConnectTimeout:
			return "connection timed out; is the device in range and advertising?"
		case gatt.FailAlreadyConnecting:
			return "a connection attempt is already in progress"
		case gatt.FailNoUsableChannel:
			return "the device does not expose a usable UART service"
		case gatt.FailChannelClosed:
			return "the command channel is closed"
		case gatt.FailWrite:
			return fmt.Sprintf("write failed: %s", serr.Error())
		case gatt.FailSubscription:
			return "could not subscribe to responses; the device may not support notifications"
		}
	}

	switch {
	case errors.Is(err, gatt.ErrBluetoothOff):
		return "bluetooth is turned off; enable it and try again"
	case errors.Is(err, gatt.ErrNotConnected):
		return "device is not connected"
	case errors.Is(err, gatt.ErrAlreadyConnected):
		return "device is already connected"
	case errors.Is(err, gatt.ErrUnsupported):
		return "operation is not supported on this platform"
	}

	var nferr *gatt.NotFoundError
	if errors.As(err, &nferr) {
		return nferr.Error()
	}

	return err.Error()
}

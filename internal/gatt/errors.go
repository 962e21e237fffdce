package gatt

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind labels the ways a session attempt or an established channel
// can fail. Callers branch on these, not on message text.
type FailureKind string

const (
	FailConnectTimeout    FailureKind = "connect_timeout"
	FailAlreadyConnecting FailureKind = "already_connecting"
	FailNoUsableChannel   FailureKind = "no_usable_channel"
	FailChannelClosed     FailureKind = "channel_closed"
	FailWrite             FailureKind = "write_failed"
	FailSubscription      FailureKind = "subscription_failed"
)

// SessionError is a typed session-level failure.
type SessionError struct {
	Kind FailureKind
	Msg  string
}

func (e *SessionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is lets errors.Is compare SessionError values by Kind.
func (e *SessionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for the session failure taxonomy.
var (
	ErrConnectTimeout     = &SessionError{Kind: FailConnectTimeout}
	ErrAlreadyConnecting  = &SessionError{Kind: FailAlreadyConnecting}
	ErrNoUsableChannel    = &SessionError{Kind: FailNoUsableChannel}
	ErrChannelClosed      = &SessionError{Kind: FailChannelClosed}
	ErrWriteFailed        = &SessionError{Kind: FailWrite}
	ErrSubscriptionFailed = &SessionError{Kind: FailSubscription}
)

// SessionFailure wraps a cause with a typed kind.
func SessionFailure(kind FailureKind, cause error) error {
	if cause == nil {
		return &SessionError{Kind: kind}
	}
	return fmt.Errorf("%w: %v", &SessionError{Kind: kind}, cause)
}

// Transport-level errors, produced at the backend boundary.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrBluetoothOff     = errors.New("bluetooth is off")
	ErrTimeout          = errors.New("timeout")
	ErrUnsupported      = errors.New("unsupported")
)

// NotFoundError reports a missing GATT resource.
type NotFoundError struct {
	Resource string   // "service" or "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
	}
}

// NormalizeError maps known backend error strings to the typed transport
// errors, wrapping so the original context survives. Backends produce free
// text; everything above this boundary compares with errors.Is.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "is bluetooth turned on"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsFailure reports whether err is a SessionError of the given kind.
func IsFailure(err error, kind FailureKind) bool {
	var serr *SessionError
	if errors.As(err, &serr) {
		return serr.Kind == kind
	}
	return false
}

// Package session drives the connection lifecycle of one serial-over-GATT
// peripheral: dial, capability negotiation, the ready steady state, and
// teardown. A Session owns at most one link at a time and publishes every
// lifecycle transition on a state stream, so callers observe progress and
// failure the same way.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/internal/gatt/goble"
	"github.com/srg/bluart/internal/groutine"
	"github.com/srg/bluart/internal/ringchan"
	"github.com/srg/bluart/uart"
)

// ErrSessionClosed is returned by operations on a session whose Close has
// already run. A closed session cannot be reused; create a new one.
var ErrSessionClosed = errors.New("session closed")

// stateBuffer sizes the state stream. Transitions are rare, so a slow
// reader loses only ancient history.
const stateBuffer = 32

// Options tunes a session. The zero value is usable; defaults mirror the
// transport's.
type Options struct {
	// ConnectTimeout bounds the dial plus service discovery.
	ConnectTimeout time.Duration `default:"15s"`
	// MTU is the transfer unit requested during negotiation.
	MTU int `default:"517"`
	// WriteTimeout bounds each outbound frame.
	WriteTimeout time.Duration `default:"5s"`
	// ResponseTimeout bounds the wait for a command's response. Zero means
	// commands wait indefinitely.
	ResponseTimeout time.Duration
	// HistorySize caps the retained command records.
	HistorySize int `default:"20"`
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// Session is the lifecycle engine for one peripheral connection.
//
// All methods are safe for concurrent use. Connect and Disconnect may be
// called from different goroutines; a disconnect issued mid-connect aborts
// the in-flight attempt instead of racing with it.
type Session struct {
	id     string
	opts   *Options
	logger *logrus.Entry

	mu         sync.Mutex
	state      State
	peripheral gatt.Peripheral
	link       gatt.Link
	channels   *Channels
	channel    *uart.Channel
	// cancelLink releases the context the link derives its lifetime from.
	// It must survive a successful connect and fire only on teardown.
	cancelLink context.CancelFunc
	closed     bool

	states *ringchan.RingChannel[StateChange]
}

// New creates a disconnected session. A nil opts gets defaults, a nil
// logger logs to a fresh logrus instance.
func New(opts *Options, logger *logrus.Logger) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		opts:   opts,
		logger: logger.WithField("session", id),
		states: ringchan.New[StateChange](stateBuffer),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Connect dials the peripheral at address, negotiates capabilities and
// brings the session to Ready. It returns gatt.ErrAlreadyConnecting while
// an attempt is in flight and gatt.ErrAlreadyConnected once established;
// neither disturbs the current state.
//
// On failure the session is back in Disconnected with the typed reason on
// the state stream, and the same error is returned.
func (s *Session) Connect(ctx context.Context, address string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch s.state {
	case StateConnecting, StateCapabilityNegotiation:
		s.mu.Unlock()
		return gatt.ErrAlreadyConnecting
	case StateReady, StateDisconnecting:
		s.mu.Unlock()
		return gatt.ErrAlreadyConnected
	}

	peripheral := goble.NewPeripheral(address, s.logger.Logger)
	// The link inherits this context's lifetime, so the cancel is retained
	// for teardown rather than released when Connect returns.
	attemptCtx, cancel := context.WithCancel(ctx)
	s.peripheral = peripheral
	s.cancelLink = cancel
	s.transition(StateConnecting, nil)
	s.mu.Unlock()

	err := peripheral.Connect(attemptCtx, &gatt.ConnectOptions{
		Address:        address,
		ConnectTimeout: s.opts.ConnectTimeout,
		MTU:            s.opts.MTU,
		WriteTimeout:   s.opts.WriteTimeout,
	})
	if err != nil {
		reason := connectFailure(err)
		s.fail(peripheral, cancel, reason)
		return reason
	}

	link := peripheral.Link()
	if link == nil {
		// The link died between the dial and here.
		_ = peripheral.Disconnect()
		s.fail(peripheral, cancel, gatt.ErrNotConnected)
		return gatt.ErrNotConnected
	}

	s.mu.Lock()
	if s.closed || s.peripheral != peripheral {
		// A concurrent disconnect or close aborted the attempt after the
		// dial won the race. Roll the connection back.
		s.abortAttempt(peripheral)
		s.mu.Unlock()
		cancel()
		_ = peripheral.Disconnect()
		return context.Canceled
	}
	s.link = link
	s.transition(StateCapabilityNegotiation, nil)
	s.mu.Unlock()

	channels, rerr := resolveChannels(link, s.opts.MTU, s.logger)
	if rerr != nil {
		s.logger.WithError(rerr).Error("Capability negotiation failed")
		_ = peripheral.Disconnect()
		s.fail(peripheral, cancel, rerr)
		return rerr
	}

	channel := uart.NewChannel(uart.Config{
		Write:           channels.Write,
		MTU:             channels.MTU,
		WithResponse:    !channels.WriteNoRsp,
		WriteTimeout:    s.opts.WriteTimeout,
		ResponseTimeout: s.opts.ResponseTimeout,
		HistorySize:     s.opts.HistorySize,
	}, s.logger.Logger)

	if channels.Notify != nil {
		if serr := channels.Notify.Subscribe(false, channel.HandleNotification); serr != nil {
			// The session still comes up send-only; callers see the
			// degradation through Directions and SubscribeErr.
			channels.SubscribeErr = gatt.SessionFailure(gatt.FailSubscription, serr)
			channels.Notify = nil
			s.logger.WithError(serr).Warn("Subscription failed, continuing send-only")
		}
	}

	s.mu.Lock()
	if s.closed || s.peripheral != peripheral {
		s.abortAttempt(peripheral)
		s.mu.Unlock()
		channel.Close()
		cancel()
		_ = peripheral.Disconnect()
		return context.Canceled
	}
	s.channels = channels
	s.channel = channel
	s.transition(StateReady, nil)
	s.mu.Unlock()

	groutine.Go(nil, "session-link-monitor", func(context.Context) {
		<-link.Disconnected()
		s.linkLost(link)
	})

	send, receive := channels.Directions()
	s.logger.WithFields(logrus.Fields{
		"address": address,
		"mtu":     channels.MTU,
		"send":    send,
		"receive": receive,
	}).Info("Session ready")
	return nil
}

// connectFailure types a dial error. Timeouts become the session's
// connect-timeout failure; cancellation and transport sentinels pass
// through untouched.
func connectFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gatt.ErrTimeout) {
		return gatt.SessionFailure(gatt.FailConnectTimeout, err)
	}
	return err
}

// abortAttempt rolls the state back when an aborted attempt still owns the
// session fields. Callers hold s.mu.
func (s *Session) abortAttempt(peripheral gatt.Peripheral) {
	if s.peripheral != peripheral {
		return
	}
	s.peripheral = nil
	s.link = nil
	s.cancelLink = nil
	s.transition(StateDisconnected, context.Canceled)
}

// fail backs the session out of a dead attempt. A concurrent disconnect
// may have owned the cleanup already, in which case the state is left
// alone.
func (s *Session) fail(peripheral gatt.Peripheral, cancel context.CancelFunc, reason error) {
	cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peripheral != peripheral {
		return
	}
	s.peripheral = nil
	s.link = nil
	s.cancelLink = nil
	s.transition(StateDisconnected, reason)
}

// Disconnect tears the session down. It is best-effort and idempotent:
// transport errors are logged, not returned, and the session always ends
// in Disconnected. Pending commands fail with gatt.ErrChannelClosed.
// Command history survives for inspection until the next Connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected, StateDisconnecting:
		s.mu.Unlock()
		return
	case StateConnecting, StateCapabilityNegotiation:
		// Abort the in-flight attempt and own its cleanup; the attempt's
		// completion path sees the peripheral gone and backs out.
		peripheral := s.peripheral
		cancel := s.cancelLink
		s.peripheral = nil
		s.link = nil
		s.cancelLink = nil
		s.transition(StateDisconnected, context.Canceled)
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if peripheral != nil {
			_ = peripheral.Disconnect()
		}
		return
	}

	channel := s.channel
	peripheral := s.peripheral
	cancel := s.cancelLink
	s.peripheral = nil
	s.link = nil
	s.channels = nil
	s.cancelLink = nil
	s.transition(StateDisconnecting, nil)
	s.mu.Unlock()

	// Fail pending commands before dropping the transport so their
	// records carry the channel-closed error, not a write failure.
	if channel != nil {
		channel.Close()
	}
	if peripheral != nil {
		if derr := peripheral.Disconnect(); derr != nil {
			s.logger.WithError(derr).Warn("Transport disconnect reported an error")
		}
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.transition(StateDisconnected, nil)
	s.mu.Unlock()
}

// linkLost reacts to out-of-band link loss. Orderly teardown also fires
// the link's Disconnected signal, so only a session that still owns this
// exact link does anything here.
func (s *Session) linkLost(link gatt.Link) {
	s.mu.Lock()
	if s.link != link || s.state != StateReady {
		s.mu.Unlock()
		return
	}
	channel := s.channel
	peripheral := s.peripheral
	cancel := s.cancelLink
	s.peripheral = nil
	s.link = nil
	s.channels = nil
	s.cancelLink = nil
	s.transition(StateDisconnected, gatt.ErrNotConnected)
	s.mu.Unlock()

	s.logger.Warn("Link lost")
	if channel != nil {
		channel.Close()
	}
	if peripheral != nil {
		_ = peripheral.Disconnect()
	}
	if cancel != nil {
		cancel()
	}
}

// Send submits a text command on the ready session and returns its
// sequence number. Outside Ready it returns gatt.ErrNotConnected.
func (s *Session) Send(text string) (uint64, error) {
	s.mu.Lock()
	channel := s.channel
	ready := s.state == StateReady
	s.mu.Unlock()
	if !ready || channel == nil {
		return 0, gatt.ErrNotConnected
	}
	return channel.Send(text)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether commands can be submitted right now.
func (s *Session) Ready() bool {
	return s.State() == StateReady
}

// States returns the state stream. The channel is closed by Close; a slow
// reader skips old transitions rather than blocking the engine.
func (s *Session) States() <-chan StateChange {
	return s.states.C()
}

// Directions reports which ways data can flow on the current link.
func (s *Session) Directions() (send, receive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels.Directions()
}

// MTU returns the negotiated transfer unit, zero when disconnected.
func (s *Session) MTU() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels == nil {
		return 0
	}
	return s.channels.MTU
}

// Channels returns the resolved channels, nil when disconnected.
func (s *Session) Channels() *Channels {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels
}

// Link returns the live link, nil when disconnected.
func (s *Session) Link() gatt.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Peripheral returns the peripheral of the current or in-flight
// connection, nil when disconnected.
func (s *Session) Peripheral() gatt.Peripheral {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peripheral
}

// Responses returns the exchange stream of the current connection, nil
// when no connection has been made yet. The stream is closed on
// disconnect; the next connection gets a fresh one.
func (s *Session) Responses() <-chan uart.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		return nil
	}
	return s.channel.Exchanges()
}

// History returns the command history of the current or most recent
// connection, nil when the session never connected.
func (s *Session) History() *uart.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		return nil
	}
	return s.channel.History()
}

// Close disconnects and releases the session. Idempotent.
func (s *Session) Close() {
	s.Disconnect()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.states.Close()
}

// transition records a state change and publishes it. Callers hold s.mu.
func (s *Session) transition(next State, reason error) {
	if s.state == next {
		return
	}
	change := StateChange{From: s.state, To: next, Reason: reason, At: time.Now()}
	s.state = next

	fields := logrus.Fields{"from": change.From.String(), "to": change.To.String()}
	entry := s.logger.WithFields(fields)
	if reason != nil {
		entry.WithError(reason).Info("Session state changed")
	} else {
		entry.Info("Session state changed")
	}

	if !s.closed {
		s.states.Send(change)
	}
}

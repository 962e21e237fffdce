// Package bridge exposes a ready UART session as a local pseudo-terminal,
// so stock serial tools (screen, minicom, shell redirection) can talk to a
// BLE peripheral without knowing anything about GATT. Input typed on the
// slave device becomes commands, command responses and unsolicited
// notifications come back as output lines.
package bridge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/bluart/internal/groutine"
	"github.com/srg/bluart/internal/ptyio"
	"github.com/srg/bluart/session"
	"github.com/srg/bluart/uart"
)

const (
	// DefaultStdinBufferSize is the PTY input ring capacity in bytes.
	DefaultStdinBufferSize = 1024

	// DefaultStdoutBufferSize is the PTY output ring capacity in bytes.
	DefaultStdoutBufferSize = 4096
)

// Bridge is a running session-to-PTY pump.
type Bridge interface {
	// TTYName returns the slave device path to hand to serial tools.
	TTYName() string
	// TTYSymlink returns the symlink path, empty if none was requested.
	TTYSymlink() string
	// PTY returns the underlying pseudo-terminal for stats and raw access.
	PTY() ptyio.PTY
	// Session returns the connected session driving the pump.
	Session() *session.Session
}

// Options configures Run.
type Options struct {
	// Address of the peripheral to connect.
	Address string

	// Session carries the connection policy. Nil uses session defaults.
	Session *session.Options

	Logger *logrus.Logger

	// StdinBufferSize and StdoutBufferSize set the PTY ring capacities in
	// bytes. Zero selects the package defaults.
	StdinBufferSize  int
	StdoutBufferSize int

	// TTYSymlinkPath, when set, creates a stable symlink to the slave
	// device (e.g. /tmp/ble-device) and removes it on teardown.
	TTYSymlinkPath string

	// Raw forwards input chunks as they arrive instead of assembling
	// newline-terminated commands.
	Raw bool
}

// Callback runs with the live bridge. The bridge is torn down when it
// returns, so a long-running callback typically blocks on its context.
type Callback[R any] func(Bridge) (R, error)

type bridgeImpl struct {
	session *session.Session
	pty     ptyio.PTY
	logger  *logrus.Entry
	symlink string
	raw     bool

	mu      sync.Mutex
	pending []byte
}

func (b *bridgeImpl) TTYName() string           { return b.pty.TTYName() }
func (b *bridgeImpl) TTYSymlink() string        { return b.symlink }
func (b *bridgeImpl) PTY() ptyio.PTY            { return b.pty }
func (b *bridgeImpl) Session() *session.Session { return b.session }

// Run connects to the peripheral, creates the PTY pair, wires the pumps
// and hands the bridge to callback. Everything is torn down when the
// callback returns, connection failures included.
func Run[R any](ctx context.Context, opts *Options, progress session.ProgressCallback, callback Callback[R]) (R, error) {
	var zero R

	if opts == nil {
		return zero, fmt.Errorf("bridge options are required")
	}
	if opts.Address == "" {
		return zero, fmt.Errorf("device address is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progress == nil {
		progress = func(string) {} // No-op callback
	}

	var (
		pty     ptyio.PTY
		symlink string
	)
	s := session.New(opts.Session, logger)
	defer func() {
		// Symlink first: it points at the slave the PTY close destroys.
		if symlink != "" {
			if err := os.Remove(symlink); err != nil {
				logger.WithError(err).WithField("ttySymlink", symlink).Warn("Failed to remove tty symlink")
			}
		}
		if pty != nil {
			_ = pty.Close()
		}
		s.Close()
	}()

	progress("Connecting")
	if err := s.Connect(ctx, opts.Address); err != nil {
		progress("Failed")
		return zero, fmt.Errorf("failed to connect to device %s: %w", opts.Address, err)
	}
	progress("Connected")

	progress("Setting up PTY")
	stdinSize := opts.StdinBufferSize
	if stdinSize == 0 {
		stdinSize = DefaultStdinBufferSize
	}
	stdoutSize := opts.StdoutBufferSize
	if stdoutSize == 0 {
		stdoutSize = DefaultStdoutBufferSize
	}

	var err error
	pty, err = ptyio.New(ptyio.Options{
		ReadCap:  stdinSize,
		WriteCap: stdoutSize,
		Logger:   logger,
	})
	if err != nil {
		return zero, err
	}
	logger.WithField("tty", pty.TTYName()).Info("Created PTY device")

	if opts.TTYSymlinkPath != "" {
		if err := os.Symlink(pty.TTYName(), opts.TTYSymlinkPath); err != nil {
			return zero, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.TTYSymlinkPath, pty.TTYName(), err)
		}
		symlink = opts.TTYSymlinkPath
		logger.WithFields(logrus.Fields{
			"ttySymlink": symlink,
			"target":     pty.TTYName(),
		}).Info("Created PTY symlink")
	}

	b := &bridgeImpl{
		session: s,
		pty:     pty,
		logger:  logger.WithField("tty", pty.TTYName()),
		symlink: symlink,
		raw:     opts.Raw,
	}

	responses := s.Responses()
	pty.SetReadCallback(b.handleInput)
	groutine.Go(ctx, "bridge-uart-pump", func(context.Context) {
		b.pump(responses)
	})

	progress("Running")
	return callback(b)
}

// handleInput receives raw bytes from the slave side and turns them into
// session commands.
func (b *bridgeImpl) handleInput(data []byte) {
	if b.raw {
		if len(data) > 0 {
			b.send(string(data))
		}
		return
	}
	for _, line := range b.consumeLines(data) {
		b.send(line)
	}
}

// consumeLines buffers partial input and cuts it at newline or carriage
// return, whichever a terminal on the slave side produces. Empty lines are
// dropped so CRLF pairs do not become empty commands.
func (b *bridgeImpl) consumeLines(data []byte) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, data...)
	var lines []string
	for {
		i := bytes.IndexAny(b.pending, "\r\n")
		if i < 0 {
			return lines
		}
		line := string(b.pending[:i])
		b.pending = b.pending[i+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}
}

func (b *bridgeImpl) send(text string) {
	if _, err := b.session.Send(text); err != nil {
		b.logger.WithError(err).WithField("text", text).Debug("Bridge input dropped")
	}
}

// pump copies responses and unsolicited notifications to the PTY. It ends
// when the session's exchange stream closes on disconnect.
func (b *bridgeImpl) pump(responses <-chan uart.Exchange) {
	for ex := range responses {
		switch ex.Type {
		case uart.ExchangeResolved, uart.ExchangeUnsolicited:
			text := ex.Text
			if !strings.HasSuffix(text, "\n") {
				text += "\n"
			}
			if _, err := b.pty.Write([]byte(text)); err != nil {
				b.logger.WithError(err).Debug("Bridge output stopped")
				return
			}
		case uart.ExchangeFailed:
			// Failures stay off the serial stream; tools reading it expect
			// device output only.
			b.logger.WithFields(logrus.Fields{
				"seq": ex.Record.Seq,
			}).WithError(ex.Record.Err).Debug("Bridge command failed")
		}
	}
	b.logger.Debug("Session exchange stream closed, bridge output stopped")
}

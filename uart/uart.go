// Package uart implements the text command side of a UART-over-GATT
// session: ordered fragmented writes on the resolved write characteristic,
// FIFO correlation of inbound notifications to pending commands, and a
// bounded history ring for interactive recall.
//
// UART-over-GATT carries no framing, so correlation is temporal: the oldest
// pending command is matched to the next inbound notification. A peripheral
// that emits unsolicited traffic while commands are in flight will therefore
// misattribute responses. That limitation is inherent to the protocol; the
// channel surfaces uncorrelated traffic as ExchangeUnsolicited instead of
// inventing a framing layer the firmware does not speak.
package uart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/internal/groutine"
	"github.com/srg/bluart/internal/ringchan"
)

// DefaultHistorySize is the number of command records kept for recall.
const DefaultHistorySize = 20

// exchangeBuffer sizes the broadcast stream; a stalled consumer loses the
// oldest exchanges first.
const exchangeBuffer = 64

// ErrNoWriteChannel is returned by Send on a receive-only channel, i.e. a
// session whose resolver found a notify characteristic but nothing writable.
var ErrNoWriteChannel = errors.New("no write channel resolved")

// ExchangeType classifies a command stream event.
type ExchangeType int

const (
	// ExchangeSent reports a command accepted and queued for ordered
	// transmission.
	ExchangeSent ExchangeType = iota
	// ExchangeResolved reports an inbound notification matched to the
	// oldest pending command.
	ExchangeResolved
	// ExchangeFailed reports a command that failed to write, timed out
	// waiting for a response, or was pending when the channel closed.
	ExchangeFailed
	// ExchangeUnsolicited reports an inbound notification that arrived
	// with nothing pending.
	ExchangeUnsolicited
)

func (t ExchangeType) String() string {
	switch t {
	case ExchangeSent:
		return "sent"
	case ExchangeResolved:
		return "resolved"
	case ExchangeFailed:
		return "failed"
	case ExchangeUnsolicited:
		return "unsolicited"
	default:
		return "unknown"
	}
}

// Exchange is one event on the command stream. Record is a snapshot taken
// when the event fired, zero for unsolicited traffic. Text carries the
// payload side of the event: the command for outbound events, the
// notification text for inbound ones.
type Exchange struct {
	Type   ExchangeType
	Record Record
	Text   string
}

// Record is one entry in the command history.
type Record struct {
	Seq        uint64
	Command    string
	SentAt     time.Time
	Response   string
	ReceivedAt time.Time
	// Err is set when the command failed to write, timed out, or was
	// still pending at channel close.
	Err error
}

// Resolved reports whether a response was correlated to this record.
func (r Record) Resolved() bool { return !r.ReceivedAt.IsZero() }

// Failed reports whether the record carries a failure.
func (r Record) Failed() bool { return r.Err != nil }

// Config binds a Channel to the characteristics and policy resolved during
// capability negotiation.
type Config struct {
	// Write is the outbound characteristic. Nil makes the channel
	// receive-only: Send fails with ErrNoWriteChannel.
	Write gatt.Characteristic

	// MTU is the negotiated transfer unit; each frame carries up to
	// gatt.WriteCapacity(MTU) bytes.
	MTU int

	// WithResponse selects acknowledged writes. Channels resolved onto a
	// write-without-response characteristic leave it false.
	WithResponse bool

	// WriteTimeout bounds each individual frame write.
	WriteTimeout time.Duration `default:"5s"`

	// ResponseTimeout, when positive, fails a pending record that has not
	// been answered within the window. Zero keeps records pending until
	// the channel closes, which matches plain UART behavior.
	ResponseTimeout time.Duration

	// HistorySize caps the command history ring.
	HistorySize int `default:"20"`

	// InterChunkDelay spaces consecutive frames of one command so slow
	// peripheral firmware can drain its receive buffer.
	InterChunkDelay time.Duration `default:"10ms"`
}

// Channel is the command side of a ready session. One Channel is created
// per successful capability negotiation and dies with the session. It is
// safe for concurrent use; writes are issued strictly in submission order
// by a single writer goroutine.
type Channel struct {
	cfg    Config
	logger *logrus.Logger

	mu      sync.Mutex
	seq     uint64
	pending []uint64   // seqs awaiting a response, oldest first
	queue   []outgoing // commands awaiting transmission
	closed  bool

	history   *History
	timers    map[uint64]*time.Timer
	exchanges *ringchan.RingChannel[Exchange]

	wake       chan struct{}
	writerDone chan struct{}
}

type outgoing struct {
	rec    Record
	frames [][]byte
}

// NewChannel creates a command channel and starts its writer. Callers must
// Close it to release the writer and fail anything still pending.
func NewChannel(cfg Config, logger *logrus.Logger) *Channel {
	defaults.SetDefaults(&cfg)
	if logger == nil {
		logger = logrus.New()
	}

	c := &Channel{
		cfg:        cfg,
		logger:     logger,
		history:    NewHistory(cfg.HistorySize),
		timers:     make(map[uint64]*time.Timer),
		exchanges:  ringchan.New[Exchange](exchangeBuffer),
		wake:       make(chan struct{}, 1),
		writerDone: make(chan struct{}),
	}
	groutine.Go(nil, "uart-writer", func(context.Context) { c.writeLoop() })
	return c
}

// Send queues text for transmission and returns its sequence number without
// waiting for the write. The outcome is observed on Exchanges: a write
// failure or response arrives there, never here.
func (c *Channel) Send(text string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, gatt.ErrChannelClosed
	}
	if c.cfg.Write == nil {
		return 0, ErrNoWriteChannel
	}

	c.seq++
	rec := Record{Seq: c.seq, Command: text, SentAt: time.Now()}
	if evicted, ok := c.history.Append(rec); ok {
		// The evicted record can no longer be observed, so a response
		// must not resolve against it.
		c.dropPending(evicted.Seq)
	}
	c.pending = append(c.pending, rec.Seq)
	if c.cfg.ResponseTimeout > 0 {
		c.armTimer(rec.Seq)
	}
	c.queue = append(c.queue, outgoing{rec: rec, frames: fragment(text, c.cfg.MTU)})
	c.signalWriter()
	c.emit(Exchange{Type: ExchangeSent, Record: rec, Text: text})
	return rec.Seq, nil
}

// HandleNotification correlates one inbound notification. The session wires
// this as the subscribe handler of the resolved notify characteristic.
func (c *Channel) HandleNotification(data []byte) {
	text := string(data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if len(c.pending) == 0 {
		c.logger.WithField("text", text).Debug("Unsolicited notification")
		c.emit(Exchange{Type: ExchangeUnsolicited, Text: text})
		return
	}

	seq := c.pending[0]
	c.pending = c.pending[1:]
	if t, ok := c.timers[seq]; ok {
		t.Stop()
		delete(c.timers, seq)
	}
	rec, ok := c.history.Update(seq, func(r *Record) {
		r.Response = text
		r.ReceivedAt = time.Now()
	})
	if !ok {
		rec = Record{Seq: seq, Response: text, ReceivedAt: time.Now()}
	}
	c.emit(Exchange{Type: ExchangeResolved, Record: rec, Text: text})
}

// Exchanges returns the broadcast stream of command events. The stream is
// closed by Close, after the pending failures have been delivered.
func (c *Channel) Exchanges() <-chan Exchange {
	return c.exchanges.C()
}

// History returns the bounded command record ring. It stays readable after
// the channel closes so a terminal can keep recalling recent commands.
func (c *Channel) History() *History {
	return c.history
}

// Pending returns the number of commands awaiting a response.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close fails everything still pending with ErrChannelClosed, stops the
// writer and closes the exchange stream. It waits for an in-flight frame
// write to return. Close is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if n := len(c.pending); n > 0 {
		c.logger.WithField("pending", n).Debug("Closing command channel with commands pending")
	}
	for _, seq := range c.pending {
		if t, ok := c.timers[seq]; ok {
			t.Stop()
			delete(c.timers, seq)
		}
		rec, ok := c.history.Update(seq, func(r *Record) {
			r.Err = gatt.ErrChannelClosed
		})
		if !ok {
			rec = Record{Seq: seq, Err: gatt.ErrChannelClosed}
		}
		c.emit(Exchange{Type: ExchangeFailed, Record: rec, Text: rec.Command})
	}
	c.pending = nil
	c.queue = nil
	c.closed = true
	c.mu.Unlock()

	c.signalWriter()
	<-c.writerDone
	c.exchanges.Close()
}

// writeLoop drains the queue one command at a time, preserving submission
// order. It exits when the channel closes.
func (c *Channel) writeLoop() {
	defer close(c.writerDone)
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if len(c.queue) == 0 {
			c.mu.Unlock()
			<-c.wake
			continue
		}
		out := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.transmit(out)
	}
}

// transmit writes one command's frames in order. A failed frame fails that
// command only; the writer moves on to the next one.
func (c *Channel) transmit(out outgoing) {
	for i, frame := range out.frames {
		if i > 0 && c.cfg.InterChunkDelay > 0 {
			time.Sleep(c.cfg.InterChunkDelay)
		}
		if err := c.cfg.Write.Write(frame, c.cfg.WithResponse, c.cfg.WriteTimeout); err != nil {
			c.writeFailed(out.rec.Seq, err)
			return
		}
	}
}

// writeFailed marks seq failed and removes it from the pending line so the
// next inbound notification resolves a command that actually reached the
// peripheral.
func (c *Channel) writeFailed(seq uint64, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.dropPending(seq)
	failure := gatt.SessionFailure(gatt.FailWrite, cause)
	rec, ok := c.history.Update(seq, func(r *Record) {
		r.Err = failure
	})
	if !ok {
		rec = Record{Seq: seq, Err: failure}
	}
	c.logger.WithError(cause).WithField("seq", seq).Warn("Failed to write command")
	c.emit(Exchange{Type: ExchangeFailed, Record: rec, Text: rec.Command})
}

// armTimer starts the response timer for seq. Callers hold c.mu.
func (c *Channel) armTimer(seq uint64) {
	c.timers[seq] = time.AfterFunc(c.cfg.ResponseTimeout, func() {
		c.expire(seq)
	})
}

// expire fails seq if it is still pending when its response window ends.
func (c *Channel) expire(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	delete(c.timers, seq)

	found := false
	for i, s := range c.pending {
		if s == seq {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return
	}
	rec, ok := c.history.Update(seq, func(r *Record) {
		r.Err = fmt.Errorf("no response within %v: %w", c.cfg.ResponseTimeout, gatt.ErrTimeout)
	})
	if !ok {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"seq":     seq,
		"timeout": c.cfg.ResponseTimeout,
	}).Warn("Command response timed out")
	c.emit(Exchange{Type: ExchangeFailed, Record: rec, Text: rec.Command})
}

// dropPending removes seq from the pending line and stops its timer.
// Callers hold c.mu.
func (c *Channel) dropPending(seq uint64) {
	for i, s := range c.pending {
		if s == seq {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	if t, ok := c.timers[seq]; ok {
		t.Stop()
		delete(c.timers, seq)
	}
}

// emit publishes an exchange. Callers hold c.mu; once the channel is closed
// the stream is gone and events are dropped.
func (c *Channel) emit(ex Exchange) {
	if c.closed {
		return
	}
	c.exchanges.Send(ex)
}

// signalWriter nudges the writer without blocking. The single-slot buffer
// is enough: the writer re-checks the queue on every pass.
func (c *Channel) signalWriter() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// fragment splits text into write-sized frames, never cutting a UTF-8 rune
// in half. Multi-frame commands rely on the peripheral treating consecutive
// writes as one byte stream, which is exactly how plain UART firmware
// behaves.
func fragment(text string, mtu int) [][]byte {
	data := []byte(text)
	capacity := gatt.WriteCapacity(mtu)
	if len(data) <= capacity {
		return [][]byte{data}
	}

	frames := make([][]byte, 0, (len(data)+capacity-1)/capacity)
	for len(data) > capacity {
		cut := capacity
		for cut > 0 && !utf8.RuneStart(data[cut]) {
			cut--
		}
		if cut == 0 {
			// Not valid UTF-8; fall back to a byte split.
			cut = capacity
		}
		frames = append(frames, data[:cut])
		data = data[cut:]
	}
	return append(frames, data)
}

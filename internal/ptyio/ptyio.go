// Package ptyio wraps a pseudo-terminal master in ring-buffered,
// non-blocking I/O. Callers never block on a slow or absent peer: writes
// land in a fixed-capacity ring drained by a background loop, reads come
// out of a ring filled by a poll loop, and when a ring is full the excess
// bytes are dropped and counted instead of stalling the caller.
//
// PollTimeout bounds how long the loops wait for descriptor readiness
// before rechecking cancellation, so it is also the worst-case shutdown
// latency.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/bluart/internal/groutine"
)

// DefaultPollTimeout is the poll interval used when Options leaves it zero.
const DefaultPollTimeout = 50 * time.Millisecond

const (
	chunkSize    = 4096
	closeTimeout = 5 * time.Second
)

// ErrorCallback reports a loop failure that leaves the PTY degraded. It is
// invoked at most once, from a background goroutine; Close should follow.
type ErrorCallback func(err error)

// ReadCallback receives bytes read from the slave side. It runs on a
// background goroutine and the slice is reused between calls, so copy the
// data to retain it.
type ReadCallback func(data []byte)

// Options configures New. Zero PollTimeout selects DefaultPollTimeout and
// a nil Logger discards output.
type Options struct {
	ReadCap     int
	WriteCap    int
	Logger      *logrus.Logger
	OnError     ErrorCallback
	PollTimeout time.Duration
}

// PTY is a non-blocking pseudo-terminal master. Read returns
// syscall.EAGAIN when no data is buffered; Write queues data and reports
// how much of it fit.
type PTY interface {
	io.ReadWriteCloser
	Stats() Stats
	TTYName() string
	SetReadCallback(cb ReadCallback)
}

// Stats is a snapshot of the ring occupancy and transfer counters.
type Stats struct {
	WriteQueueLen int
	WriteQueueCap int
	ReadQueueLen  int
	ReadQueueCap  int

	DroppedWriteBytes uint64
	DroppedReadBytes  uint64
	ReadBytes         uint64
	WriteBytes        uint64
}

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

type ringPTY struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	ttyName     string
	onError     ErrorCallback
	errorOnce   sync.Once
	pollTimeout time.Duration

	writeBuf *ringbuffer.RingBuffer
	readBuf  *ringbuffer.RingBuffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// readCb only ever holds a ReadCallback; a nil one unregisters.
	readCb      atomic.Value
	readNotify  chan struct{}
	writeNotify chan struct{}

	closed atomic.Bool

	droppedWrite uint64
	droppedRead  uint64
	readBytes    uint64
	writeBytes   uint64
}

// New opens a master/slave pair, puts the slave in raw mode and starts the
// background loops. The slave stays open for the PTY's lifetime so the
// device node survives external processes closing it.
func New(opts Options) (PTY, error) {
	if opts.ReadCap <= 0 || opts.WriteCap <= 0 {
		return nil, fmt.Errorf("ring capacities must be positive, got read %d write %d", opts.ReadCap, opts.WriteCap)
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = discardLogger
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = DefaultPollTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ringPTY{
		logger:      logger,
		master:      master,
		slave:       slave,
		ttyName:     slave.Name(),
		onError:     opts.OnError,
		pollTimeout: pollTimeout,
		writeBuf:    ringbuffer.New(opts.WriteCap),
		readBuf:     ringbuffer.New(opts.ReadCap),
		ctx:         ctx,
		cancel:      cancel,
		readNotify:  make(chan struct{}, 1),
		writeNotify: make(chan struct{}, 1),
	}

	p.wg.Add(3)
	groutine.Go(ctx, "pty-read-loop", func(context.Context) { p.readLoop() })
	groutine.Go(ctx, "pty-write-loop", func(context.Context) { p.writeLoop() })
	groutine.Go(ctx, "pty-read-dispatch", func(context.Context) { p.dispatchLoop() })

	p.logger.WithField("tty", p.ttyName).Debug("PTY pair opened")
	return p, nil
}

// openRaw opens the pair, slave in raw mode, master non-blocking.
func openRaw() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open pty: %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		closePair(master, slave)
		return nil, nil, fmt.Errorf("raw mode on %s: %w", slave.Name(), err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		closePair(master, slave)
		return nil, nil, fmt.Errorf("nonblocking mode on %s: %w", slave.Name(), err)
	}
	return master, slave, nil
}

func closePair(master, slave *os.File) {
	_ = master.Close()
	_ = slave.Close()
}

// Write queues data for transmission to the slave and returns immediately.
// The returned count is how much fit in the ring; the rest was dropped and
// shows up in Stats. A full return does not mean the bytes reached the
// terminal yet, only that they are queued.
func (p *ringPTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	written, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return written, err
	}
	if written < len(data) {
		atomic.AddUint64(&p.droppedWrite, uint64(len(data)-written))
		p.logger.WithField("dropped", len(data)-written).Warn("PTY write ring full, dropping output")
	}
	if written > 0 {
		signal(p.writeNotify)
	}
	return written, nil
}

// Read drains up to len(b) buffered bytes. With nothing buffered it
// returns syscall.EAGAIN rather than blocking.
func (p *ringPTY) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}

	n, err := p.readBuf.TryRead(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, err
	}
	if n == 0 {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

// SetReadCallback registers cb for asynchronous data delivery, replacing
// any previous callback. A nil cb unregisters. Data already buffered is
// delivered shortly after registration.
func (p *ringPTY) SetReadCallback(cb ReadCallback) {
	if p.closed.Load() {
		return
	}
	p.readCb.Store(cb)
	if cb != nil {
		signal(p.readNotify)
	}
}

// Close stops the loops and closes both descriptors. Closing the files
// first turns any in-flight read or write into an immediate error, which
// is what unblocks the loops.
func (p *ringPTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.cancel()

	if err := p.master.Close(); err != nil {
		p.logger.WithError(err).Warn("PTY master close failed")
	}
	if err := p.slave.Close(); err != nil {
		p.logger.WithError(err).Warn("PTY slave close failed")
	}

	done := make(chan struct{})
	groutine.Go(nil, "pty-close-wait", func(context.Context) {
		p.wg.Wait()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(closeTimeout):
		p.logger.WithField("tty", p.ttyName).Error("PTY loops did not exit in time")
	}
	return nil
}

// Stats returns instantaneous counters for monitoring.
func (p *ringPTY) Stats() Stats {
	return Stats{
		WriteQueueLen:     p.writeBuf.Length(),
		WriteQueueCap:     p.writeBuf.Capacity(),
		ReadQueueLen:      p.readBuf.Length(),
		ReadQueueCap:      p.readBuf.Capacity(),
		DroppedWriteBytes: atomic.LoadUint64(&p.droppedWrite),
		DroppedReadBytes:  atomic.LoadUint64(&p.droppedRead),
		ReadBytes:         atomic.LoadUint64(&p.readBytes),
		WriteBytes:        atomic.LoadUint64(&p.writeBytes),
	}
}

// TTYName returns the slave device path, e.g. "/dev/pts/5".
func (p *ringPTY) TTYName() string {
	return p.ttyName
}

// readLoop polls the master for input and moves it into the read ring.
func (p *ringPTY) readLoop() {
	defer p.wg.Done()

	master := p.master
	fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, chunkSize)
	timeout := int(p.pollTimeout / time.Millisecond)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		ready, err := unix.Poll(fds, timeout)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Warn("PTY read poll failed")
		}
		if ready <= 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			written, werr := p.readBuf.Write(buf[:n])
			if werr != nil && !errors.Is(werr, ringbuffer.ErrIsFull) {
				p.logger.WithError(werr).Warn("PTY read ring write failed")
			}
			if written < n {
				atomic.AddUint64(&p.droppedRead, uint64(n-written))
				p.logger.WithField("dropped", n-written).Warn("PTY read ring full, dropping input")
			}
			if written > 0 {
				atomic.AddUint64(&p.readBytes, uint64(written))
				signal(p.readNotify)
			}
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK), errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
			return
		case errors.Is(err, io.EOF):
			// Last slave holder hung up.
			return
		default:
			p.reportError(fmt.Errorf("pty read: %w", err))
			return
		}
	}
}

// writeLoop drains the write ring into the master. It sleeps on
// writeNotify instead of polling, since an idle terminal is almost always
// writable and polling for that would spin.
func (p *ringPTY) writeLoop() {
	defer p.wg.Done()

	master := p.master
	fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, chunkSize)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.writeNotify:
		}

		for {
			n, err := p.writeBuf.TryRead(buf)
			if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
				p.logger.WithError(err).Warn("PTY write ring read failed")
			}
			if n == 0 {
				break
			}
			if !p.transmit(master, fds, buf[:n]) {
				return
			}
		}
	}
}

// transmit writes buf to the master, waiting out EAGAIN via poll. A false
// return means the loop must exit.
func (p *ringPTY) transmit(master *os.File, fds []unix.PollFd, buf []byte) bool {
	timeout := int(p.pollTimeout / time.Millisecond)

	for off := 0; off < len(buf); {
		select {
		case <-p.ctx.Done():
			return false
		default:
		}

		n, err := master.Write(buf[off:])
		if n > 0 {
			off += n
			atomic.AddUint64(&p.writeBytes, uint64(n))
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK):
			if _, perr := unix.Poll(fds, timeout); perr != nil && !errors.Is(perr, syscall.EINTR) {
				p.logger.WithError(perr).Warn("PTY write poll failed")
			}
		case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
			return false
		default:
			p.reportError(fmt.Errorf("pty write: %w", err))
			return false
		}
	}
	return true
}

// dispatchLoop feeds buffered input to the registered ReadCallback.
func (p *ringPTY) dispatchLoop() {
	defer p.wg.Done()

	buf := make([]byte, chunkSize)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.readNotify:
		}

		for {
			cb, _ := p.readCb.Load().(ReadCallback)
			if cb == nil {
				break
			}
			n, err := p.readBuf.TryRead(buf)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}
			if !p.deliver(cb, buf[:n]) {
				break
			}
		}
	}
}

// deliver shields the dispatcher from a panicking callback: the callback
// is unregistered and the failure reported, once.
func (p *ringPTY) deliver(cb ReadCallback, data []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			p.readCb.Store(ReadCallback(nil))
			p.reportError(fmt.Errorf("read callback panic: %v", r))
		}
	}()
	cb(data)
	return true
}

func (p *ringPTY) reportError(err error) {
	p.logger.WithError(err).Warn("PTY loop failed")
	if p.onError == nil {
		return
	}
	p.errorOnce.Do(func() {
		p.onError(err)
	})
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

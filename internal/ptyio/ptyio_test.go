//go:build test

package ptyio_test

import (
	"io"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bluart/internal/ptyio"
)

func newTestPTY(t *testing.T, opts ptyio.Options) ptyio.PTY {
	t.Helper()
	if opts.ReadCap == 0 {
		opts.ReadCap = 1024
	}
	if opts.WriteCap == 0 {
		opts.WriteCap = 1024
	}
	if opts.PollTimeout == 0 {
		opts.PollTimeout = 10 * time.Millisecond
	}

	p, err := ptyio.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func openSlave(t *testing.T, p ptyio.PTY) *os.File {
	t.Helper()
	require.NotEmpty(t, p.TTYName(), "MUST expose the slave device path")

	tty, err := os.OpenFile(p.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tty.Close() })
	return tty
}

func TestWriteReachesSlave(t *testing.T) {
	// GOAL: Verify bytes queued on the master side come out of the slave
	// device, and the transfer counters account for them.
	p := newTestPTY(t, ptyio.Options{})
	tty := openSlave(t, p)

	payload := []byte("hello")
	n, err := p.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n, "MUST queue the full payload into an empty ring")

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(payload))
		if _, err := io.ReadFull(tty, buf); err == nil {
			got <- buf
		}
	}()

	select {
	case data := <-got:
		assert.Equal(t, payload, data, "slave MUST receive the queued bytes")
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for data on the slave side")
	}

	assert.Eventually(t, func() bool {
		return p.Stats().WriteBytes >= uint64(len(payload))
	}, 2*time.Second, 10*time.Millisecond, "WriteBytes MUST count transmitted bytes")
}

func TestSlaveInputDispatchesCallback(t *testing.T) {
	// GOAL: Verify input typed on the slave side is delivered to the
	// registered read callback.
	p := newTestPTY(t, ptyio.Options{})
	tty := openSlave(t, p)

	var mu sync.Mutex
	var got []byte
	p.SetReadCallback(func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, data...)
	})

	_, err := tty.WriteString("ping")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(got) == "ping"
	}, 2*time.Second, 10*time.Millisecond, "callback MUST receive the slave input")

	assert.GreaterOrEqual(t, p.Stats().ReadBytes, uint64(4))
}

func TestReadIsNonBlocking(t *testing.T) {
	// GOAL: Verify Read never blocks: it reports EAGAIN while the ring is
	// empty and drains buffered input once some arrives.
	p := newTestPTY(t, ptyio.Options{})
	tty := openSlave(t, p)

	buf := make([]byte, 16)
	_, err := p.Read(buf)
	require.ErrorIs(t, err, syscall.EAGAIN, "an empty ring MUST report EAGAIN")

	_, err = tty.WriteString("data")
	require.NoError(t, err)

	var got []byte
	require.Eventually(t, func() bool {
		n, err := p.Read(buf)
		if err != nil {
			return false
		}
		got = append(got, buf[:n]...)
		return string(got) == "data"
	}, 2*time.Second, 10*time.Millisecond, "buffered input MUST come out of Read")
}

func TestCallbackReplacesPolling(t *testing.T) {
	// GOAL: Verify data buffered before a callback registers is delivered
	// right after registration instead of waiting for fresh input.
	p := newTestPTY(t, ptyio.Options{})
	tty := openSlave(t, p)

	_, err := tty.WriteString("early")
	require.NoError(t, err)

	// Let the read loop buffer the input first.
	require.Eventually(t, func() bool {
		return p.Stats().ReadQueueLen > 0
	}, 2*time.Second, 10*time.Millisecond)

	var mu sync.Mutex
	var got []byte
	p.SetReadCallback(func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, data...)
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(got) == "early"
	}, 2*time.Second, 10*time.Millisecond, "registration MUST flush already-buffered input")
}

func TestCallbackPanicUnregisters(t *testing.T) {
	// GOAL: Verify a panicking callback is unregistered and reported once
	// instead of killing the dispatcher, and later input stays readable.
	errCh := make(chan error, 1)
	p := newTestPTY(t, ptyio.Options{
		OnError: func(err error) { errCh <- err },
	})
	tty := openSlave(t, p)

	p.SetReadCallback(func([]byte) { panic("boom") })

	_, err := tty.WriteString("x")
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.Contains(t, err.Error(), "read callback panic")
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for the error callback")
	}

	_, err = tty.WriteString("later")
	require.NoError(t, err)

	buf := make([]byte, 16)
	var got []byte
	require.Eventually(t, func() bool {
		n, err := p.Read(buf)
		if err != nil {
			return false
		}
		got = append(got, buf[:n]...)
		return string(got) == "later"
	}, 2*time.Second, 10*time.Millisecond, "input after the panic MUST stay readable")
}

func TestCloseRejectsIO(t *testing.T) {
	// GOAL: Verify Close is idempotent and subsequent I/O is refused.
	p := newTestPTY(t, ptyio.Options{})
	name := p.TTYName()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "second Close MUST be a no-op")

	_, err := p.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)

	_, err = p.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrClosed)

	assert.Equal(t, name, p.TTYName(), "the device path MUST survive Close for logging")
	assert.NotPanics(t, func() { p.SetReadCallback(nil) })
}

func TestStatsReportCapacities(t *testing.T) {
	// GOAL: Verify the ring capacities configured at creation show up in
	// the stats snapshot.
	p := newTestPTY(t, ptyio.Options{ReadCap: 256, WriteCap: 128})

	stats := p.Stats()
	assert.Equal(t, 256, stats.ReadQueueCap)
	assert.Equal(t, 128, stats.WriteQueueCap)
	assert.Zero(t, stats.DroppedReadBytes)
	assert.Zero(t, stats.DroppedWriteBytes)
}

func TestRejectsBadCapacities(t *testing.T) {
	// GOAL: Verify zero or negative ring capacities are rejected.
	_, err := ptyio.New(ptyio.Options{ReadCap: 0, WriteCap: 64})
	require.Error(t, err)

	_, err = ptyio.New(ptyio.Options{ReadCap: 64, WriteCap: -1})
	require.Error(t, err)
}

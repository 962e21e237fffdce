package script

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"

	"github.com/srg/bluart/internal/groutine"
)

// maxCollectorBuffer guards against an accidental huge ring allocation.
const maxCollectorBuffer uint32 = 1024 * 1024

// CollectorMetrics counts what moved through a Collector. All fields are
// read and written atomically.
type CollectorMetrics struct {
	Collected   int64
	Overwritten int64
}

// Collector moves script output records off the engine's capture stream
// into an overwrite-oldest ring, so a script that prints faster than the
// caller consumes loses the oldest lines instead of blocking the Lua
// state.
type Collector struct {
	input   <-chan OutputRecord
	buffer  mpmc.RichOverlappedRingBuffer[OutputRecord]
	done    chan struct{}
	running atomic.Bool

	collected   atomic.Int64
	overwritten atomic.Int64
}

// NewCollector creates a collector over the given capture stream.
func NewCollector(input <-chan OutputRecord, bufferSize uint32) (*Collector, error) {
	if input == nil {
		return nil, fmt.Errorf("output channel cannot be nil")
	}
	if bufferSize == 0 || bufferSize > maxCollectorBuffer {
		return nil, fmt.Errorf("buffer size must be within (0, %d], got %d", maxCollectorBuffer, bufferSize)
	}
	return &Collector{
		input:  input,
		buffer: mpmc.NewOverlappedRingBuffer[OutputRecord](bufferSize),
		done:   make(chan struct{}),
	}, nil
}

// Start begins collecting in the background. The collector stops when the
// input stream closes.
func (c *Collector) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("collector already started")
	}
	groutine.Go(nil, "script-output-collector", func(context.Context) {
		defer close(c.done)
		for rec := range c.input {
			overwrites, err := c.buffer.EnqueueM(rec)
			if err != nil {
				// The overlapped ring never rejects an enqueue; treat a
				// failure as corruption and stop collecting.
				return
			}
			c.collected.Add(1)
			c.overwritten.Add(int64(overwrites))
		}
	})
	return nil
}

// Wait blocks until the input stream has closed and every record is in
// the ring.
func (c *Collector) Wait() {
	<-c.done
}

// Metrics returns a snapshot of the counters.
func (c *Collector) Metrics() CollectorMetrics {
	return CollectorMetrics{
		Collected:   c.collected.Load(),
		Overwritten: c.overwritten.Load(),
	}
}

// Drain empties the ring into consume, oldest first. It does not wait for
// the input stream; callers drain after Wait, or periodically while the
// script runs.
func (c *Collector) Drain(consume func(OutputRecord)) error {
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			return fmt.Errorf("buffer dequeue error: %w", err)
		}
		consume(rec)
	}
	return nil
}

// DrainText drains the ring and concatenates the stdout records into one
// string, which is what tests and one-shot callers want.
func (c *Collector) DrainText() (string, error) {
	var sb strings.Builder
	err := c.Drain(func(rec OutputRecord) {
		if rec.Source == "stdout" {
			sb.WriteString(rec.Content)
		}
	})
	return sb.String(), err
}

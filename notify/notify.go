// Package notify deduplicates and debounces engine status events before
// they reach a UI or update feed. Repeated identical events within a
// category are throttled to one per debounce window; a change of value
// always passes immediately, so state transitions are never delayed.
//
// The filter sits between the engine's broadcast streams and their
// consumers. It is never installed on the command response path: response
// correlation needs every notification, filtered or not.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/bluart/internal/groutine"
	"github.com/srg/bluart/internal/ringchan"
)

// eventBuffer sizes the output stream of Wrap.
const eventBuffer = 64

// Event is one status event flowing through the filter. Category groups
// events that compete for the same debounce window; Value is the compared
// payload.
type Event struct {
	Category string    `json:"category"`
	Value    string    `json:"value"`
	At       time.Time `json:"at"`
}

// Config tunes a Filter.
type Config struct {
	// Debounce is the minimum interval between identical emissions within
	// one category.
	Debounce time.Duration `default:"750ms"`
}

// categoryState is the per-category memory: the last emitted value and
// when it went out.
type categoryState struct {
	mu        sync.Mutex
	lastValue string
	lastAt    time.Time
	seen      bool
}

// Filter suppresses duplicate events per category. An event passes iff its
// value differs from the last emitted value for its category, or the
// debounce interval has elapsed since the last emission. Safe for
// concurrent use from any number of producers.
type Filter struct {
	cfg    Config
	logger *logrus.Logger

	states *hashmap.Map[string, *categoryState]

	passed     int64
	suppressed int64
}

// NewFilter creates a Filter. A nil logger logs to a fresh logrus instance.
func NewFilter(cfg Config, logger *logrus.Logger) *Filter {
	defaults.SetDefaults(&cfg)
	if logger == nil {
		logger = logrus.New()
	}
	return &Filter{
		cfg:    cfg,
		logger: logger,
		states: hashmap.New[string, *categoryState](),
	}
}

// Offer presents an event to the filter and reports whether it should be
// emitted. An accepted event updates the category's memory; a suppressed
// one leaves it untouched, so the window is measured from the last
// emission, not the last attempt.
func (f *Filter) Offer(category, value string) bool {
	state, ok := f.states.Get(category)
	if !ok {
		state, _ = f.states.GetOrInsert(category, &categoryState{})
	}

	now := time.Now()

	state.mu.Lock()
	pass := !state.seen || value != state.lastValue || now.Sub(state.lastAt) >= f.cfg.Debounce
	if pass {
		state.seen = true
		state.lastValue = value
		state.lastAt = now
	}
	state.mu.Unlock()

	if pass {
		atomic.AddInt64(&f.passed, 1)
	} else {
		atomic.AddInt64(&f.suppressed, 1)
		f.logger.WithFields(logrus.Fields{
			"category": category,
			"value":    value,
		}).Trace("Suppressed duplicate event")
	}
	return pass
}

// Wrap filters an event stream. Events that pass Offer are forwarded on
// the returned channel, which closes when in closes. Forwarding never
// blocks the producer: a stalled consumer loses the oldest filtered
// events, not the engine.
func (f *Filter) Wrap(in <-chan Event) <-chan Event {
	out := ringchan.New[Event](eventBuffer)
	groutine.Go(nil, "notify-filter", func(context.Context) {
		defer out.Close()
		for ev := range in {
			if f.Offer(ev.Category, ev.Value) {
				out.Send(ev)
			}
		}
	})
	return out.C()
}

// Stats reports how many events passed and how many were suppressed.
func (f *Filter) Stats() (passed, suppressed int64) {
	return atomic.LoadInt64(&f.passed), atomic.LoadInt64(&f.suppressed)
}

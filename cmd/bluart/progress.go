package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter paints a single updating status line with elapsed or
// remaining seconds. It is single-use: Start once, Stop once.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	stopPhases map[string]struct{}
	countdown  time.Duration // 0 means count up

	mu    sync.Mutex
	phase string

	startTime time.Time
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a printer that shows elapsed time. Phases
// listed in stopPhases shut the printer down when reported via Callback.
func NewProgressPrinter(prefix, phase string, stopPhases ...string) *ProgressPrinter {
	return newPrinter(prefix, phase, 0, stopPhases)
}

// NewCountdownProgressPrinter creates a printer that counts down from
// duration, for phases with a known deadline such as a timed scan.
func NewCountdownProgressPrinter(prefix, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	return newPrinter(prefix, phase, duration, stopPhases)
}

func newPrinter(prefix, phase string, countdown time.Duration, stopPhases []string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	return &ProgressPrinter{
		out:        os.Stderr,
		prefix:     prefix,
		phase:      phase,
		stopPhases: stopSet,
		countdown:  countdown,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins painting in a background goroutine.
func (p *ProgressPrinter) Start() {
	p.startTime = time.Now()
	p.print(p.currentPhase(), -1)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				phase := p.currentPhase()
				if _, stop := p.stopPhases[phase]; stop {
					return
				}
				p.print(phase, p.seconds())
			}
		}
	}()
}

// Callback returns a phase sink suitable for session.Run, registry.Scan
// and bridge.Run. Reporting a stop phase stops the printer.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.mu.Lock()
		p.phase = phase
		p.mu.Unlock()
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop clears the status line. Safe to call multiple times and from
// multiple goroutines.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		<-p.done
		fmt.Fprint(p.out, clearLineSequence)
	})
}

func (p *ProgressPrinter) currentPhase() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// seconds returns the elapsed or remaining whole seconds, negative while
// nothing useful can be shown yet.
func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startTime)
	if p.countdown == 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.countdown - elapsed
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds() + 0.5) // round to the nearest second
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

package script

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bluart/registry"
	"github.com/srg/bluart/session"
)

// drainInterval is how often buffered script output is flushed to the
// writers while the script runs.
const drainInterval = 50 * time.Millisecond

// defaultCollectorBuffer is the output ring capacity in records.
const defaultCollectorBuffer uint32 = 1024

// Options configures a script run.
type Options struct {
	Logger  *logrus.Logger
	Session *session.Options
	Scan    *registry.ScanOptions

	// Stdout and Stderr receive the script's print output and error
	// reports. Nil discards the respective stream.
	Stdout io.Writer
	Stderr io.Writer

	// Args become the script's arg[] table.
	Args map[string]string

	// BufferSize is the output ring capacity in records, 0 for the
	// default.
	BufferSize uint32
}

// RunFile executes the Lua script at path against the session engine.
func RunFile(ctx context.Context, path string, opts *Options) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return RunScript(ctx, string(content), path, opts)
}

// RunScript executes script source against the session engine. name is
// used in error reports.
func RunScript(ctx context.Context, source, name string, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	engine := NewEngine(logger)
	defer engine.Close()

	bufSize := opts.BufferSize
	if bufSize == 0 {
		bufSize = defaultCollectorBuffer
	}
	collector, err := NewCollector(engine.Output(), bufSize)
	if err != nil {
		return err
	}
	if err := collector.Start(); err != nil {
		return err
	}

	// The drainer owns the ring from here on: it flushes while the script
	// runs and finishes with whatever is left after the capture stream
	// closes.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		ticker := time.NewTicker(drainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = collector.Drain(func(rec OutputRecord) { writeRecord(opts, rec) })
			case <-collector.done:
				_ = collector.Drain(func(rec OutputRecord) { writeRecord(opts, rec) })
				return
			}
		}
	}()

	api := NewAPI(ctx, engine, opts.Session, opts.Scan, logger)
	defer api.Close()

	if err := engine.Load(argPrelude(opts.Args)+source, name); err != nil {
		engine.Close()
		<-drained
		return err
	}

	logger.WithField("script", name).Debug("Starting script execution")
	execErr := engine.Execute()

	// Sessions first so their teardown cannot outlive the engine, then the
	// engine so the capture stream closes and the drainer finishes.
	api.Close()
	engine.Close()
	<-drained

	metrics := collector.Metrics()
	logger.WithFields(logrus.Fields{
		"script":      name,
		"records":     metrics.Collected,
		"overwritten": metrics.Overwritten,
	}).Debug("Script execution completed")

	if execErr != nil {
		return fmt.Errorf("failed to execute script: %w", execErr)
	}
	return nil
}

// writeRecord routes one output record to the right writer.
func writeRecord(opts *Options, rec OutputRecord) {
	switch rec.Source {
	case "stderr":
		if opts.Stderr != nil {
			_, _ = io.WriteString(opts.Stderr, rec.Content)
		}
	default:
		if opts.Stdout != nil {
			_, _ = io.WriteString(opts.Stdout, rec.Content)
		}
	}
}

// argPrelude renders the arg[] table initialization prepended to scripts
// that receive arguments.
func argPrelude(args map[string]string) string {
	if len(args) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("arg = {}\n")
	for key, value := range args {
		fmt.Fprintf(&sb, "arg[%q] = %q\n", key, value)
	}
	return sb.String()
}

package session

import (
	"context"

	"github.com/sirupsen/logrus"
)

// RunCallback receives the ready session and produces the result.
type RunCallback[R any] func(s *Session) (R, error)

// ProgressCallback receives coarse phase names while Run works.
type ProgressCallback func(phase string)

// Run connects to the peripheral at address, hands the ready session to
// the callback and tears everything down afterwards. It is the one-shot
// shape most commands want: connect, do the work, disconnect.
func Run[R any](ctx context.Context, address string, opts *Options, logger *logrus.Logger, progress ProgressCallback, callback RunCallback[R]) (R, error) {
	var zero R

	if progress == nil {
		progress = func(string) {} // No-op callback
	}

	s := New(opts, logger)
	defer s.Close()

	progress("Connecting")
	if err := s.Connect(ctx, address); err != nil {
		progress("Failed")
		return zero, err
	}
	progress("Connected")

	progress("Processing results")
	return callback(s)
}

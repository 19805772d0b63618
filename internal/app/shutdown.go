package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// closeFunc releases one component.
type closeFunc func(ctx context.Context) error

type namedCloser struct {
	name  string
	close closeFunc
}

// shutdown closes registered components in reverse registration order.
// Components are closed one at a time: the event bus has to drain into the
// journal before storage goes away.
type shutdown struct {
	mu      sync.Mutex
	closers []namedCloser
	done    bool
	logger  *zap.Logger
}

func newShutdown(logger *zap.Logger) *shutdown {
	return &shutdown{logger: logger}
}

func (s *shutdown) add(name string, fn closeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, namedCloser{name: name, close: fn})
	s.logger.Debug("Registered component for shutdown", zap.String("component", name))
}

// run closes every component and joins their errors. A component that does
// not finish before ctx expires is reported and skipped. Calls after the
// first are no-ops.
func (s *shutdown) run(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	closers := s.closers
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]

		done := make(chan error, 1)
		go func() { done <- c.close(ctx) }()

		select {
		case err := <-done:
			if err != nil {
				s.logger.Error("Failed to close component",
					zap.String("component", c.name),
					zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
				continue
			}
			s.logger.Debug("Component closed", zap.String("component", c.name))
		case <-ctx.Done():
			s.logger.Error("Shutdown timeout for component", zap.String("component", c.name))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, ctx.Err()))
		}
	}
	return errors.Join(errs...)
}

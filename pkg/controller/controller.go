package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxcode/core/pkg/events"
)

// step is one stage of ordered initialization. start returns a Disposable
// to register for reverse-order teardown, or an error to abort and unwind
// every step started so far.
type step struct {
	name  string
	start func(ctx context.Context) (events.Disposable, error)
}

// Controller implements the Extension Controller (C10): it starts the
// steps its caller registers, strictly in AddStep order, and guarantees
// reverse-order, idempotent teardown, per §4.10. It does not choose the
// components or their order itself; the caller does that by the order of
// its AddStep calls.
type Controller struct {
	steps      []step
	disposal   *events.DisposalOrchestrator
	started    bool
	disposed   bool
}

// New builds an empty Controller. Steps are added with AddStep in the
// order they must initialize.
func New() *Controller {
	return &Controller{disposal: events.NewDisposalOrchestrator()}
}

// AddStep registers a named initialization step. Steps run in the order
// they were added and dispose in the reverse order: each step's priority
// number decreases with its position, so later-added steps tear down
// first.
func (c *Controller) AddStep(name string, start func(ctx context.Context) (events.Disposable, error)) {
	c.steps = append(c.steps, step{name: name, start: start})
}

// Start runs every registered step in order. If any step fails, every
// previously started step is disposed in reverse order before Start
// returns the aggregated error.
func (c *Controller) Start(ctx context.Context) error {
	if c.started {
		return fmt.Errorf("controller: already started")
	}
	c.started = true

	for i, s := range c.steps {
		disposable, err := s.start(ctx)
		if err != nil {
			unwindErr := c.disposal.Dispose()
			if unwindErr != nil {
				return errors.Join(fmt.Errorf("controller: step %q (%d/%d) failed: %w", s.name, i+1, len(c.steps), err), unwindErr)
			}
			return fmt.Errorf("controller: step %q (%d/%d) failed: %w", s.name, i+1, len(c.steps), err)
		}
		if disposable != nil {
			// DisposalOrchestrator tears down in ascending priority order,
			// so the last-started step needs the lowest number to unwind
			// first: priority = len(steps) - i maps step 0 to the highest
			// number (disposed last) and the final step to 1 (disposed
			// first).
			c.disposal.Register(s.name, len(c.steps)-i, disposable)
		}
	}
	return nil
}

// Dispose tears down every started step in reverse order. Idempotent:
// a second call is a no-op, satisfying R1.
func (c *Controller) Dispose() error {
	if c.disposed {
		return nil
	}
	c.disposed = true
	return c.disposal.Dispose()
}

// StepNames returns the registered step names in initialization order,
// mainly for diagnostics and tests.
func (c *Controller) StepNames() []string {
	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.name
	}
	return names
}

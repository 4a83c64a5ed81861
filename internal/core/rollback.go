package core

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type releaseStep struct {
	name string
	fn   func() error
}

// releaseStack collects the release actions of subsystems acquired during
// Init so a fatal step can undo them in reverse order.
type releaseStack struct {
	steps []releaseStep
}

func (s *releaseStack) push(name string, fn func() error) {
	s.steps = append(s.steps, releaseStep{name: name, fn: fn})
}

// unwind runs every action, last pushed first, and empties the stack.
// Failures are logged and combined but never stop the remaining steps.
func (s *releaseStack) unwind(logger *zap.Logger) error {
	var errs error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.fn(); err != nil {
			logger.Error("rollback step failed", zap.String("step", step.name), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		logger.Debug("rolled back", zap.String("step", step.name))
	}
	s.steps = nil
	return errs
}

// release drops the actions without running them once Init has succeeded.
func (s *releaseStack) release() {
	s.steps = nil
}

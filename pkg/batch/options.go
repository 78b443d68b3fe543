package batch

import (
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/stepflow/pkg/ports"
)

type options struct {
	logger      *zap.Logger
	observer    ports.Observer
	stepTimeout time.Duration
	batchID     string
}

// Option configures an Orchestrator.
type Option func(*options)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver registers an observer for batch lifecycle callbacks.
func WithObserver(observer ports.Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithStepTimeout fails any step that has not reported within d. The step's
// context is canceled and its dependents cascade. Zero disables the deadline.
func WithStepTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stepTimeout = d
		}
	}
}

// WithBatchID fixes the id used in logs and observer callbacks. By default
// every batch gets a fresh UUID.
func WithBatchID(id string) Option {
	return func(o *options) {
		o.batchID = id
	}
}

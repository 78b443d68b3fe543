package ports

import (
	"context"
	"time"

	"github.com/aescanero/stepflow/pkg/domain"
)

// Observer receives batch lifecycle callbacks. Callbacks run on the batch's
// control goroutine, so implementations must be fast and must not block.
type Observer interface {
	OnBatchStarted(ctx context.Context, batchID string, steps int)
	OnValidationFailed(ctx context.Context, batchID string, err *domain.ValidationError)
	OnStepDispatched(ctx context.Context, batchID string, id domain.StepID)

	// OnStepFinished is called once per step. cascaded is true for failures
	// synthesized because a dependency failed; such steps never ran.
	OnStepFinished(ctx context.Context, batchID string, id domain.StepID, outcome domain.Outcome, d time.Duration, cascaded bool)

	OnBatchFinished(ctx context.Context, batchID string, result *domain.BatchResult, d time.Duration)
}

// NoopObserver ignores every callback.
type NoopObserver struct{}

func (NoopObserver) OnBatchStarted(ctx context.Context, batchID string, steps int) {}
func (NoopObserver) OnValidationFailed(ctx context.Context, batchID string, err *domain.ValidationError) {
}
func (NoopObserver) OnStepDispatched(ctx context.Context, batchID string, id domain.StepID) {}
func (NoopObserver) OnStepFinished(ctx context.Context, batchID string, id domain.StepID, outcome domain.Outcome, d time.Duration, cascaded bool) {
}
func (NoopObserver) OnBatchFinished(ctx context.Context, batchID string, result *domain.BatchResult, d time.Duration) {
}

// CompositeObserver fans callbacks out to several observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver combines the non-nil observers in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	switch len(filtered) {
	case 0:
		return NoopObserver{}
	case 1:
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnBatchStarted(ctx context.Context, batchID string, steps int) {
	for _, o := range c.observers {
		o.OnBatchStarted(ctx, batchID, steps)
	}
}

func (c *CompositeObserver) OnValidationFailed(ctx context.Context, batchID string, err *domain.ValidationError) {
	for _, o := range c.observers {
		o.OnValidationFailed(ctx, batchID, err)
	}
}

func (c *CompositeObserver) OnStepDispatched(ctx context.Context, batchID string, id domain.StepID) {
	for _, o := range c.observers {
		o.OnStepDispatched(ctx, batchID, id)
	}
}

func (c *CompositeObserver) OnStepFinished(ctx context.Context, batchID string, id domain.StepID, outcome domain.Outcome, d time.Duration, cascaded bool) {
	for _, o := range c.observers {
		o.OnStepFinished(ctx, batchID, id, outcome, d, cascaded)
	}
}

func (c *CompositeObserver) OnBatchFinished(ctx context.Context, batchID string, result *domain.BatchResult, d time.Duration) {
	for _, o := range c.observers {
		o.OnBatchFinished(ctx, batchID, result, d)
	}
}

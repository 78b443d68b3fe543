package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// Callback receives the aggregate result of a batch.
type Callback func(result *domain.BatchResult)

// ProgressFunc receives each step outcome as it is recorded, including
// failures synthesized for dependents of a failed step.
type ProgressFunc func(id domain.StepID, outcome domain.Outcome)

// Orchestrator runs one batch of steps at a time. Steps are single use: after
// a batch finishes, load fresh step instances before starting again.
type Orchestrator struct {
	opts options

	mu      sync.Mutex
	state   State
	loaded  []ports.Step
	index   map[domain.StepID]ports.Step
	batchID string
}

// New creates an idle orchestrator.
func New(opts ...Option) *Orchestrator {
	o := options{
		logger:   zap.NewNop(),
		observer: ports.NoopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Orchestrator{
		opts:  o,
		index: make(map[domain.StepID]ports.Step),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// BatchID returns the id of the current or most recent batch.
func (o *Orchestrator) BatchID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.batchID
}

// Load adds steps to the next batch. It fails without loading anything when a
// batch is in progress, a step is nil, or an id repeats.
func (o *Orchestrator) Load(steps ...ports.Step) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Active() {
		return domain.ErrBatchInProgress
	}

	seen := make(map[domain.StepID]bool, len(steps))
	for i, s := range steps {
		if s == nil {
			return fmt.Errorf("step %d is nil", i)
		}
		id := s.ID()
		if _, exists := o.index[id]; exists || seen[id] {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateStep, id)
		}
		seen[id] = true
	}

	for _, s := range steps {
		o.loaded = append(o.loaded, s)
		o.index[s.ID()] = s
	}
	o.state = StateLoading
	return nil
}

// Start validates and executes the loaded steps. It returns
// ErrBatchInProgress if another batch is active; otherwise the outcome is
// delivered to cb exactly once. cb runs before Start returns when the batch
// is empty or fails validation, and on the batch's control goroutine
// otherwise.
func (o *Orchestrator) Start(ctx context.Context, cb Callback) error {
	return o.StartWithProgress(ctx, nil, cb)
}

// StartWithProgress is Start with an additional per-step progress callback.
// progress runs on the control goroutine and must not block.
func (o *Orchestrator) StartWithProgress(ctx context.Context, progress ProgressFunc, cb Callback) error {
	o.mu.Lock()
	if o.state.Active() {
		o.mu.Unlock()
		return domain.ErrBatchInProgress
	}
	order, index := o.loaded, o.index
	o.loaded, o.index = nil, make(map[domain.StepID]ports.Step)
	o.batchID = o.opts.batchID
	if o.batchID == "" {
		o.batchID = uuid.NewString()
	}
	batchID := o.batchID
	o.state = StateValidating
	o.mu.Unlock()

	if cb == nil {
		cb = func(*domain.BatchResult) {}
	}
	logger := o.opts.logger.With(zap.String("batch_id", batchID))

	if verr := validate(order, index); verr != nil {
		o.setState(StateValidationFailed)
		logger.Warn("batch rejected", zap.String("kind", string(verr.Kind)), zap.Error(verr))
		o.opts.observer.OnValidationFailed(ctx, batchID, verr)
		cb(domain.NewValidationFailure(verr))
		return nil
	}

	if len(order) == 0 {
		o.setState(StateFinished)
		logger.Info("batch finished", zap.Bool("success", true), zap.Int("steps", 0))
		result := &domain.BatchResult{Success: true, Outcomes: map[domain.StepID]domain.Outcome{}}
		o.opts.observer.OnBatchFinished(ctx, batchID, result, 0)
		cb(result)
		return nil
	}

	o.setState(StateRunning)
	r := newRun(ctx, o, batchID, logger, order, progress, cb)
	logger.Info("batch started", zap.Int("steps", len(order)))
	o.opts.observer.OnBatchStarted(ctx, batchID, len(order))
	go r.loop()
	return nil
}

// Run starts the loaded batch and blocks until it finishes or ctx is done.
// The context is also handed to every step.
func (o *Orchestrator) Run(ctx context.Context) (*domain.BatchResult, error) {
	results := make(chan *domain.BatchResult, 1)
	if err := o.Start(ctx, func(r *domain.BatchResult) { results <- r }); err != nil {
		return nil, err
	}
	select {
	case r := <-results:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

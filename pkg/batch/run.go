package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
	"github.com/aescanero/stepflow/pkg/step"
)

type completion struct {
	id      domain.StepID
	outcome domain.Outcome
}

// run is the state of one executing batch. Everything below the channels is
// owned by the control goroutine started in loop.
type run struct {
	orch     *Orchestrator
	ctx      context.Context
	cancel   context.CancelFunc
	id       string
	logger   *zap.Logger
	observer ports.Observer
	progress ProgressFunc
	callback Callback
	timeout  time.Duration

	completions chan completion
	stopped     chan struct{}

	order     []ports.Step
	remaining map[domain.StepID]ports.Step
	executing map[domain.StepID]struct{}
	failed    map[domain.StepID]struct{}
	outcomes  map[domain.StepID]domain.Outcome
	started   map[domain.StepID]time.Time
	cancels   map[domain.StepID]context.CancelFunc
	timers    map[domain.StepID]*time.Timer
	values    *step.ValueStore
	startedAt time.Time
	finished  bool
}

func newRun(ctx context.Context, o *Orchestrator, id string, logger *zap.Logger, order []ports.Step, progress ProgressFunc, cb Callback) *run {
	ctx, cancel := context.WithCancel(ctx)
	r := &run{
		orch:        o,
		ctx:         ctx,
		cancel:      cancel,
		id:          id,
		logger:      logger,
		observer:    o.opts.observer,
		progress:    progress,
		callback:    cb,
		timeout:     o.opts.stepTimeout,
		completions: make(chan completion),
		stopped:     make(chan struct{}),
		order:       order,
		remaining:   make(map[domain.StepID]ports.Step, len(order)),
		executing:   make(map[domain.StepID]struct{}),
		failed:      make(map[domain.StepID]struct{}),
		outcomes:    make(map[domain.StepID]domain.Outcome, len(order)),
		started:     make(map[domain.StepID]time.Time),
		cancels:     make(map[domain.StepID]context.CancelFunc),
		timers:      make(map[domain.StepID]*time.Timer),
		values:      step.NewValueStore(),
		startedAt:   time.Now(),
	}
	for _, s := range order {
		r.remaining[s.ID()] = s
	}
	return r
}

// post is the ports.Done handed to steps. It may be called from any goroutine;
// reports arriving after the batch finished are dropped.
func (r *run) post(id domain.StepID, outcome domain.Outcome) {
	select {
	case r.completions <- completion{id: id, outcome: outcome}:
	case <-r.stopped:
		r.logger.Warn("dropping step report after batch finished",
			zap.String("step", id.String()),
			zap.Stringer("outcome", outcome))
	}
}

func (r *run) loop() {
	r.dispatchReady()
	for !r.finished {
		c := <-r.completions
		if _, ok := r.executing[c.id]; !ok {
			r.logger.Warn("ignoring report from step that is not executing",
				zap.String("step", c.id.String()),
				zap.Stringer("outcome", c.outcome))
			continue
		}
		r.complete(c.id, c.outcome, false)
		if !r.finished {
			r.dispatchReady()
		}
	}
}

// complete records a finished step and propagates it to dependents. Failed
// dependencies are cascaded recursively without running the dependent.
func (r *run) complete(id domain.StepID, outcome domain.Outcome, cascaded bool) {
	r.outcomes[id] = outcome
	if outcome.Succeeded() {
		r.values.Put(id, outcome.Value())
	} else {
		r.failed[id] = struct{}{}
	}

	var elapsed time.Duration
	if t, ok := r.started[id]; ok {
		elapsed = time.Since(t)
	}
	r.release(id)
	delete(r.remaining, id)
	delete(r.executing, id)

	r.logStep(id, outcome, elapsed, cascaded)
	r.observer.OnStepFinished(r.ctx, r.id, id, outcome, elapsed, cascaded)
	if r.progress != nil {
		r.progress(id, outcome)
	}

	if len(r.remaining) == 0 {
		r.finalize()
		return
	}

	for _, d := range r.order {
		did := d.ID()
		if _, ok := r.remaining[did]; !ok || !d.DependsOn(id) {
			continue
		}
		if outcome.Succeeded() {
			d.DependencySatisfied(id)
			continue
		}
		r.complete(did, domain.Failure(fmt.Sprintf("dependent step %s failed", id), domain.ErrDependencyFailed), true)
		if r.finished {
			return
		}
	}
}

// dispatchReady runs every remaining step with no unfinished dependencies, in
// load order. Once the batch context is done, ready steps fail instead.
func (r *run) dispatchReady() {
	for _, s := range r.order {
		if r.finished {
			return
		}
		id := s.ID()
		if _, ok := r.remaining[id]; !ok {
			continue
		}
		if _, ok := r.executing[id]; ok || len(s.Dependencies()) > 0 {
			continue
		}

		if err := r.ctx.Err(); err != nil {
			r.complete(id, domain.Failure("batch canceled", err), false)
			continue
		}
		r.dispatch(s)
	}
}

func (r *run) dispatch(s ports.Step) {
	id := s.ID()
	stepCtx, cancel := context.WithCancel(r.ctx)

	r.executing[id] = struct{}{}
	r.started[id] = time.Now()
	r.cancels[id] = cancel
	if r.timeout > 0 {
		timeout := r.timeout
		r.timers[id] = time.AfterFunc(timeout, func() {
			cancel()
			r.post(id, domain.Fail(fmt.Errorf("%w after %s", domain.ErrStepTimeout, timeout)))
		})
	}

	r.logger.Debug("step dispatched", zap.String("step", id.String()))
	r.observer.OnStepDispatched(r.ctx, r.id, id)
	go s.Run(stepCtx, r.values, r.post)
}

func (r *run) release(id domain.StepID) {
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	if cancel, ok := r.cancels[id]; ok {
		cancel()
		delete(r.cancels, id)
	}
	delete(r.started, id)
}

func (r *run) logStep(id domain.StepID, outcome domain.Outcome, elapsed time.Duration, cascaded bool) {
	if outcome.Succeeded() {
		r.logger.Debug("step succeeded",
			zap.String("step", id.String()),
			zap.Duration("duration", elapsed))
		return
	}
	r.logger.Warn("step failed",
		zap.String("step", id.String()),
		zap.String("message", outcome.Message()),
		zap.Bool("cascaded", cascaded),
		zap.Duration("duration", elapsed),
		zap.Error(outcome.Cause()))
}

func (r *run) finalize() {
	r.finished = true

	result := &domain.BatchResult{
		Success:  len(r.failed) == 0,
		Outcomes: r.outcomes,
	}

	for id := range r.cancels {
		r.release(id)
	}
	r.values.Clear()
	clear(r.remaining)
	clear(r.executing)
	clear(r.failed)
	r.outcomes = nil

	elapsed := time.Since(r.startedAt)
	r.logger.Info("batch finished",
		zap.Bool("success", result.Success),
		zap.Int("steps", len(result.Outcomes)),
		zap.Int("failed", len(result.FailedSteps())),
		zap.Duration("duration", elapsed))
	r.observer.OnBatchFinished(r.ctx, r.id, result, elapsed)

	r.orch.setState(StateFinished)
	close(r.stopped)
	r.cancel()
	r.callback(result)
}

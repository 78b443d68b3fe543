package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
	"github.com/aescanero/stepflow/pkg/step"
)

func value(v any) step.Func {
	return func(ctx context.Context, values ports.ValueReader) (any, error) {
		return v, nil
	}
}

func failing(msg string) step.Func {
	return func(ctx context.Context, values ports.ValueReader) (any, error) {
		return nil, errors.New(msg)
	}
}

// counted wraps fn and counts invocations.
func counted(calls *atomic.Int32, fn step.Func) step.Func {
	return func(ctx context.Context, values ports.ValueReader) (any, error) {
		calls.Add(1)
		return fn(ctx, values)
	}
}

func runBatch(t *testing.T, o *Orchestrator, steps ...ports.Step) *domain.BatchResult {
	t.Helper()
	require.NoError(t, o.Load(steps...))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := o.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestOrchestrator_PropagatesValues(t *testing.T) {
	o := New(WithLogger(zaptest.NewLogger(t)))

	var seen any
	result := runBatch(t, o,
		step.New("config", value("cfg")),
		step.New("greeting", func(ctx context.Context, values ports.ValueReader) (any, error) {
			seen, _ = values.Get("config")
			cfg, _ := step.Get[string](values, "config")
			return "hello " + cfg, nil
		}, step.Needs("config")),
		step.New("print", func(ctx context.Context, values ports.ValueReader) (any, error) {
			if _, ok := step.Get[string](values, "greeting"); !ok {
				return nil, errors.New("no greeting")
			}
			return nil, nil
		}, step.Needs("greeting")),
	)

	assert.True(t, result.Success)
	assert.Len(t, result.Outcomes, 3)
	assert.Equal(t, "cfg", seen)
	assert.Equal(t, "hello cfg", result.Outcomes["greeting"].Value())
	assert.False(t, result.Outcomes["print"].HasValue())
	assert.Nil(t, result.ValidationErr)
	assert.Equal(t, StateFinished, o.State())
}

func TestOrchestrator_CascadesFailures(t *testing.T) {
	var dependentRuns atomic.Int32
	o := New()

	result := runBatch(t, o,
		step.New("a", failing("disk full")),
		step.New("b", counted(&dependentRuns, value(1)), step.After("a")),
		step.New("c", counted(&dependentRuns, value(2)), step.Needs("b")),
		step.New("d", value("independent")),
	)

	assert.False(t, result.Success)
	assert.Len(t, result.Outcomes, 4)
	assert.Equal(t, int32(0), dependentRuns.Load())
	assert.Equal(t, []domain.StepID{"a", "b", "c"}, result.FailedSteps())
	assert.Equal(t, []domain.StepID{"d"}, result.SucceededSteps())

	assert.Equal(t, "disk full", result.Outcomes["a"].Message())
	assert.ErrorIs(t, result.Outcomes["b"].Err(), domain.ErrDependencyFailed)
	assert.Equal(t, "dependent step a failed", result.Outcomes["b"].Message())
	assert.Equal(t, "dependent step b failed", result.Outcomes["c"].Message())

	var batchErr *domain.BatchError
	require.ErrorAs(t, result.Err(), &batchErr)
	assert.Equal(t, []domain.StepID{"a", "b", "c"}, batchErr.Failed)
}

func TestOrchestrator_CircularDependency(t *testing.T) {
	var runs atomic.Int32
	o := New()

	result := runBatch(t, o,
		step.New("A", counted(&runs, value(1)), step.After("B")),
		step.New("B", counted(&runs, value(1)), step.After("C")),
		step.New("C", counted(&runs, value(1)), step.After("A")),
		step.New("free", counted(&runs, value(1))),
	)

	assert.False(t, result.Success)
	assert.Empty(t, result.Outcomes)
	require.NotNil(t, result.ValidationErr)
	assert.Equal(t, domain.ValidationCircularDependency, result.ValidationErr.Kind)
	assert.ErrorIs(t, result.Err(), domain.ErrInvalidGraph)
	for _, id := range []string{"A", "B", "C"} {
		assert.Contains(t, result.ValidationErr.Error(), id)
	}
	assert.Equal(t, []domain.StepID{"A", "B", "C", "A"}, result.ValidationErr.Chain)
	assert.Equal(t, int32(0), runs.Load())
	assert.Equal(t, StateValidationFailed, o.State())
}

func TestOrchestrator_SelfDependency(t *testing.T) {
	result := runBatch(t, New(), step.New("loop", value(1), step.After("loop")))

	require.NotNil(t, result.ValidationErr)
	assert.Equal(t, []domain.StepID{"loop", "loop"}, result.ValidationErr.Chain)
}

func TestOrchestrator_MissingDependency(t *testing.T) {
	var runs atomic.Int32
	result := runBatch(t, New(),
		step.New("B", counted(&runs, value(1))),
		step.New("A", counted(&runs, value(1)), step.After("B", "Z")),
	)

	require.NotNil(t, result.ValidationErr)
	assert.Equal(t, domain.ValidationMissingDependency, result.ValidationErr.Kind)
	assert.Equal(t, domain.StepID("Z"), result.ValidationErr.Dependency)
	assert.Equal(t, domain.StepID("A"), result.ValidationErr.Step)
	assert.Contains(t, result.ValidationErr.Error(), `"Z"`)
	assert.Contains(t, result.ValidationErr.Error(), `"A"`)
	assert.Empty(t, result.Outcomes)
	assert.Equal(t, int32(0), runs.Load())
}

func TestOrchestrator_DiamondIsNotACycle(t *testing.T) {
	result := runBatch(t, New(),
		step.New("root", value(1)),
		step.New("left", value(2), step.Needs("root")),
		step.New("right", value(3), step.Needs("root")),
		step.New("join", func(ctx context.Context, values ports.ValueReader) (any, error) {
			l, _ := step.Get[int](values, "left")
			r, _ := step.Get[int](values, "right")
			return l + r, nil
		}, step.Needs("left", "right")),
	)

	assert.True(t, result.Success)
	assert.Nil(t, result.ValidationErr)
	assert.Equal(t, 5, result.Outcomes["join"].Value())
}

func TestOrchestrator_EmptyBatch(t *testing.T) {
	o := New()
	var got *domain.BatchResult
	require.NoError(t, o.Start(context.Background(), func(r *domain.BatchResult) { got = r }))

	require.NotNil(t, got)
	assert.True(t, got.Success)
	assert.NotNil(t, got.Outcomes)
	assert.Empty(t, got.Outcomes)
	assert.Equal(t, StateFinished, o.State())
}

func TestOrchestrator_DuplicateStep(t *testing.T) {
	o := New()

	err := o.Load(step.New("a", nil), step.New("a", nil))
	assert.ErrorIs(t, err, domain.ErrDuplicateStep)

	require.NoError(t, o.Load(step.New("a", nil)))
	assert.ErrorIs(t, o.Load(step.New("b", nil), step.New("a", nil)), domain.ErrDuplicateStep)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Outcomes, 1)
}

func TestOrchestrator_RejectsConcurrentStart(t *testing.T) {
	o := New()
	gate := make(chan struct{})
	require.NoError(t, o.Load(step.New("slow", func(ctx context.Context, values ports.ValueReader) (any, error) {
		<-gate
		return "done", nil
	})))

	results := make(chan *domain.BatchResult, 1)
	require.NoError(t, o.Start(context.Background(), func(r *domain.BatchResult) { results <- r }))
	assert.Equal(t, StateRunning, o.State())

	var wg sync.WaitGroup
	var rejected atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errors.Is(o.Start(context.Background(), nil), domain.ErrBatchInProgress) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(8), rejected.Load())
	assert.ErrorIs(t, o.Load(step.New("late", nil)), domain.ErrBatchInProgress)

	close(gate)
	select {
	case r := <-results:
		assert.True(t, r.Success)
		assert.Equal(t, "done", r.Outcomes["slow"].Value())
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish")
	}
}

func TestOrchestrator_ManyConcurrentCompletions(t *testing.T) {
	const n = 300
	steps := make([]ports.Step, 0, n+1)
	ids := make([]domain.StepID, 0, n)
	for i := 0; i < n; i++ {
		id := domain.StepID(fmt.Sprintf("s%03d", i))
		ids = append(ids, id)
		delay := time.Duration(rand.Intn(3)) * time.Millisecond
		steps = append(steps, step.New(id, func(ctx context.Context, values ports.ValueReader) (any, error) {
			time.Sleep(delay)
			return i, nil
		}))
	}
	steps = append(steps, step.New("sum", func(ctx context.Context, values ports.ValueReader) (any, error) {
		total := 0
		for _, id := range ids {
			v, _ := step.Get[int](values, id)
			total += v
		}
		return total, nil
	}, step.Needs(ids...)))

	result := runBatch(t, New(), steps...)

	assert.True(t, result.Success)
	assert.Len(t, result.Outcomes, n+1)
	assert.Equal(t, n*(n-1)/2, result.Outcomes["sum"].Value())
}

func TestOrchestrator_StepTimeout(t *testing.T) {
	var dependentRuns atomic.Int32
	o := New(WithStepTimeout(50 * time.Millisecond))

	result := runBatch(t, o,
		step.New("stuck", func(ctx context.Context, values ports.ValueReader) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		step.New("after", counted(&dependentRuns, value(1)), step.After("stuck")),
		step.New("quick", value(1)),
	)

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Outcomes["stuck"].Err(), domain.ErrStepTimeout)
	assert.ErrorIs(t, result.Outcomes["after"].Err(), domain.ErrDependencyFailed)
	assert.True(t, result.Outcomes["quick"].Succeeded())
	assert.Equal(t, int32(0), dependentRuns.Load())
}

func TestOrchestrator_RestartAndReuse(t *testing.T) {
	o := New()
	reused := step.New("a", value("first"))

	first := runBatch(t, o, reused)
	assert.True(t, first.Success)
	assert.Equal(t, "first", first.Outcomes["a"].Value())

	second := runBatch(t, o, reused, step.New("b", value(2), step.After("a")))
	assert.False(t, second.Success)
	assert.ErrorIs(t, second.Outcomes["a"].Err(), domain.ErrAlreadyExecuted)
	assert.ErrorIs(t, second.Outcomes["b"].Err(), domain.ErrDependencyFailed)

	// the first batch's record is unaffected
	assert.Equal(t, "first", first.Outcomes["a"].Value())

	third := runBatch(t, o, step.New("a", value("fresh")))
	assert.True(t, third.Success)
}

type chattyStep struct {
	*step.Base
}

func (s chattyStep) Run(ctx context.Context, values ports.ValueReader, done ports.Done) {
	if err := s.Begin(values); err != nil {
		done(s.ID(), domain.Fail(err))
		return
	}
	go func() {
		done(s.ID(), domain.Success("first"))
		done(s.ID(), domain.Failure("second report", nil))
		done("never-loaded", domain.Success(1))
	}()
}

func TestOrchestrator_IgnoresExtraReports(t *testing.T) {
	result := runBatch(t, New(),
		chattyStep{Base: step.NewBase("chatty")},
		step.New("slow", func(ctx context.Context, values ports.ValueReader) (any, error) {
			time.Sleep(20 * time.Millisecond)
			return nil, nil
		}),
	)

	assert.True(t, result.Success)
	assert.Len(t, result.Outcomes, 2)
	assert.Equal(t, "first", result.Outcomes["chatty"].Value())
}

func TestOrchestrator_Progress(t *testing.T) {
	o := New()
	require.NoError(t, o.Load(
		step.New("a", failing("nope")),
		step.New("b", value(1), step.After("a")),
		step.New("c", value(1)),
	))

	var mu sync.Mutex
	seen := map[domain.StepID]int{}
	results := make(chan *domain.BatchResult, 1)
	err := o.StartWithProgress(context.Background(), func(id domain.StepID, outcome domain.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		seen[id]++
	}, func(r *domain.BatchResult) { results <- r })
	require.NoError(t, err)

	r := <-results
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[domain.StepID]int{"a": 1, "b": 1, "c": 1}, seen)
	assert.Len(t, r.Outcomes, 3)
}

func TestOrchestrator_CanceledContext(t *testing.T) {
	var runs atomic.Int32
	o := New()
	require.NoError(t, o.Load(
		step.New("a", counted(&runs, value(1))),
		step.New("b", counted(&runs, value(1)), step.After("a")),
	))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := make(chan *domain.BatchResult, 1)
	require.NoError(t, o.Start(ctx, func(r *domain.BatchResult) { results <- r }))

	r := <-results
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Outcomes["a"].Err(), context.Canceled)
	assert.ErrorIs(t, r.Outcomes["b"].Err(), domain.ErrDependencyFailed)
	assert.Equal(t, int32(0), runs.Load())
}

type recordingObserver struct {
	ports.NoopObserver
	mu         sync.Mutex
	dispatched []domain.StepID
	finished   map[domain.StepID]bool
	started    int
	results    []*domain.BatchResult
	invalid    []*domain.ValidationError
}

func (r *recordingObserver) OnBatchStarted(ctx context.Context, batchID string, steps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = steps
}

func (r *recordingObserver) OnStepDispatched(ctx context.Context, batchID string, id domain.StepID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched = append(r.dispatched, id)
}

func (r *recordingObserver) OnStepFinished(ctx context.Context, batchID string, id domain.StepID, outcome domain.Outcome, d time.Duration, cascaded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = map[domain.StepID]bool{}
	}
	r.finished[id] = cascaded
}

func (r *recordingObserver) OnBatchFinished(ctx context.Context, batchID string, result *domain.BatchResult, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recordingObserver) OnValidationFailed(ctx context.Context, batchID string, err *domain.ValidationError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalid = append(r.invalid, err)
}

func TestOrchestrator_Observer(t *testing.T) {
	obs := &recordingObserver{}
	o := New(WithObserver(obs), WithBatchID("nightly"))

	runBatch(t, o,
		step.New("a", failing("nope")),
		step.New("b", value(1), step.After("a")),
		step.New("c", value(1)),
	)
	assert.Equal(t, "nightly", o.BatchID())

	obs.mu.Lock()
	assert.Equal(t, 3, obs.started)
	assert.ElementsMatch(t, []domain.StepID{"a", "c"}, obs.dispatched)
	assert.Equal(t, map[domain.StepID]bool{"a": false, "b": true, "c": false}, obs.finished)
	assert.Len(t, obs.results, 1)
	obs.mu.Unlock()

	runBatch(t, o, step.New("x", nil, step.After("y")))
	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.invalid, 1)
	assert.Equal(t, domain.StepID("y"), obs.invalid[0].Dependency)
}

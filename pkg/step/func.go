package step

import (
	"context"
	"errors"
	"fmt"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// ErrPanic is the cause of failures produced by a panicking step function.
var ErrPanic = errors.New("step panicked")

// Func is the work performed by a FuncStep. A nil value with a nil error is a
// success without data.
type Func func(ctx context.Context, values ports.ValueReader) (any, error)

// FuncStep adapts a Func into a ports.Step.
type FuncStep struct {
	*Base
	fn       Func
	executor ports.Executor
}

// Option configures a FuncStep.
type Option func(*FuncStep)

// After declares ordering-only dependencies.
func After(ids ...domain.StepID) Option {
	return func(s *FuncStep) {
		for _, id := range ids {
			s.DependOn(id, false)
		}
	}
}

// Needs declares dependencies whose values the step reads.
func Needs(ids ...domain.StepID) Option {
	return func(s *FuncStep) {
		for _, id := range ids {
			s.DependOn(id, true)
		}
	}
}

// WithExecutor runs the function on e instead of a fresh goroutine.
func WithExecutor(e ports.Executor) Option {
	return func(s *FuncStep) {
		if e != nil {
			s.executor = e
		}
	}
}

// New creates a step running fn.
func New(id domain.StepID, fn Func, opts ...Option) *FuncStep {
	s := &FuncStep{
		Base:     NewBase(id),
		fn:       fn,
		executor: ports.GoExecutor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run checks the run guards, then executes the function asynchronously and
// reports its outcome through done.
func (s *FuncStep) Run(ctx context.Context, values ports.ValueReader, done ports.Done) {
	if err := s.Begin(values); err != nil {
		done(s.ID(), domain.Fail(err))
		return
	}

	err := s.executor.Execute(func() {
		done(s.ID(), s.call(ctx, values))
	})
	if err != nil {
		done(s.ID(), domain.Failure("executor rejected step", err))
	}
}

func (s *FuncStep) call(ctx context.Context, values ports.ValueReader) (out domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = domain.Failure(fmt.Sprintf("step %s panicked: %v", s.ID(), r), ErrPanic)
		}
	}()

	if s.fn == nil {
		return domain.Success(nil)
	}
	v, err := s.fn(ctx, values)
	if err != nil {
		return domain.Fail(err)
	}
	return domain.Success(v)
}

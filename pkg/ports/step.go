package ports

import (
	"context"

	"github.com/aescanero/stepflow/pkg/domain"
)

// Done reports a step's outcome. It must be called exactly once per run and
// may be called from any goroutine.
type Done func(id domain.StepID, outcome domain.Outcome)

// ValueReader is the read side of the value store handed to running steps.
// Reads never block; absence is a normal state.
type ValueReader interface {
	Get(id domain.StepID) (any, bool)
	Contains(id domain.StepID) bool
}

// Step is a unit of work with declared dependencies and a single-use,
// asynchronous execution contract.
type Step interface {
	// ID returns the step's identity.
	ID() domain.StepID

	// Dependencies returns the steps that have not yet finished, in declaration order.
	Dependencies() []domain.StepID

	// ValueDependencies returns the steps whose value must be present before running.
	ValueDependencies() []domain.StepID

	// DependsOn reports whether id is still an unfinished dependency.
	DependsOn(id domain.StepID) bool

	// DependencySatisfied removes id from the unfinished dependencies. Idempotent.
	DependencySatisfied(id domain.StepID)

	// Run executes the step once. It must not block the caller for the duration
	// of the work and must call done exactly once.
	Run(ctx context.Context, values ValueReader, done Done)
}

// Executor runs tasks asynchronously.
type Executor interface {
	Execute(task func()) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func()) error

func (f ExecutorFunc) Execute(task func()) error {
	return f(task)
}

// GoExecutor runs every task on a new goroutine.
var GoExecutor Executor = ExecutorFunc(func(task func()) error {
	go task()
	return nil
})

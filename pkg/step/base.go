package step

import (
	"fmt"
	"slices"
	"sync"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// Base implements the dependency half of ports.Step. Concrete steps embed a
// *Base and call Begin at the top of Run.
type Base struct {
	mu        sync.Mutex
	id        domain.StepID
	deps      []domain.StepID
	valueDeps []domain.StepID
	consumed  bool
}

// NewBase creates a Base for id with no dependencies.
func NewBase(id domain.StepID) *Base {
	return &Base{id: id}
}

// ID returns the step id.
func (b *Base) ID() domain.StepID {
	return b.id
}

// DependOn declares a dependency on target. When needsValue is set, target's
// value must also be present in the store when the step runs. Declaring the
// same target twice keeps the first position; needsValue is sticky.
func (b *Base) DependOn(target domain.StepID, needsValue bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !slices.Contains(b.deps, target) {
		b.deps = append(b.deps, target)
	}
	if needsValue && !slices.Contains(b.valueDeps, target) {
		b.valueDeps = append(b.valueDeps, target)
	}
}

// Dependencies returns the unfinished dependencies in declaration order.
func (b *Base) Dependencies() []domain.StepID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.deps)
}

// ValueDependencies returns the dependencies whose values are required.
func (b *Base) ValueDependencies() []domain.StepID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.valueDeps)
}

// DependsOn reports whether id is still an unfinished dependency.
func (b *Base) DependsOn(id domain.StepID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Contains(b.deps, id)
}

// DependencySatisfied marks id as finished.
func (b *Base) DependencySatisfied(id domain.StepID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deps = slices.DeleteFunc(b.deps, func(d domain.StepID) bool { return d == id })
}

// Consumed reports whether Begin has been called.
func (b *Base) Consumed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumed
}

// Begin consumes the step and checks that it may run. The checks apply in
// order: a second call fails with ErrAlreadyExecuted, then unfinished
// dependencies, then value dependencies absent from values.
func (b *Base) Begin(values ports.ValueReader) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consumed {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExecuted, b.id)
	}
	b.consumed = true

	if len(b.deps) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrUnfinishedDependencies, domain.JoinStepIDs(b.deps))
	}
	for _, id := range b.valueDeps {
		if values == nil || !values.Contains(id) {
			return fmt.Errorf("%w: %s", domain.ErrMissingValue, id)
		}
	}
	return nil
}

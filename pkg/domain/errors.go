package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBatchInProgress is returned when loading or starting a batch on an
	// orchestrator whose previous batch has not finished.
	ErrBatchInProgress = errors.New("batch already in progress")

	// ErrDuplicateStep is returned when two loaded steps share an id.
	ErrDuplicateStep = errors.New("duplicate step id")

	// ErrInvalidGraph is matched by every ValidationError.
	ErrInvalidGraph = errors.New("invalid dependency graph")

	// ErrAlreadyExecuted is reported when a step instance is run a second time.
	ErrAlreadyExecuted = errors.New("step already executed")

	// ErrUnfinishedDependencies is reported when a step is run before all of its
	// dependencies have finished.
	ErrUnfinishedDependencies = errors.New("unfinished dependent step")

	// ErrMissingValue is reported when a value dependency is absent at run time.
	ErrMissingValue = errors.New("lack of variable")

	// ErrDependencyFailed is the cause of synthesized failures for steps whose
	// dependency failed.
	ErrDependencyFailed = errors.New("dependent step failed")

	// ErrStepTimeout is the cause of failures synthesized for steps that did not
	// report within the configured deadline.
	ErrStepTimeout = errors.New("step timed out")
)

// ValidationKind classifies a dependency graph defect.
type ValidationKind string

const (
	ValidationMissingDependency  ValidationKind = "missing_dependency"
	ValidationCircularDependency ValidationKind = "circular_dependency"
)

// ValidationError describes why a batch was rejected before any step executed.
type ValidationError struct {
	Kind ValidationKind `json:"kind"`

	// Step is the step declaring the offending dependency.
	Step StepID `json:"step"`

	// Dependency is the missing id, or the id that closes the cycle.
	Dependency StepID `json:"dependency"`

	// Chain is the dependency path that closes the cycle, ending with Dependency.
	Chain []StepID `json:"chain,omitempty"`
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ValidationMissingDependency:
		return fmt.Sprintf("lack of dependency %q required by step %q", e.Dependency, e.Step)
	case ValidationCircularDependency:
		parts := make([]string, len(e.Chain))
		for i, id := range e.Chain {
			parts[i] = string(id)
		}
		return fmt.Sprintf("circular dependency: %s", strings.Join(parts, " -> "))
	default:
		return fmt.Sprintf("invalid dependency %q of step %q", e.Dependency, e.Step)
	}
}

// Is makes errors.Is(err, ErrInvalidGraph) hold for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidGraph
}

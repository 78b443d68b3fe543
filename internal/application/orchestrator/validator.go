package orchestrator

import (
	"errors"
	"fmt"

	"github.com/aescanero/stepflow/pkg/definition"
	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/steps"
)

// ErrInvalidDefinition wraps every error returned by Validator.
var ErrInvalidDefinition = errors.New("invalid batch definition")

// Validator validates batch definitions
type Validator struct {
	registry *steps.Registry
}

// NewValidator creates a validator that checks kinds against registry.
func NewValidator(registry *steps.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks the definition's structure. It does not check dependency
// targets; the batch reports those once it starts.
func (v *Validator) Validate(def *definition.Batch) error {
	if def == nil {
		return fmt.Errorf("%w: batch is nil", ErrInvalidDefinition)
	}
	if def.Name == "" {
		return fmt.Errorf("%w: batch name is required", ErrInvalidDefinition)
	}

	// Ids are compared the way steps are built, so "a" and " a" collide here.
	seen := make(map[domain.StepID]bool, len(def.Steps))
	for i, s := range def.Steps {
		id, err := domain.NewStepID(s.ID)
		if err != nil {
			return fmt.Errorf("%w: step %d: id is required", ErrInvalidDefinition, i)
		}
		if seen[id] {
			return fmt.Errorf("%w: %w: %s", ErrInvalidDefinition, domain.ErrDuplicateStep, id)
		}
		seen[id] = true

		if err := v.validateStep(s); err != nil {
			return fmt.Errorf("%w: step %s: %w", ErrInvalidDefinition, id, err)
		}
	}

	return nil
}

// validateStep validates a single step
func (v *Validator) validateStep(s definition.Step) error {
	if s.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if v.registry != nil && !v.registry.Has(s.Kind) {
		return fmt.Errorf("%w: %q", steps.ErrUnknownKind, s.Kind)
	}

	for _, dep := range append(append([]string(nil), s.After...), s.Needs...) {
		if _, err := domain.NewStepID(dep); err != nil {
			return fmt.Errorf("empty dependency name")
		}
	}
	return nil
}

package batch

import (
	"slices"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// validate walks the graph depth first from every step in load order. Each
// path carries its own chain for cycle detection; fully verified steps are
// remembered in checked and never walked again.
func validate(order []ports.Step, index map[domain.StepID]ports.Step) *domain.ValidationError {
	checked := make(map[domain.StepID]bool, len(order))
	for _, s := range order {
		if err := visit(s, index, checked, nil); err != nil {
			return err
		}
	}
	return nil
}

func visit(s ports.Step, index map[domain.StepID]ports.Step, checked map[domain.StepID]bool, chain []domain.StepID) *domain.ValidationError {
	id := s.ID()
	if checked[id] {
		return nil
	}
	chain = append(slices.Clone(chain), id)

	for _, dep := range s.Dependencies() {
		if slices.Contains(chain, dep) {
			return &domain.ValidationError{
				Kind:       domain.ValidationCircularDependency,
				Step:       id,
				Dependency: dep,
				Chain:      append(chain, dep),
			}
		}
		next, ok := index[dep]
		if !ok {
			return &domain.ValidationError{
				Kind:       domain.ValidationMissingDependency,
				Step:       id,
				Dependency: dep,
			}
		}
		if err := visit(next, index, checked, chain); err != nil {
			return err
		}
	}

	checked[id] = true
	return nil
}

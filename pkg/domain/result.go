package domain

import "sort"

// BatchResult is the aggregate outcome of one batch.
//
// If ValidationErr is set the batch never executed: Outcomes is empty and
// Success is false.
type BatchResult struct {
	Success       bool
	Outcomes      map[StepID]Outcome
	ValidationErr *ValidationError
}

// NewValidationFailure builds the result of a batch rejected by graph validation.
func NewValidationFailure(err *ValidationError) *BatchResult {
	return &BatchResult{
		Outcomes:      map[StepID]Outcome{},
		ValidationErr: err,
	}
}

// IsValidationError reports whether the batch was rejected before execution.
func (r *BatchResult) IsValidationError() bool {
	return r.ValidationErr != nil
}

// Outcome returns the recorded outcome of a step.
func (r *BatchResult) Outcome(id StepID) (Outcome, bool) {
	o, ok := r.Outcomes[id]
	return o, ok
}

// FailedSteps returns the ids of failed steps, sorted.
func (r *BatchResult) FailedSteps() []StepID {
	return r.steps(false)
}

// SucceededSteps returns the ids of successful steps, sorted.
func (r *BatchResult) SucceededSteps() []StepID {
	return r.steps(true)
}

func (r *BatchResult) steps(succeeded bool) []StepID {
	ids := make([]StepID, 0, len(r.Outcomes))
	for id, o := range r.Outcomes {
		if o.Succeeded() == succeeded {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Err summarizes a failed batch as an error, nil on success.
func (r *BatchResult) Err() error {
	if r.ValidationErr != nil {
		return r.ValidationErr
	}
	if r.Success {
		return nil
	}
	return &BatchError{Failed: r.FailedSteps()}
}

// BatchError reports the steps that failed in an executed batch.
type BatchError struct {
	Failed []StepID
}

func (e *BatchError) Error() string {
	return "batch failed: " + JoinStepIDs(e.Failed)
}

package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchResult_StepListing(t *testing.T) {
	r := &BatchResult{
		Outcomes: map[StepID]Outcome{
			"c": Failure("dependent step b failed", ErrDependencyFailed),
			"a": Success(1),
			"b": Fail(errors.New("boom")),
			"d": Success(nil),
		},
	}

	assert.Equal(t, []StepID{"b", "c"}, r.FailedSteps())
	assert.Equal(t, []StepID{"a", "d"}, r.SucceededSteps())
	assert.False(t, r.IsValidationError())

	var batchErr *BatchError
	require.ErrorAs(t, r.Err(), &batchErr)
	assert.Equal(t, []StepID{"b", "c"}, batchErr.Failed)
}

func TestBatchResult_ValidationFailure(t *testing.T) {
	verr := &ValidationError{Kind: ValidationMissingDependency, Step: "a", Dependency: "z"}
	r := NewValidationFailure(verr)

	assert.False(t, r.Success)
	assert.Empty(t, r.Outcomes)
	assert.True(t, r.IsValidationError())
	assert.ErrorIs(t, r.Err(), ErrInvalidGraph)
}

func TestBatchReport_Complete(t *testing.T) {
	report := &BatchReport{BatchID: "b-1", Name: "boot", Status: BatchStatusRunning}
	assert.False(t, report.Status.IsTerminal())

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	report.Complete(&BatchResult{
		Success: false,
		Outcomes: map[StepID]Outcome{
			"fetch": Success("payload"),
			"parse": Failure("bad json", errors.New("unexpected EOF")),
		},
	}, at)

	assert.Equal(t, BatchStatusFailed, report.Status)
	require.NotNil(t, report.CompletedAt)
	assert.Equal(t, at, *report.CompletedAt)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, StepReport{Step: "fetch", Status: StepStatusSucceeded, Value: "payload"}, report.Steps[0])
	assert.Equal(t, StepReport{Step: "parse", Status: StepStatusFailed, Message: "bad json", Cause: "unexpected EOF"}, report.Steps[1])
}

package domain

import (
	"sort"
	"time"
)

// BatchStatus is the coarse state of a submitted batch.
type BatchStatus string

const (
	BatchStatusRunning          BatchStatus = "running"
	BatchStatusSucceeded        BatchStatus = "succeeded"
	BatchStatusFailed           BatchStatus = "failed"
	BatchStatusValidationFailed BatchStatus = "validation_failed"
)

// IsTerminal reports whether the status is final.
func (s BatchStatus) IsTerminal() bool {
	return s != BatchStatusRunning
}

// StepStatus is the serialized form of an Outcome's tag.
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
)

// StepReport is the serializable form of one step outcome.
type StepReport struct {
	Step    StepID      `json:"step"`
	Status  StepStatus  `json:"status"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message,omitempty"`
	Cause   string      `json:"cause,omitempty"`
}

// BatchReport is the storable, JSON friendly record of a submitted batch.
type BatchReport struct {
	BatchID         string           `json:"batch_id"`
	Name            string           `json:"name"`
	Status          BatchStatus      `json:"status"`
	Steps           []StepReport     `json:"steps"`
	ValidationError *ValidationError `json:"validation_error,omitempty"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// NewStepReport converts an outcome into its serializable form.
func NewStepReport(id StepID, o Outcome) StepReport {
	if o.Succeeded() {
		return StepReport{Step: id, Status: StepStatusSucceeded, Value: o.Value()}
	}
	r := StepReport{Step: id, Status: StepStatusFailed, Message: o.Message()}
	if o.Cause() != nil {
		r.Cause = o.Cause().Error()
	}
	return r
}

// Complete fills the report from a finished batch result.
func (r *BatchReport) Complete(result *BatchResult, at time.Time) {
	r.CompletedAt = &at
	r.ValidationError = result.ValidationErr

	switch {
	case result.ValidationErr != nil:
		r.Status = BatchStatusValidationFailed
	case result.Success:
		r.Status = BatchStatusSucceeded
	default:
		r.Status = BatchStatusFailed
	}

	r.Steps = make([]StepReport, 0, len(result.Outcomes))
	for id, o := range result.Outcomes {
		r.Steps = append(r.Steps, NewStepReport(id, o))
	}
	sort.Slice(r.Steps, func(i, j int) bool { return r.Steps[i].Step < r.Steps[j].Step })
}

// SortReports orders reports by submission time, then batch id.
func SortReports(reports []*BatchReport) {
	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].SubmittedAt.Equal(reports[j].SubmittedAt) {
			return reports[i].SubmittedAt.Before(reports[j].SubmittedAt)
		}
		return reports[i].BatchID < reports[j].BatchID
	})
}

package domain

import "time"

// EventType identifies a batch progress event.
type EventType string

const (
	EventBatchSubmitted        EventType = "batch.submitted"
	EventBatchValidationFailed EventType = "batch.validation_failed"
	EventBatchFinished         EventType = "batch.finished"
	EventStepDispatched        EventType = "step.dispatched"
	EventStepFinished          EventType = "step.finished"
)

// Event is a progress notification published while a batch runs.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	BatchID   string                 `json:"batch_id"`
	StepID    StepID                 `json:"step_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

package orchestrator

import (
	"context"
	"time"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// eventObserver turns step callbacks into progress events. Batch level
// events are published by the Manager once the report is stored.
type eventObserver struct {
	ports.NoopObserver
	manager *Manager
}

func (o *eventObserver) OnStepDispatched(ctx context.Context, batchID string, id domain.StepID) {
	o.manager.publish(domain.Event{
		Type:    domain.EventStepDispatched,
		BatchID: batchID,
		StepID:  id,
	})
}

func (o *eventObserver) OnStepFinished(ctx context.Context, batchID string, id domain.StepID, outcome domain.Outcome, d time.Duration, cascaded bool) {
	report := domain.NewStepReport(id, outcome)
	data := map[string]interface{}{
		"status":      string(report.Status),
		"cascaded":    cascaded,
		"duration_ms": d.Milliseconds(),
	}
	if outcome.Succeeded() {
		if outcome.HasValue() {
			data["value"] = report.Value
		}
	} else {
		data["message"] = report.Message
		if report.Cause != "" {
			data["cause"] = report.Cause
		}
	}

	o.manager.publish(domain.Event{
		Type:    domain.EventStepFinished,
		BatchID: batchID,
		StepID:  id,
		Data:    data,
	})
}

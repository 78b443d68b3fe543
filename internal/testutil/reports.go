package testutil

import (
	"errors"
	"time"

	"github.com/aescanero/stepflow/pkg/domain"
)

// NewReport returns a finished report with one succeeded and one failed step.
func NewReport(batchID string, submittedAt time.Time) *domain.BatchReport {
	r := &domain.BatchReport{
		BatchID:     batchID,
		Name:        "nightly",
		Status:      domain.BatchStatusRunning,
		SubmittedAt: submittedAt.UTC().Truncate(time.Millisecond),
	}
	r.Complete(&domain.BatchResult{
		Outcomes: map[domain.StepID]domain.Outcome{
			"extract": domain.Success("rows"),
			"load":    domain.Failure("load failed", errors.New("disk full")),
		},
	}, r.SubmittedAt.Add(time.Second))
	return r
}

package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// ReportStore implements ports.ResultStore using an in-memory map.
type ReportStore struct {
	reports map[string]*domain.BatchReport
	mu      sync.RWMutex
}

var _ ports.ResultStore = (*ReportStore)(nil)

// NewReportStore creates an empty store.
func NewReportStore() *ReportStore {
	return &ReportStore{
		reports: make(map[string]*domain.BatchReport),
	}
}

// Save stores a copy of report, replacing any previous version.
func (s *ReportStore) Save(ctx context.Context, report *domain.BatchReport) error {
	if report == nil || report.BatchID == "" {
		return fmt.Errorf("report with batch ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports[report.BatchID] = clone(report)
	return nil
}

// Get returns a copy of the report for batchID.
func (s *ReportStore) Get(ctx context.Context, batchID string) (*domain.BatchReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrReportNotFound, batchID)
	}
	return clone(r), nil
}

// List returns every report ordered by submission time.
func (s *ReportStore) List(ctx context.Context) ([]*domain.BatchReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.BatchReport, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, clone(r))
	}
	domain.SortReports(out)
	return out, nil
}

// Delete removes the report for batchID. Unknown ids are ignored.
func (s *ReportStore) Delete(ctx context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.reports, batchID)
	return nil
}

func clone(r *domain.BatchReport) *domain.BatchReport {
	c := *r
	c.Steps = slices.Clone(r.Steps)
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// DefaultKeyPrefix namespaces report keys.
const DefaultKeyPrefix = "stepflow:report:"

// ReportStore implements ports.ResultStore using Redis. Reports are stored as
// JSON under prefix+batchID and expire after ttl.
type ReportStore struct {
	client redis.UniversalClient
	logger *zap.Logger
	ttl    time.Duration
	prefix string
}

var _ ports.ResultStore = (*ReportStore)(nil)

// NewReportStore creates a Redis report store. A zero ttl keeps reports forever.
func NewReportStore(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *ReportStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportStore{
		client: client,
		logger: logger,
		ttl:    ttl,
		prefix: DefaultKeyPrefix,
	}
}

// WithPrefix returns a copy of the store using a different key prefix.
func (s *ReportStore) WithPrefix(prefix string) *ReportStore {
	c := *s
	c.prefix = prefix
	return &c
}

// Save persists report with the configured TTL.
func (s *ReportStore) Save(ctx context.Context, report *domain.BatchReport) error {
	if report == nil || report.BatchID == "" {
		return fmt.Errorf("report with batch ID is required")
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := s.client.Set(ctx, s.key(report.BatchID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	s.logger.Debug("report saved",
		zap.String("batch_id", report.BatchID),
		zap.String("status", string(report.Status)))
	return nil
}

// Get loads the report for batchID.
func (s *ReportStore) Get(ctx context.Context, batchID string) (*domain.BatchReport, error) {
	data, err := s.client.Get(ctx, s.key(batchID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ports.ErrReportNotFound, batchID)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report domain.BatchReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// List scans every report key. Keys that expire or fail to decode during the
// scan are skipped.
func (s *ReportStore) List(ctx context.Context) ([]*domain.BatchReport, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	reports := make([]*domain.BatchReport, 0, len(keys))
	for _, key := range keys {
		report, err := s.Get(ctx, strings.TrimPrefix(key, s.prefix))
		if err != nil {
			s.logger.Debug("skipping report", zap.String("key", key), zap.Error(err))
			continue
		}
		reports = append(reports, report)
	}

	domain.SortReports(reports)
	return reports, nil
}

// Delete removes the report for batchID.
func (s *ReportStore) Delete(ctx context.Context, batchID string) error {
	if err := s.client.Del(ctx, s.key(batchID)).Err(); err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return nil
}

func (s *ReportStore) key(batchID string) string {
	return s.prefix + batchID
}

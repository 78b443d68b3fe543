package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// ReportStore implements ports.ResultStore on a SQLite table.
//
// It expects an *sql.DB using the "sqlite" driver from modernc.org/sqlite,
// which this package registers.
type ReportStore struct {
	db *sql.DB
}

var _ ports.ResultStore = (*ReportStore)(nil)

// Open opens (or creates) the database at path and prepares the schema. Use
// ":memory:" for a throwaway store.
func Open(path string) (*ReportStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	s, err := NewReportStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewReportStore initializes the schema in db and returns a store using it.
func NewReportStore(db *sql.DB) (*ReportStore, error) {
	s := &ReportStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *ReportStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS batch_reports (
			batch_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			submitted_at INTEGER NOT NULL,
			report BLOB NOT NULL
		);`,
	)
	return err
}

// Save inserts or replaces report.
func (s *ReportStore) Save(ctx context.Context, report *domain.BatchReport) error {
	if report == nil || report.BatchID == "" {
		return fmt.Errorf("report with batch ID is required")
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batch_reports (batch_id, name, status, submitted_at, report)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			submitted_at = excluded.submitted_at,
			report = excluded.report`,
		report.BatchID,
		report.Name,
		string(report.Status),
		report.SubmittedAt.UnixNano(),
		data,
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// Get loads the report for batchID.
func (s *ReportStore) Get(ctx context.Context, batchID string) (*domain.BatchReport, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM batch_reports WHERE batch_id = ?`, batchID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ports.ErrReportNotFound, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return decode(data)
}

// List returns every report ordered by submission time.
func (s *ReportStore) List(ctx context.Context) ([]*domain.BatchReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report FROM batch_reports ORDER BY submitted_at, batch_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*domain.BatchReport
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		r, err := decode(data)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, nil
}

// Delete removes the report for batchID.
func (s *ReportStore) Delete(ctx context.Context, batchID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM batch_reports WHERE batch_id = ?`, batchID); err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return nil
}

// Prune deletes reports submitted before cutoff and returns how many were removed.
func (s *ReportStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM batch_reports WHERE submitted_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune reports: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *ReportStore) Close() error {
	return s.db.Close()
}

func decode(data []byte) (*domain.BatchReport, error) {
	var r domain.BatchReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &r, nil
}

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// RunResultStoreTests exercises the ports.ResultStore contract against a
// store that starts empty.
func RunResultStoreTests(t *testing.T, store ports.ResultStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ports.ErrReportNotFound)
	})

	t.Run("save and get", func(t *testing.T) {
		report := NewReport("b-1", base)
		require.NoError(t, store.Save(ctx, report))

		got, err := store.Get(ctx, "b-1")
		require.NoError(t, err)
		assert.Equal(t, "b-1", got.BatchID)
		assert.Equal(t, "nightly", got.Name)
		assert.Equal(t, domain.BatchStatusFailed, got.Status)
		assert.True(t, report.SubmittedAt.Equal(got.SubmittedAt))
		require.NotNil(t, got.CompletedAt)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, domain.StepID("extract"), got.Steps[0].Step)
		assert.Equal(t, "rows", got.Steps[0].Value)
		assert.Equal(t, domain.StepStatusFailed, got.Steps[1].Status)
		assert.Equal(t, "disk full", got.Steps[1].Cause)
	})

	t.Run("save replaces", func(t *testing.T) {
		report := NewReport("b-1", base)
		report.Name = "renamed"
		require.NoError(t, store.Save(ctx, report))

		got, err := store.Get(ctx, "b-1")
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
	})

	t.Run("save rejects missing id", func(t *testing.T) {
		assert.Error(t, store.Save(ctx, &domain.BatchReport{}))
		assert.Error(t, store.Save(ctx, nil))
	})

	t.Run("list ordered by submission", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, NewReport("b-3", base.Add(2*time.Minute))))
		require.NoError(t, store.Save(ctx, NewReport("b-2", base.Add(time.Minute))))

		reports, err := store.List(ctx)
		require.NoError(t, err)
		ids := make([]string, len(reports))
		for i, r := range reports {
			ids[i] = r.BatchID
		}
		assert.Equal(t, []string{"b-1", "b-2", "b-3"}, ids)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "b-2"))
		require.NoError(t, store.Delete(ctx, "never-saved"))

		_, err := store.Get(ctx, "b-2")
		assert.ErrorIs(t, err, ports.ErrReportNotFound)

		reports, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, reports, 2)
	})
}

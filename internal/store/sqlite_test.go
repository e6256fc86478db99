package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ink2md/pkg/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func queued(id string) models.ConversionRecord {
	return models.ConversionRecord{
		ConversionID:     id,
		OriginalFilename: id + ".pdf",
		FileSize:         2048,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, queued("a")))

	rec, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, rec.Status)
	assert.Equal(t, "a.pdf", rec.OriginalFilename)
	assert.Equal(t, int64(2048), rec.FileSize)
	assert.Nil(t, rec.OutputFilename)
	assert.Zero(t, rec.RetryCount)
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRecordNotFound))
}

func TestCreateRejectsDuplicateAndNonQueued(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, queued("a")))
	err := s.Create(ctx, queued("a"))
	assert.True(t, errors.Is(err, ErrDurabilityWriteFailed))

	rec := queued("b")
	rec.Status = models.StatusCompleted
	assert.True(t, errors.Is(s.Create(ctx, rec), ErrInvalidTransition))
}

func TestLifecycleToCompleted(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, queued("a")))

	pages := 3
	require.NoError(t, s.UpdateStatus(ctx, "a", models.StatusProcessing, StatusUpdate{PageCount: &pages}))

	// completed without an output filename is refused
	err := s.UpdateStatus(ctx, "a", models.StatusCompleted, StatusUpdate{})
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	require.NoError(t, s.UpdateStatus(ctx, "a", models.StatusCompleted, StatusUpdate{
		OutputFilename:     models.StringPtr("2024-03-05-a.md"),
		FormattingProvider: models.StringPtr("claude"),
	}))

	rec, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, "2024-03-05-a.md", models.Deref(rec.OutputFilename))
	assert.Equal(t, "claude", models.Deref(rec.FormattingProvider))
	assert.Equal(t, 3, rec.PageCount)
	assert.Nil(t, rec.ErrorMessage)

	// completed is terminal
	err = s.UpdateStatus(ctx, "a", models.StatusFailed, StatusUpdate{})
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestFailureAndRetryLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, queued("a")))
	require.NoError(t, s.UpdateStatus(ctx, "a", models.StatusProcessing, StatusUpdate{}))
	require.NoError(t, s.UpdateStatus(ctx, "a", models.StatusFailed, StatusUpdate{
		ErrorMessage: models.StringPtr("document could not be opened"),
	}))

	assert.True(t, errors.Is(
		s.UpdateStatus(ctx, "a", models.StatusFailed, StatusUpdate{OutputFilename: models.StringPtr("x.md")}),
		ErrInvalidTransition,
	))

	require.NoError(t, s.UpdateStatus(ctx, "a", models.StatusRetrying, StatusUpdate{}))
	n, err := s.IncrementRetry(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, s.UpdateStatus(ctx, "a", models.StatusProcessing, StatusUpdate{}))

	require.NoError(t, s.UpdateStatus(ctx, "a", models.StatusCompleted, StatusUpdate{
		OutputFilename: models.StringPtr("out.md"),
	}))
	rec, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Nil(t, rec.ErrorMessage, "completion clears the previous error")
}

func TestIncrementRetryAddsExactlyOne(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, queued("a")))

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementRetry(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := s.IncrementRetry(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRecordNotFound))
}

func TestListOrderingAndFilters(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		require.NoError(t, s.Create(ctx, queued(id)))
	}
	require.NoError(t, s.UpdateStatus(ctx, "second", models.StatusFailed, StatusUpdate{}))

	all, err := s.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].ConversionID)
	assert.Equal(t, "first", all[2].ConversionID)

	page, err := s.List(ctx, HistoryFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "second", page[0].ConversionID)

	failed, err := s.List(ctx, HistoryFilter{Status: models.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "second", failed[0].ConversionID)
}

func TestDeleteAndStatistics(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now.Add(-48 * time.Hour) }
	require.NoError(t, s.Create(ctx, queued("old")))

	s.now = func() time.Time { return now }
	require.NoError(t, s.Create(ctx, queued("new")))
	require.NoError(t, s.UpdateStatus(ctx, "new", models.StatusFailed, StatusUpdate{}))
	_, err := s.IncrementRetry(ctx, "new")
	require.NoError(t, err)

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.StatusQueued])
	assert.Equal(t, 1, stats.ByStatus[models.StatusFailed])
	assert.Equal(t, 1, stats.Last24Hours)
	assert.Equal(t, 1, stats.TotalRetries)

	require.NoError(t, s.Delete(ctx, "old"))
	assert.True(t, errors.Is(s.Delete(ctx, "old"), ErrRecordNotFound))
}

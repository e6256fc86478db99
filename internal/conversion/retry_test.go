package conversion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ink2md/pkg/models"
)

func failedConversion(t *testing.T, env *testEnv, id string) {
	t.Helper()
	env.opener.setFail(true)
	_, err := env.svc.Convert(context.Background(), id, "report.pdf", pdfData)
	require.Error(t, err)
	require.Equal(t, models.StatusFailed, env.record(t, id).Status)
}

func TestRetrySucceeds(t *testing.T) {
	env := newTestEnv(t, []string{"recovered"}, nil)
	failedConversion(t, env, "c1")

	env.opener.setFail(false)
	ticket, err := env.svc.Retry(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, ticket.Attempt)
	assert.Equal(t, time.Second, ticket.Delay)

	env.svc.Wait()

	rec := env.record(t, "c1")
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Nil(t, rec.ErrorMessage)
	assertFinalInvariant(t, rec)
	assert.Equal(t, []time.Duration{time.Second}, env.sleeps)
}

func TestRetryOutlivesCallerContext(t *testing.T) {
	env := newTestEnv(t, []string{"recovered"}, func(o *Options) { o.BackoffUnit = time.Millisecond })
	failedConversion(t, env, "c1")
	env.svc.sleep = sleepContext

	env.opener.setFail(false)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := env.svc.Retry(ctx, "c1")
	require.NoError(t, err)
	cancel()

	env.svc.Wait()

	rec := env.record(t, "c1")
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
}

func TestRetryIncrementsExactlyOnceAndRejectsAtLimit(t *testing.T) {
	env := newTestEnv(t, []string{"x"}, func(o *Options) { o.MaxRetries = 1 })
	failedConversion(t, env, "c1")

	_, err := env.svc.Retry(context.Background(), "c1")
	require.NoError(t, err)
	env.svc.Wait()

	rec := env.record(t, "c1")
	require.Equal(t, models.StatusFailed, rec.Status)
	require.Equal(t, 1, rec.RetryCount)

	_, err = env.svc.Retry(context.Background(), "c1")
	assert.True(t, errors.Is(err, ErrRetryLimitExceeded))
	assert.True(t, IsRetryRejection(err))

	rec = env.record(t, "c1")
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, models.StatusFailed, rec.Status)
}

func TestRetryRejections(t *testing.T) {
	env := newTestEnv(t, []string{"x"}, nil)

	_, err := env.svc.Retry(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrConversionNotFound))

	_, err = env.svc.Convert(context.Background(), "done", "a.pdf", pdfData)
	require.NoError(t, err)
	_, err = env.svc.Retry(context.Background(), "done")
	assert.True(t, errors.Is(err, ErrNotRetryable))

	failedConversion(t, env, "gone")
	require.NoError(t, os.Remove(filepath.Join(env.opts.InputDir, "gone.pdf")))
	_, err = env.svc.Retry(context.Background(), "gone")
	assert.True(t, errors.Is(err, ErrInputUnavailable))
	assert.Equal(t, models.StatusFailed, env.record(t, "gone").Status)
}

func TestBackoff(t *testing.T) {
	env := newTestEnv(t, nil, func(o *Options) {
		o.BackoffCap = 10
		o.BackoffUnit = time.Millisecond
	})

	assert.Equal(t, 1*time.Millisecond, env.svc.Backoff(0))
	assert.Equal(t, 2*time.Millisecond, env.svc.Backoff(1))
	assert.Equal(t, 8*time.Millisecond, env.svc.Backoff(3))
	assert.Equal(t, 10*time.Millisecond, env.svc.Backoff(4))
	assert.Equal(t, 10*time.Millisecond, env.svc.Backoff(100))
}

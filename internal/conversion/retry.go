package conversion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"ink2md/internal/logger"
	"ink2md/internal/progress"
	"ink2md/internal/store"
	"ink2md/pkg/models"
)

// RetryTicket describes an accepted retry.
type RetryTicket struct {
	ConversionID string        `json:"conversion_id"`
	Attempt      int           `json:"attempt"`
	Delay        time.Duration `json:"delay"`
}

// Retry validates a retry request and schedules it. Rejections are returned
// synchronously and leave the record untouched. An accepted retry moves the
// record to retrying and runs on a worker after the backoff delay.
func (s *Service) Retry(ctx context.Context, conversionID string) (*RetryTicket, error) {
	const op = "Retry"

	rec, err := s.store.Get(ctx, conversionID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, NewConversionError(op, conversionID, ErrConversionNotFound, "")
	}
	if err != nil {
		return nil, WrapConversionError(op, conversionID, err, "")
	}

	if rec.Status != models.StatusFailed {
		return nil, NewConversionError(op, conversionID, ErrNotRetryable, fmt.Sprintf("status is %s", rec.Status))
	}
	if rec.RetryCount >= s.opts.MaxRetries {
		return nil, NewConversionError(op, conversionID, ErrRetryLimitExceeded,
			fmt.Sprintf("%d of %d retries used", rec.RetryCount, s.opts.MaxRetries))
	}

	path := s.inputPath(conversionID)
	if path == "" {
		return nil, NewConversionError(op, conversionID, ErrInputUnavailable, "input spooling is disabled")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConversionError(op, conversionID, ErrInputUnavailable, err.Error())
	}

	if err := s.store.UpdateStatus(ctx, conversionID, models.StatusRetrying, store.StatusUpdate{}); err != nil {
		return nil, WrapConversionError(op, conversionID, err, "")
	}

	delay := s.Backoff(rec.RetryCount)
	ticket := &RetryTicket{
		ConversionID: conversionID,
		Attempt:      rec.RetryCount + 1,
		Delay:        delay,
	}

	s.tracker.Start(conversionID, progress.Meta{Filename: rec.OriginalFilename, FileSize: int64(len(data))})
	s.publish(conversionID, 0, fmt.Sprintf("Retry %d scheduled", ticket.Attempt))

	log := logger.WithConversion("conversion", conversionID)
	log.Info().
		Int("attempt", ticket.Attempt).
		Dur("delay", delay).
		Msg("Retry accepted")

	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runRetry(ctx, rec.OriginalFilename, data, ticket)
	}()
	return ticket, nil
}

func (s *Service) runRetry(ctx context.Context, filename string, data []byte, ticket *RetryTicket) {
	log := logger.WithConversion("conversion", ticket.ConversionID)

	if err := s.sleep(ctx, ticket.Delay); err != nil {
		s.fail(ctx, ticket.ConversionID, fmt.Errorf("retry interrupted: %w", err))
		return
	}

	count, err := s.store.IncrementRetry(ctx, ticket.ConversionID)
	if err != nil {
		log.Warn().Err(err).Msg("Could not increment retry count")
	} else {
		log.Debug().Int("retry_count", count).Msg("Retry count incremented")
	}

	if _, err := s.attempt(ctx, ticket.ConversionID, filename, data); err != nil {
		log.Debug().Err(err).Msg("Retry attempt failed")
	}
}

// Backoff returns the delay before retry number retryCount+1:
// min(2^retryCount, cap) backoff units.
func (s *Service) Backoff(retryCount int) time.Duration {
	limit := s.opts.BackoffCap
	if limit <= 0 {
		limit = 60
	}
	units := limit
	if retryCount >= 0 && retryCount < 31 && 1<<retryCount < limit {
		units = 1 << retryCount
	}
	unit := s.opts.BackoffUnit
	if unit <= 0 {
		unit = time.Second
	}
	return time.Duration(units) * unit
}

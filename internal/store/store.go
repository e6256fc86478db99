package store

import (
	"context"

	"ink2md/pkg/models"
)

// Store persists conversion records.
type Store interface {
	// Create inserts a new record. The record's status must be queued.
	Create(ctx context.Context, rec models.ConversionRecord) error

	// UpdateStatus moves a record to status, enforcing the lifecycle
	// transitions, and applies the optional fields in upd.
	UpdateStatus(ctx context.Context, conversionID string, status models.Status, upd StatusUpdate) error

	// IncrementRetry adds exactly one to retry_count and returns the new value.
	IncrementRetry(ctx context.Context, conversionID string) (int, error)

	Get(ctx context.Context, conversionID string) (*models.ConversionRecord, error)
	List(ctx context.Context, filter HistoryFilter) ([]models.ConversionRecord, error)

	// Delete removes a record. Only administrative tooling calls it.
	Delete(ctx context.Context, conversionID string) error

	Statistics(ctx context.Context) (*Statistics, error)
	Close() error
}

// StatusUpdate carries the optional fields written with a status change.
// Nil fields are left unchanged.
type StatusUpdate struct {
	OutputFilename     *string
	HTRProvider        *string
	FormattingProvider *string
	ErrorMessage       *string
	PageCount          *int
}

// HistoryFilter selects a page of records.
type HistoryFilter struct {
	Limit  int
	Offset int
	Status models.Status // empty matches all
}

// DefaultHistoryLimit is used when a filter has no limit.
const DefaultHistoryLimit = 50

// Statistics summarizes the conversion history.
type Statistics struct {
	Total        int                   `json:"total"`
	ByStatus     map[models.Status]int `json:"by_status"`
	Last24Hours  int                   `json:"last_24_hours"`
	TotalRetries int                   `json:"total_retries"`
}

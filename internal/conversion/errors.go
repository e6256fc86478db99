package conversion

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentOpenFailed is returned when the input cannot be read as a PDF.
	ErrDocumentOpenFailed = errors.New("document could not be opened")

	// ErrEmptyOutput is returned when no markdown could be produced.
	ErrEmptyOutput = errors.New("conversion produced no markdown")

	// ErrOutputWriteFailed is returned when the markdown file cannot be written.
	ErrOutputWriteFailed = errors.New("output file could not be written")

	// ErrInvalidConversionID is returned for ids that cannot name a spool file.
	ErrInvalidConversionID = errors.New("invalid conversion id")

	// ErrConversionNotFound is returned when retrying an unknown conversion.
	ErrConversionNotFound = errors.New("conversion not found")

	// ErrNotRetryable is returned when the conversion is not in the failed state.
	ErrNotRetryable = errors.New("conversion is not in a retryable state")

	// ErrRetryLimitExceeded is returned when retry_count has reached max_retries.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrInputUnavailable is returned when the spooled input of a conversion
	// no longer exists.
	ErrInputUnavailable = errors.New("original input is no longer available")
)

// ConversionError wraps errors with the conversion they concern.
type ConversionError struct {
	Op           string
	ConversionID string
	Err          error
	Details      string
}

func (e *ConversionError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("conversion: %s %s failed: %s: %v", e.Op, e.ConversionID, e.Details, e.Err)
	}
	return fmt.Sprintf("conversion: %s %s failed: %v", e.Op, e.ConversionID, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func (e *ConversionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewConversionError creates a ConversionError.
func NewConversionError(op, conversionID string, err error, details string) *ConversionError {
	return &ConversionError{
		Op:           op,
		ConversionID: conversionID,
		Err:          err,
		Details:      details,
	}
}

// WrapConversionError wraps err unless it already is a ConversionError.
func WrapConversionError(op, conversionID string, err error, details string) error {
	if err == nil {
		return nil
	}
	var convErr *ConversionError
	if errors.As(err, &convErr) {
		return err
	}
	return NewConversionError(op, conversionID, err, details)
}

// IsRetryRejection reports whether err is one of the synchronous retry
// rejections.
func IsRetryRejection(err error) bool {
	return errors.Is(err, ErrConversionNotFound) ||
		errors.Is(err, ErrNotRetryable) ||
		errors.Is(err, ErrRetryLimitExceeded) ||
		errors.Is(err, ErrInputUnavailable)
}

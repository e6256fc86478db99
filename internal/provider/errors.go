package provider

import (
	"errors"
	"fmt"
)

// Provider failure taxonomy
var (
	// ErrUnsupportedCapability is returned when an operation is requested from a
	// provider that does not advertise the matching capability. It is a
	// configuration error and is never retried.
	ErrUnsupportedCapability = errors.New("provider does not support the requested capability")

	// ErrProviderUnavailable is returned when the provider is disabled or its
	// connectivity check fails.
	ErrProviderUnavailable = errors.New("provider is not available")

	// ErrProviderCallFailed is returned when the remote call raised, timed out,
	// or returned an empty payload.
	ErrProviderCallFailed = errors.New("provider call failed")

	// ErrInvalidConfiguration is returned when a provider definition fails
	// validation for its type.
	ErrInvalidConfiguration = errors.New("invalid provider configuration")

	// ErrUnknownType is returned for provider types without a backend.
	ErrUnknownType = errors.New("unknown provider type")
)

// ProviderError wraps errors with the provider and operation that produced them.
type ProviderError struct {
	// Op is the operation that failed (e.g., "ProcessWithVLM", "New").
	Op string

	// ProviderID identifies the registered provider, if known.
	ProviderID string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	prefix := "provider"
	if e.ProviderID != "" {
		prefix = fmt.Sprintf("provider %s", e.ProviderID)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s failed: %s: %v", prefix, e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", prefix, e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *ProviderError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewProviderError creates a new ProviderError.
func NewProviderError(op, providerID string, err error, details string) *ProviderError {
	return &ProviderError{
		Op:         op,
		ProviderID: providerID,
		Err:        err,
		Details:    details,
	}
}

// WrapProviderError wraps an error as a ProviderError if it isn't already one.
func WrapProviderError(op, providerID string, err error, details string) error {
	if err == nil {
		return nil
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return err
	}

	return NewProviderError(op, providerID, err, details)
}

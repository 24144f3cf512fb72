package types

import (
	"errors"
	"fmt"
)

// Domain errors shared across packages
var (
	// ErrConfig marks invalid fusion, chunking or component parameters
	ErrConfig = errors.New("invalid configuration")

	// ErrUpstreamUnavailable marks an unreachable embedding or tag service
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")

	// ErrMalformedQuery marks a query the lexical index cannot parse
	ErrMalformedQuery = errors.New("malformed lexical query")

	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch marks a query vector whose length differs from the index
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIngestInProgress is returned when another ingestion run holds the writer lock
	ErrIngestInProgress = errors.New("ingestion already in progress")

	// ErrEmptyContent is returned for a chunk with no text
	ErrEmptyContent = errors.New("content cannot be empty")
)

// ConfigError describes a single invalid parameter.
type ConfigError struct {
	Field  string
	Reason string
}

// NewConfigError creates a ConfigError for field.
func NewConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfig, e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrConfig) hold for every ConfigError.
func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

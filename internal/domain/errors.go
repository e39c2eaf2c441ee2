package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation signals malformed or missing query fields.
	ErrValidation = errors.New("validation failed")
	// ErrKeyUnavailable signals that the required key half is not loaded.
	ErrKeyUnavailable = errors.New("key unavailable")
	// ErrOracleTimeout signals that a decryption oracle round trip timed out.
	ErrOracleTimeout = errors.New("oracle timeout")
	// ErrOracleUnreachable signals that the decryption oracle could not be reached.
	ErrOracleUnreachable = errors.New("oracle unreachable")
	// ErrDeserialization signals a corrupt stored point or ciphertext.
	ErrDeserialization = errors.New("deserialization failed")
	// ErrStructural signals a missing root node or a completely unreachable partition.
	ErrStructural = errors.New("structural error")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized signals a failed API key or token check.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrQueryCancelled signals that the query was cancelled by its orchestrator.
	ErrQueryCancelled = errors.New("query cancelled")
	// ErrInvalidTransition signals an illegal query status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError carries the offending field together with ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidation creates a validation error for a field.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsOracleFailure reports whether err is a network-level oracle failure
// that must be resolved conservatively.
func IsOracleFailure(err error) bool {
	return errors.Is(err, ErrOracleTimeout) || errors.Is(err, ErrOracleUnreachable)
}

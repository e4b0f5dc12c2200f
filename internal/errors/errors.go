// Package errors defines the error taxonomy shared by the BB84 protocol core
// and the exchange manager. Messages never include key material.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for input validation
var (
	// ErrInvalidLength indicates an exchange length of zero or less
	ErrInvalidLength = errors.New("bb84: exchange length must be positive")

	// ErrInvalidBasisSymbol indicates a basis outside {Rectilinear, Diagonal}
	ErrInvalidBasisSymbol = errors.New("bb84: invalid basis symbol")

	// ErrMismatchedLengths indicates bit or basis sequences of unequal length
	ErrMismatchedLengths = errors.New("bb84: mismatched array lengths")

	// ErrInvalidMessage indicates a plaintext that cannot be packed 8 bits per character
	ErrInvalidMessage = errors.New("bb84: message contains characters above 0xFF")
)

// Sentinel errors for key use
var (
	// ErrEmptyKey indicates amplification or the cipher produced or received a zero-length key
	ErrEmptyKey = errors.New("bb84: empty key")

	// ErrStaleSession indicates a cipher operation on a consumed or aborted session
	ErrStaleSession = errors.New("bb84: stale session")

	// ErrInvalidTransition indicates a stage invoked out of order
	ErrInvalidTransition = errors.New("bb84: invalid state transition")
)

// Sentinel errors for the exchange manager
var (
	// ErrSessionNotFound indicates an unknown or already reaped session identifier
	ErrSessionNotFound = errors.New("exchange: session not found")

	// ErrFreshExchangeRequired indicates the session can no longer yield a key
	ErrFreshExchangeRequired = fmt.Errorf("exchange: fresh exchange required: %w", ErrStaleSession)
)

// StageError wraps a protocol failure with the stage that produced it.
type StageError struct {
	Stage string // Protocol stage (e.g., "sift", "amplify")
	Err   error  // Underlying error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new StageError
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

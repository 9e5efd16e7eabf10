/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All engine error types in one place. Expected outcomes ("no credits",
  "insufficient funds") are typed failures checked with errors.Is/As, never
  panics; panics are reserved for programmer errors.

SEE ALSO:
  - credit.go: returns NoCreditsError
  - settlement.go: returns InsufficientFundsError
  - daybook: wraps these with command context
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoCredits is returned when consuming a credit for a pair that has
	// no active entry with remaining units.
	ErrNoCredits = errors.New("no credits available")

	// ErrInsufficientFunds is returned when a confirm is attempted while the
	// clinic cannot fund what it owes (cash + account < owed).
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrValidation is the root of all pre-write input rejections.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyConfirmed is returned when confirming a therapist/day that
	// already holds a confirmation. Revert first.
	ErrAlreadyConfirmed = errors.New("settlement already confirmed")

	// ErrNotConfirmed is returned when reverting a therapist/day that has no
	// confirmation to revert.
	ErrNotConfirmed = errors.New("settlement not confirmed")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrChangeTooSmall is returned when a change option is used with a
	// declared cash amount that does not exceed the owed amount.
	ErrChangeTooSmall = errors.New("declared cash must exceed amount owed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NoCreditsError reports a failed credit consumption.
type NoCreditsError struct {
	PatientName string
	Therapist   string
}

func (e *NoCreditsError) Error() string {
	return fmt.Sprintf("no credits available for %s with %s", e.PatientName, e.Therapist)
}

func (e *NoCreditsError) Unwrap() error { return ErrNoCredits }

// InsufficientFundsError reports a refused confirmation.
type InsufficientFundsError struct {
	Therapist string
	Date      Date
	Owed      Money
	Cash      Money
	Account   Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds to pay %s on %s: owed %d, cash %d, account %d",
		e.Therapist, e.Date, e.Owed, e.Cash, e.Account)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ValidationError rejects bad input before any state mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalidf builds a ValidationError.
func Invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is the caller's fault (bad input
// or a precondition the caller can fix) rather than an engine failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNoCredits) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAlreadyConfirmed) ||
		errors.Is(err, ErrNotConfirmed) ||
		errors.Is(err, ErrChangeTooSmall)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

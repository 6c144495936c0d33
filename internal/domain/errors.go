package domain

import "errors"

// Validation errors.
var (
	ErrUnsupportedInstallmentCount = errors.New("unsupported installment count")
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrInvalidTransition           = errors.New("invalid installment transition")
	ErrNotFound                    = errors.New("not found")
	ErrInvalidFeeSchedule          = errors.New("invalid fee schedule")
)

// Conflict errors. Callers treat these as the idempotent no-op they signal.
var (
	ErrPlanAlreadyExists = errors.New("installment plan already exists")
)

// Invariant violations: upstream data or configuration is corrupt.
var (
	ErrFeeExceedsGross   = errors.New("fee exceeds gross amount")
	ErrDuplicateConflict = errors.New("duplicate settlements disagree on amounts")
)

// IsInvariantViolation reports whether err signals corrupted data rather
// than a bad single request.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrFeeExceedsGross) || errors.Is(err, ErrDuplicateConflict)
}

package apperrors

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates that a requested record or container could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrValidation indicates that a record failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrImmutable indicates an attempt to modify or delete a committed record.
var ErrImmutable = errors.New("record is immutable")

// ErrPermission indicates that the acting user's permission is insufficient
// for the requested operation.
var ErrPermission = errors.New("insufficient permission")

// ErrUnknownUser indicates that the acting user was never granted any
// permission on the ledger.
var ErrUnknownUser = errors.New("unknown user")

// ErrConversion indicates that no applicable currency rate exists.
var ErrConversion = errors.New("no applicable conversion rate")

// ErrIntegrity indicates a hash-chain mismatch. It is reported by
// verification only and never auto-repaired.
var ErrIntegrity = errors.New("hash chain integrity violation")

// ErrTransient classifies a backend failure as worth retrying
// (network timeout, rate limit, 5xx-equivalent).
var ErrTransient = errors.New("transient service error")

// ErrPermanent classifies a backend failure as not worth retrying
// (auth rejection, malformed request, not found).
var ErrPermanent = errors.New("permanent service error")

// ErrAuth indicates a failure of the auth provider or token store.
// Callers must treat it as permanent: retrying an invalid credential
// cannot succeed without provider intervention.
var ErrAuth = errors.New("authentication error")

// RetryExhaustedError is returned when every retry attempt against the
// backend failed with a transient error. It carries the number of attempts
// made and the last observed error.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// CommitFailedError is returned when a record was appended locally but the
// persistence pipeline ultimately failed. RolledBack reports whether the
// local append was undone; Attempts carries the retry count when the
// failure was an exhaustion.
type CommitFailedError struct {
	RolledBack bool
	Attempts   int
	Err        error
}

func (e *CommitFailedError) Error() string {
	return fmt.Sprintf("commit failed (rolled back: %t): %v", e.RolledBack, e.Err)
}

func (e *CommitFailedError) Unwrap() error {
	return e.Err
}

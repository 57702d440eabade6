package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for lookups and state.
var (
	ErrNotFound          = errors.New("not found")
	ErrEntryNotFound     = fmt.Errorf("audit entry %w", ErrNotFound)
	ErrApprovalNotFound  = fmt.Errorf("approval request %w", ErrNotFound)
	ErrSubjectNotFound   = fmt.Errorf("subject %w", ErrNotFound)
	ErrChallengeNotFound = fmt.Errorf("verification challenge %w", ErrNotFound)
	ErrInvalidState      = errors.New("operation invalid for current state")
)

// Policy violations surfaced distinctly to callers.
var (
	ErrSelfApproval  = errors.New("requester cannot vote on their own request")
	ErrDuplicateVote = errors.New("voter has already voted on this request")
	ErrInvalidCode   = errors.New("invalid verification code")
	ErrLocked        = errors.New("account is locked")
)

// Internal failures.
var (
	ErrIntegrityMismatch = errors.New("audit entry hash mismatch")
	ErrLedgerDisabled    = errors.New("external ledger is disabled")
	ErrAuditWriteFailed  = errors.New("audit entry could not be persisted")
)

// ErrDuplicateKey indicates a unique constraint violation.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrFieldTooLong returns an error indicating a field exceeds its maximum length.
func ErrFieldTooLong(field string, maxLen int) error {
	return fmt.Errorf("%s exceeds maximum length of %d", field, maxLen)
}

// ValidationError is a recoverable input error tied to one field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// LockoutError is returned while an identity is locked out.
type LockoutError struct {
	LockedUntil      time.Time
	RemainingMinutes int
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account is locked, try again in %d minute(s)", e.RemainingMinutes)
}

// Is lets errors.Is(err, ErrLocked) match.
func (e *LockoutError) Is(target error) bool { return target == ErrLocked }

// IntegrityMismatchError describes a stored hash that no longer matches the
// entry's content.
type IntegrityMismatchError struct {
	EntryID  string
	Expected string
	Stored   string
}

func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("audit entry %s: stored hash %s does not match recomputed %s", e.EntryID, e.Stored, e.Expected)
}

// Is lets errors.Is(err, ErrIntegrityMismatch) match.
func (e *IntegrityMismatchError) Is(target error) bool { return target == ErrIntegrityMismatch }

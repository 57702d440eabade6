package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/permitguard/permitguard/internal/models"
)

// LockoutStore provides data access for the lockout_states table.
type LockoutStore struct {
	Base
}

// NewLockoutStore creates a LockoutStore.
func NewLockoutStore(base Base) *LockoutStore {
	return &LockoutStore{Base: base}
}

// nextAttempts is the post-increment counter. An expired lock restarts
// the count from zero before this failure is added.
const nextAttempts = `CASE WHEN lockout_states.locked_until IS NOT NULL AND lockout_states.locked_until <= $2
	THEN 1 ELSE lockout_states.failed_attempts + 1 END`

// Get returns the stored state for subjectID. A subject with no record gets
// a zero state.
func (s *LockoutStore) Get(ctx context.Context, subjectID string) (*models.LockoutState, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	st := &models.LockoutState{SubjectID: subjectID}

	err := s.Pool.QueryRow(ctx,
		`SELECT failed_attempts, locked_until, last_failed_at FROM lockout_states WHERE subject_id = $1`,
		subjectID,
	).Scan(&st.FailedAttempts, &st.LockedUntil, &st.LastFailedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting lockout state: %w", err)
	}

	return st, nil
}

// RecordFailure atomically increments the failure counter and, when it
// reaches threshold, sets locked_until = now + lockFor. A subject that is
// currently locked is left untouched. newlyLocked is true only for the
// single call that crossed the threshold.
func (s *LockoutStore) RecordFailure(
	ctx context.Context, subjectID string, now time.Time, threshold int, lockFor time.Duration,
) (st *models.LockoutState, newlyLocked bool, err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	until := now.Add(lockFor)
	st = &models.LockoutState{SubjectID: subjectID}

	err = s.Pool.QueryRow(ctx, `
		INSERT INTO lockout_states (subject_id, failed_attempts, locked_until, last_failed_at)
		VALUES ($1, 1, CASE WHEN 1 >= $3 THEN $4::timestamptz END, $2)
		ON CONFLICT (subject_id) DO UPDATE SET
			failed_attempts = `+nextAttempts+`,
			locked_until = CASE WHEN (`+nextAttempts+`) >= $3 THEN $4::timestamptz END,
			last_failed_at = $2
		WHERE lockout_states.locked_until IS NULL OR lockout_states.locked_until <= $2
		RETURNING failed_attempts, locked_until, last_failed_at`,
		subjectID, now, threshold, until,
	).Scan(&st.FailedAttempts, &st.LockedUntil, &st.LastFailedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already locked; report the standing lock.
		cur, getErr := s.Get(ctx, subjectID)
		return cur, false, getErr
	}
	if err != nil {
		return nil, false, fmt.Errorf("recording failed attempt: %w", err)
	}

	return st, st.LockedUntil != nil, nil
}

// ClearExpired resets a lock whose locked_until has passed. Reports whether
// a row was reset.
func (s *LockoutStore) ClearExpired(ctx context.Context, subjectID string, now time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, `
		UPDATE lockout_states SET failed_attempts = 0, locked_until = NULL
		WHERE subject_id = $1 AND locked_until IS NOT NULL AND locked_until <= $2`,
		subjectID, now,
	)
	if err != nil {
		return false, fmt.Errorf("clearing expired lockout: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Clear removes all failure state for subjectID. Reports whether the
// subject was locked at the time.
func (s *LockoutStore) Clear(ctx context.Context, subjectID string, now time.Time) (wasLocked bool, err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err = s.Pool.QueryRow(ctx,
		`DELETE FROM lockout_states WHERE subject_id = $1
		 RETURNING COALESCE(locked_until > $2, FALSE)`,
		subjectID, now,
	).Scan(&wasLocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("clearing lockout: %w", err)
	}

	return wasLocked, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/permitguard/permitguard/internal/models"
)

// maxSuperseded bounds how many replaced code hashes a challenge remembers.
const maxSuperseded = 4

// ChallengeStore provides data access for the verification_challenges table.
// At most one challenge exists per (subject_id, purpose).
type ChallengeStore struct {
	Base
}

// NewChallengeStore creates a ChallengeStore.
func NewChallengeStore(base Base) *ChallengeStore {
	return &ChallengeStore{Base: base}
}

// Replace stores c, superseding any existing challenge for the same
// subject and purpose. The replaced code hash is remembered (the last
// maxSuperseded of them) so a stale code can be told apart from a wrong one.
func (s *ChallengeStore) Replace(ctx context.Context, c *models.Challenge) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO verification_challenges
			(subject_id, purpose, method, code_hash, expires_at, attempts_used, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		ON CONFLICT (subject_id, purpose) DO UPDATE SET
			method = EXCLUDED.method,
			code_hash = EXCLUDED.code_hash,
			expires_at = EXCLUDED.expires_at,
			attempts_used = 0,
			superseded = array_append(
				verification_challenges.superseded[GREATEST(cardinality(verification_challenges.superseded) - $7::int + 2, 1):],
				verification_challenges.code_hash),
			created_at = EXCLUDED.created_at`,
		c.SubjectID, c.Purpose, c.Method, c.CodeHash, c.ExpiresAt, c.CreatedAt, maxSuperseded,
	)
	if err != nil {
		return fmt.Errorf("storing challenge: %w", err)
	}

	return nil
}

// Get returns the challenge for (subjectID, purpose), expired or not.
func (s *ChallengeStore) Get(ctx context.Context, subjectID, purpose string) (*models.Challenge, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx,
		"SELECT "+challengeColumns+" FROM verification_challenges WHERE subject_id = $1 AND purpose = $2",
		subjectID, purpose,
	)

	c, err := scanChallenge(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting challenge: %w", err)
	}

	return c, nil
}

// RecordMiss increments attempts_used on the challenge identified by
// codeHash and deletes it once maxAttempts is reached. Matching on the
// hash keeps a miss against a superseded code from touching its
// replacement.
func (s *ChallengeStore) RecordMiss(
	ctx context.Context, subjectID, purpose, codeHash string, maxAttempts int,
) (attemptsUsed int, consumed bool, err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback on early return.

	err = tx.QueryRow(ctx, `
		UPDATE verification_challenges SET attempts_used = attempts_used + 1
		WHERE subject_id = $1 AND purpose = $2 AND code_hash = $3
		RETURNING attempts_used`,
		subjectID, purpose, codeHash,
	).Scan(&attemptsUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, models.ErrChallengeNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("recording challenge miss: %w", err)
	}

	if attemptsUsed >= maxAttempts {
		if _, err := tx.Exec(ctx,
			`DELETE FROM verification_challenges WHERE subject_id = $1 AND purpose = $2 AND code_hash = $3`,
			subjectID, purpose, codeHash,
		); err != nil {
			return 0, false, fmt.Errorf("consuming exhausted challenge: %w", err)
		}

		consumed = true
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("committing challenge miss: %w", err)
	}

	return attemptsUsed, consumed, nil
}

// Consume deletes the challenge identified by codeHash if it is still
// unexpired at now. Reports false when another request consumed or
// superseded it first.
func (s *ChallengeStore) Consume(
	ctx context.Context, subjectID, purpose, codeHash string, now time.Time,
) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, `
		DELETE FROM verification_challenges
		WHERE subject_id = $1 AND purpose = $2 AND code_hash = $3 AND expires_at > $4`,
		subjectID, purpose, codeHash, now,
	)
	if err != nil {
		return false, fmt.Errorf("consuming challenge: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// DeleteExpired removes the challenge for (subjectID, purpose) if it has
// expired at now.
func (s *ChallengeStore) DeleteExpired(ctx context.Context, subjectID, purpose string, now time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx,
		`DELETE FROM verification_challenges WHERE subject_id = $1 AND purpose = $2 AND expires_at <= $3`,
		subjectID, purpose, now,
	)
	if err != nil {
		return fmt.Errorf("deleting expired challenge: %w", err)
	}

	return nil
}

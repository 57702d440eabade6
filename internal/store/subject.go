package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/permitguard/permitguard/internal/models"
)

// SubjectStore provides data access for the subjects projection and the
// applied_changes ledger that guards it.
type SubjectStore struct {
	Base
}

// NewSubjectStore creates a SubjectStore.
func NewSubjectStore(base Base) *SubjectStore {
	return &SubjectStore{Base: base}
}

// Get returns a subject's current profile.
func (s *SubjectStore) Get(ctx context.Context, subjectID string) (*models.Subject, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var sub models.Subject
	var profile []byte

	err := s.Pool.QueryRow(ctx,
		`SELECT id, profile, updated_at FROM subjects WHERE id = $1`, subjectID,
	).Scan(&sub.ID, &profile, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting subject: %w", err)
	}

	if err := json.Unmarshal(profile, &sub.Profile); err != nil {
		return nil, fmt.Errorf("unmarshalling subject profile: %w", err)
	}

	return &sub, nil
}

// ApplyApproved merges fields into the subject's profile once per
// approvalID. A repeated call returns applied=false and changes nothing.
func (s *SubjectStore) ApplyApproved(
	ctx context.Context, approvalID, subjectID string, fields map[string]string,
) (applied bool, err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback on early return.

	tag, err := tx.Exec(ctx, `
		INSERT INTO applied_changes (approval_id, subject_id) VALUES ($1, $2)
		ON CONFLICT (approval_id) DO NOTHING`,
		approvalID, subjectID,
	)
	if err != nil {
		return false, fmt.Errorf("recording applied change: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	patch, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("marshaling profile patch: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO subjects (id, profile, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET profile = subjects.profile || EXCLUDED.profile, updated_at = NOW()`,
		subjectID, patch,
	)
	if err != nil {
		return false, fmt.Errorf("applying profile patch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing applied change: %w", err)
	}

	return true, nil
}

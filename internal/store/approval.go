package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/permitguard/permitguard/internal/models"
)

// ApprovalStore provides data access for the approval_requests table.
//
// Votes and status are the only contended columns. Both are mutated with
// single conditional UPDATEs, so concurrent voters are serialised by the
// row lock and every WHERE clause is re-checked against the latest row.
type ApprovalStore struct {
	Base
}

// NewApprovalStore creates an ApprovalStore.
func NewApprovalStore(base Base) *ApprovalStore {
	return &ApprovalStore{Base: base}
}

// Create inserts a new pending request.
func (s *ApprovalStore) Create(ctx context.Context, r *models.ApprovalRequest) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	details, err := json.Marshal(r.RequestDetails)
	if err != nil {
		return fmt.Errorf("marshaling request details: %w", err)
	}

	_, err = s.Pool.Exec(ctx, `
		INSERT INTO approval_requests
			(approval_id, request_type, subject_id, requested_by, request_details, votes,
			 status, required_approvals, reject_threshold, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '[]'::jsonb, $6, $7, $8, $9, $10, $10)`,
		r.ApprovalID, r.RequestType, r.SubjectID, r.RequestedBy, details,
		r.Status, r.RequiredApprovals, r.RejectThreshold, r.ExpiresAt, r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return models.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("inserting approval request: %w", err)
	}

	return nil
}

// Get returns a single request by approval ID.
func (s *ApprovalStore) Get(ctx context.Context, approvalID string) (*models.ApprovalRequest, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx,
		"SELECT "+approvalColumns+" FROM approval_requests WHERE approval_id = $1", approvalID)

	r, err := scanApproval(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrApprovalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting approval request: %w", err)
	}

	return r, nil
}

// List returns requests matching opts, newest first, plus a hasMore flag.
func (s *ApprovalStore) List(
	ctx context.Context, opts models.ApprovalQueryOpts,
) ([]models.ApprovalRequest, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback on early return.

	var f filterBuilder
	if opts.Status != "" {
		f.add("status", "=", opts.Status)
	}
	if opts.SubjectID != "" {
		f.add("subject_id", "=", opts.SubjectID)
	}

	limit := clampLimit(opts.Limit)
	query := fmt.Sprintf(
		"SELECT %s FROM approval_requests %s ORDER BY created_at DESC, approval_id LIMIT $%d OFFSET $%d",
		approvalColumns, f.where(), f.next(), f.next()+1,
	)
	args := append(f.args, limit+1, max(opts.Offset, 0))

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("listing approval requests: %w", err)
	}
	defer rows.Close()

	out := make([]models.ApprovalRequest, 0, limit)
	for rows.Next() {
		r, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, false, fmt.Errorf("scanning approval request: %w", err)
		}
		out = append(out, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterating approval requests: %w", err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}

	return out, hasMore, nil
}

// AppendVote adds vote to a pending, unexpired request in one conditional
// UPDATE that also enforces "not the requester" and "one vote per voter".
// When nothing is updated the row is re-read to say which rule refused it.
func (s *ApprovalStore) AppendVote(
	ctx context.Context, approvalID string, vote models.Vote, now time.Time,
) (*models.ApprovalRequest, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	voteJSON, err := json.Marshal(vote)
	if err != nil {
		return nil, fmt.Errorf("marshaling vote: %w", err)
	}

	row := s.Pool.QueryRow(ctx, `
		UPDATE approval_requests
		SET votes = votes || jsonb_build_array($2::jsonb), updated_at = $4
		WHERE approval_id = $1
		  AND status = 'pending'
		  AND expires_at > $4
		  AND requested_by <> $3
		  AND NOT votes @> jsonb_build_array(jsonb_build_object('voter_id', $3::text))
		RETURNING `+approvalColumns,
		approvalID, voteJSON, vote.VoterID, now,
	)

	r, err := scanApproval(row.Scan)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("appending vote: %w", err)
	}

	cur, err := s.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	return nil, voteRefusal(cur, vote.VoterID, now)
}

// voteRefusal explains why a conditional vote append matched no row.
func voteRefusal(r *models.ApprovalRequest, voterID string, now time.Time) error {
	switch {
	case r.RequestedBy == voterID:
		return models.ErrSelfApproval
	case r.Status != models.ApprovalPending:
		return fmt.Errorf("request is %s: %w", r.Status, models.ErrInvalidState)
	case !now.Before(r.ExpiresAt):
		return fmt.Errorf("request has expired: %w", models.ErrInvalidState)
	case r.HasVoted(voterID):
		return models.ErrDuplicateVote
	default:
		return fmt.Errorf("vote not recorded: %w", models.ErrInvalidState)
	}
}

// TransitionStatus moves a request from one status to another only if it
// is still in from. Exactly one concurrent caller sees won=true.
func (s *ApprovalStore) TransitionStatus(
	ctx context.Context, approvalID, from, to string, now time.Time,
) (won bool, err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, `
		UPDATE approval_requests SET status = $3, decided_at = $4, updated_at = $4
		WHERE approval_id = $1 AND status = $2`,
		approvalID, from, to, now,
	)
	if err != nil {
		return false, fmt.Errorf("transitioning approval status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ExpireIfDue moves a pending request past its expiry to expired.
func (s *ApprovalStore) ExpireIfDue(ctx context.Context, approvalID string, now time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, `
		UPDATE approval_requests SET status = $2, decided_at = $3, updated_at = $3
		WHERE approval_id = $1 AND status = 'pending' AND expires_at <= $3`,
		approvalID, models.ApprovalExpired, now,
	)
	if err != nil {
		return false, fmt.Errorf("expiring approval request: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ExpireDue moves every pending request past its expiry to expired and
// returns how many it changed.
func (s *ApprovalStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, `
		UPDATE approval_requests SET status = $1, decided_at = $2, updated_at = $2
		WHERE status = 'pending' AND expires_at <= $2`,
		models.ApprovalExpired, now,
	)
	if err != nil {
		return 0, fmt.Errorf("expiring approval requests: %w", err)
	}

	return tag.RowsAffected(), nil
}

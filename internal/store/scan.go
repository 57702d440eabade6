package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/permitguard/permitguard/internal/models"
)

// auditColumns lists the columns selected for audit entry queries.
const auditColumns = `id::text, subject_id, event_type, field_changed, old_value, new_value,
	actor_role, metadata, prev_hash, hash, verified, anchor_status,
	COALESCE(anchor_tx_ref, ''), COALESCE(anchor_block_ref, ''), created_at`

// approvalColumns lists the columns selected for approval request queries.
const approvalColumns = `approval_id, request_type, subject_id, requested_by, request_details,
	votes, status, required_approvals, reject_threshold, expires_at, decided_at,
	created_at, updated_at`

// challengeColumns lists the columns selected for challenge queries.
const challengeColumns = `subject_id, purpose, method, code_hash, expires_at, attempts_used, superseded, created_at`

// scanAuditEntry scans a single row into a models.AuditEntry.
func scanAuditEntry(scan func(dest ...any) error) (*models.AuditEntry, error) {
	var e models.AuditEntry
	var metadata []byte

	err := scan(
		&e.ID,
		&e.SubjectID,
		&e.EventType,
		&e.FieldChanged,
		&e.OldValue,
		&e.NewValue,
		&e.ActorRole,
		&metadata,
		&e.PrevHash,
		&e.Hash,
		&e.Verified,
		&e.AnchorStatus,
		&e.AnchorTxRef,
		&e.AnchorBlockRef,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.CreatedAt = e.CreatedAt.UTC()

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling audit metadata: %w", err)
		}
	}

	return &e, nil
}

// queryAuditEntries runs query and scans every row.
func queryAuditEntries(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]models.AuditEntry, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.AuditEntry, 0, 16)

	for rows.Next() {
		e, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		entries = append(entries, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return entries, nil
}

// scanApproval scans a single row into a models.ApprovalRequest.
func scanApproval(scan func(dest ...any) error) (*models.ApprovalRequest, error) {
	var r models.ApprovalRequest
	var details, votes []byte

	err := scan(
		&r.ApprovalID,
		&r.RequestType,
		&r.SubjectID,
		&r.RequestedBy,
		&details,
		&votes,
		&r.Status,
		&r.RequiredApprovals,
		&r.RejectThreshold,
		&r.ExpiresAt,
		&r.DecidedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(details, &r.RequestDetails); err != nil {
		return nil, fmt.Errorf("unmarshalling request details: %w", err)
	}

	if err := json.Unmarshal(votes, &r.Votes); err != nil {
		return nil, fmt.Errorf("unmarshalling votes: %w", err)
	}

	if r.Votes == nil {
		r.Votes = []models.Vote{}
	}

	return &r, nil
}

// scanChallenge scans a single row into a models.Challenge.
func scanChallenge(scan func(dest ...any) error) (*models.Challenge, error) {
	var c models.Challenge

	err := scan(
		&c.SubjectID,
		&c.Purpose,
		&c.Method,
		&c.CodeHash,
		&c.ExpiresAt,
		&c.AttemptsUsed,
		&c.SupersededHashes,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/permitguard/permitguard/internal/models"
)

// AuditStore provides data access for the audit_entries table.
type AuditStore struct {
	Base
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(base Base) *AuditStore {
	return &AuditStore{Base: base}
}

// Append seals e onto the end of its subject's hash chain and inserts it.
// A transaction-scoped advisory lock on the subject serialises concurrent
// appends so two writers can never link to the same predecessor.
func (s *AuditStore) Append(ctx context.Context, e *models.AuditEntry) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback on early return.

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", e.SubjectID); err != nil {
		return fmt.Errorf("locking audit chain: %w", err)
	}

	var prevHash string

	err = tx.QueryRow(ctx,
		`SELECT hash FROM audit_entries WHERE subject_id = $1 ORDER BY seq DESC LIMIT 1`,
		e.SubjectID,
	).Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("reading chain head: %w", err)
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	e.Seal(prevHash)

	if e.AnchorStatus == "" {
		e.AnchorStatus = models.AnchorStatusPending
	}

	metadataJSON, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO audit_entries
			(subject_id, event_type, field_changed, old_value, new_value, actor_role,
			 metadata, prev_hash, hash, anchor_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id::text`,
		e.SubjectID, e.EventType, e.FieldChanged, e.OldValue, e.NewValue, e.ActorRole,
		metadataJSON, e.PrevHash, e.Hash, e.AnchorStatus, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing audit entry: %w", err)
	}

	return nil
}

// Get returns a single audit entry by ID.
func (s *AuditStore) Get(ctx context.Context, id string) (*models.AuditEntry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrEntryNotFound
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx, "SELECT "+auditColumns+" FROM audit_entries WHERE id = $1", id)

	e, err := scanAuditEntry(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting audit entry: %w", err)
	}

	return e, nil
}

// History returns a subject's entries newest first, plus a hasMore flag.
func (s *AuditStore) History(
	ctx context.Context, subjectID string, opts models.AuditQueryOpts,
) ([]models.AuditEntry, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback on early return.

	var f filterBuilder
	f.add("subject_id", "=", subjectID)
	if opts.EventType != "" {
		f.add("event_type", "=", opts.EventType)
	}
	if opts.Since != nil {
		f.add("created_at", ">=", *opts.Since)
	}

	limit := clampLimit(opts.Limit)
	query := fmt.Sprintf(
		"SELECT %s FROM audit_entries %s ORDER BY seq DESC LIMIT $%d OFFSET $%d",
		auditColumns, f.where(), f.next(), f.next()+1,
	)
	args := append(f.args, limit+1, max(opts.Offset, 0))

	entries, err := queryAuditEntries(ctx, tx, query, args...)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	return entries, hasMore, nil
}

// Chain returns every entry for a subject in append order.
func (s *AuditStore) Chain(ctx context.Context, subjectID string) ([]models.AuditEntry, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback on early return.

	return queryAuditEntries(ctx, tx,
		"SELECT "+auditColumns+" FROM audit_entries WHERE subject_id = $1 ORDER BY seq ASC",
		subjectID,
	)
}

// MarkAnchored records a ledger receipt on an entry. Only the verification
// and anchor columns are ever updated after insert.
func (s *AuditStore) MarkAnchored(ctx context.Context, id string, receipt *models.AnchorReceipt) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, `
		UPDATE audit_entries
		SET verified = TRUE, anchor_status = $2, anchor_tx_ref = $3, anchor_block_ref = NULLIF($4, '')
		WHERE id = $1`,
		id, models.AnchorStatusAnchored, receipt.TxRef, receipt.BlockRef,
	)
	if err != nil {
		return fmt.Errorf("marking entry anchored: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrEntryNotFound
	}

	return nil
}

// SetAnchorStatus updates the anchor status of an entry that is not yet
// anchored. Anchored entries keep their receipt.
func (s *AuditStore) SetAnchorStatus(ctx context.Context, id, status string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx,
		`UPDATE audit_entries SET anchor_status = $2 WHERE id = $1 AND anchor_status <> $3`,
		id, status, models.AnchorStatusAnchored,
	)
	if err != nil {
		return fmt.Errorf("setting anchor status: %w", err)
	}

	return nil
}

// PendingAnchors returns entries still awaiting anchoring, oldest first.
// Used on startup to re-enqueue work lost with the previous process.
func (s *AuditStore) PendingAnchors(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback on early return.

	return queryAuditEntries(ctx, tx,
		"SELECT "+auditColumns+" FROM audit_entries WHERE anchor_status = $1 ORDER BY seq ASC LIMIT $2",
		models.AnchorStatusPending, clampLimit(limit),
	)
}

func marshalMetadata(md map[string]any) ([]byte, error) {
	if md == nil {
		return []byte("{}"), nil
	}

	b, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit metadata: %w", err)
	}

	return b, nil
}

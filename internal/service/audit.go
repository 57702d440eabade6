package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/domain"
	"github.com/permitguard/permitguard/internal/metrics"
	"github.com/permitguard/permitguard/internal/models"
	"github.com/permitguard/permitguard/internal/security"
)

// Compile-time check: *AuditRecorder must satisfy domain.AuditService.
var _ domain.AuditService = (*AuditRecorder)(nil)

// criticalEvents are anchored as critical_event rather than a plain hash.
var criticalEvents = map[string]bool{
	models.EventAccountLockout:          true,
	models.EventRestrictedFieldAttempt:  true,
	models.EventAdminApprovalApplyError: true,
	models.EventSecurity:                true,
}

// anchorOpFor picks the ledger operation for an entry's event type.
func anchorOpFor(eventType string) models.AnchorOp {
	switch {
	case eventType == models.EventAdminApprovalApproved || eventType == models.EventAdminApprovalRejected:
		return models.OpApprovalDecision
	case criticalEvents[eventType]:
		return models.OpCriticalEvent
	default:
		return models.OpAnchorAuditHash
	}
}

// AuditRecorder masks, hash-chains and persists audit entries, then hands
// their hashes to the anchor queue.
type AuditRecorder struct {
	store    AuditStore
	anchors  Anchorer
	masker   *security.Masker
	notifier Notifier
	failOpen map[string]bool
	now      Clock
	log      *logrus.Logger
}

// NewAuditRecorder creates an AuditRecorder. Event types in failOpenEvents
// log and continue when the write fails; all others fail closed.
func NewAuditRecorder(
	store AuditStore, anchors Anchorer, masker *security.Masker, notifier Notifier,
	failOpenEvents []string, log *logrus.Logger,
) *AuditRecorder {
	failOpen := make(map[string]bool, len(failOpenEvents))
	for _, e := range failOpenEvents {
		failOpen[e] = true
	}

	return &AuditRecorder{
		store:    store,
		anchors:  anchors,
		masker:   masker,
		notifier: notifier,
		failOpen: failOpen,
		now:      time.Now,
		log:      log,
	}
}

// Record writes one audit entry for a sensitive mutation.
func (r *AuditRecorder) Record(ctx context.Context, in models.AuditInput) (*models.AuditEntry, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	e := &models.AuditEntry{
		SubjectID:    in.SubjectID,
		EventType:    in.EventType,
		FieldChanged: in.FieldChanged,
		OldValue:     r.masker.MaskValue(in.FieldChanged, in.OldValue),
		NewValue:     r.masker.MaskValue(in.FieldChanged, in.NewValue),
		ActorRole:    in.ActorRole,
		Metadata:     r.masker.MaskMetadata(in.Metadata),
		CreatedAt:    r.now(),
		AnchorStatus: models.AnchorStatusPending,
	}

	ledgerOn := r.anchors.LedgerEnabled()
	if !ledgerOn {
		e.AnchorStatus = models.AnchorStatusDisabled
	}

	fields := logrus.Fields{
		"subject_id": in.SubjectID,
		"event_type": in.EventType,
	}

	if err := r.store.Append(ctx, e); err != nil {
		if r.failOpen[in.EventType] {
			metrics.AuditEntriesTotal.WithLabelValues(in.EventType, "failed_open").Inc()
			r.log.WithError(err).WithFields(fields).Warn("audit write failed, continuing (fail-open event)")

			return nil, nil
		}

		metrics.AuditEntriesTotal.WithLabelValues(in.EventType, "failed_closed").Inc()
		r.log.WithError(err).WithFields(fields).Error("audit write failed, blocking mutation")

		return nil, fmt.Errorf("%w: %w", models.ErrAuditWriteFailed, err)
	}

	metrics.AuditEntriesTotal.WithLabelValues(in.EventType, "written").Inc()
	r.log.WithFields(fields).WithField("entry_id", e.ID).Debug("audit entry written")

	if ledgerOn {
		r.anchors.Enqueue(anchorOpFor(e.EventType), e.Hash, e.EventType+":"+e.ID, e.ID)
	}

	return e, nil
}

// RecordRestrictedAttempt records an attempt to change a field the actor
// may not touch and alerts administrators. The mutation itself is rejected
// by the caller.
func (r *AuditRecorder) RecordRestrictedAttempt(
	ctx context.Context, subjectID, field, actorRole string, metadata map[string]any,
) (*models.AuditEntry, error) {
	if field == "" {
		return nil, &models.ValidationError{Field: "field", Reason: "is required"}
	}

	e, err := r.Record(ctx, models.AuditInput{
		SubjectID:    subjectID,
		EventType:    models.EventRestrictedFieldAttempt,
		FieldChanged: field,
		ActorRole:    actorRole,
		Metadata:     metadata,
	})

	var vErr *models.ValidationError
	if !errors.As(err, &vErr) {
		raise(r.notifier, r.log, models.Alert{
			Kind:      models.AlertRestrictedField,
			SubjectID: subjectID,
			Message:   fmt.Sprintf("%s attempted to change restricted field %q", actorRole, field),
			Detail:    map[string]any{"field": field, "actor_role": actorRole},
		}, r.now())
	}

	return e, err
}

// History returns a subject's entries newest first.
func (r *AuditRecorder) History(
	ctx context.Context, subjectID string, opts models.AuditQueryOpts,
) ([]models.AuditEntry, bool, error) {
	if subjectID == "" {
		return nil, false, &models.ValidationError{Field: "subject_id", Reason: "is required"}
	}

	return r.store.History(ctx, subjectID, opts)
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/domain"
	"github.com/permitguard/permitguard/internal/metrics"
	"github.com/permitguard/permitguard/internal/models"
)

// Compile-time check: *IntegrityVerifier must satisfy domain.IntegrityService.
var _ domain.IntegrityService = (*IntegrityVerifier)(nil)

// EntryReader is the read side of the audit store the verifier needs.
type EntryReader interface {
	Get(ctx context.Context, id string) (*models.AuditEntry, error)
	Chain(ctx context.Context, subjectID string) ([]models.AuditEntry, error)
}

// IntegrityVerifier recomputes stored hashes. It never writes.
type IntegrityVerifier struct {
	store    EntryReader
	notifier Notifier
	log      *logrus.Logger
}

// NewIntegrityVerifier creates an IntegrityVerifier.
func NewIntegrityVerifier(store EntryReader, notifier Notifier, log *logrus.Logger) *IntegrityVerifier {
	return &IntegrityVerifier{store: store, notifier: notifier, log: log}
}

// Verify recomputes one entry's hash. A mismatch returns the report together
// with an *models.IntegrityMismatchError. Anchor status is reported
// separately and never affects Valid.
func (v *IntegrityVerifier) Verify(ctx context.Context, entryID string) (*models.IntegrityReport, error) {
	e, err := v.store.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	expected := e.ComputeHash()
	report := &models.IntegrityReport{
		EntryID:      e.ID,
		Valid:        expected == e.Hash,
		ExpectedHash: expected,
		StoredHash:   e.Hash,
		AnchorStatus: e.AnchorStatus,
		AnchorTxRef:  e.AnchorTxRef,
	}

	if report.Valid {
		metrics.IntegrityChecksTotal.WithLabelValues("valid").Inc()
		return report, nil
	}

	mismatch := &models.IntegrityMismatchError{EntryID: e.ID, Expected: expected, Stored: e.Hash}
	v.reportMismatch(e, mismatch.Error())

	return report, mismatch
}

// VerifyChain walks a subject's entries in append order and reports the
// first entry whose hash or predecessor link does not check out.
func (v *IntegrityVerifier) VerifyChain(ctx context.Context, subjectID string) (*models.ChainReport, error) {
	if subjectID == "" {
		return nil, &models.ValidationError{Field: "subject_id", Reason: "is required"}
	}

	entries, err := v.store.Chain(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	report := &models.ChainReport{SubjectID: subjectID, Entries: len(entries), Valid: true}

	prev := ""
	for i := range entries {
		e := &entries[i]

		switch {
		case e.PrevHash != prev:
			report.Valid = false
			report.BrokenAt = e.ID
			report.BrokenReason = "prev_hash does not link to the preceding entry"
		case e.ComputeHash() != e.Hash:
			report.Valid = false
			report.BrokenAt = e.ID
			report.BrokenReason = "stored hash does not match entry content"
		}

		if !report.Valid {
			v.reportMismatch(e, report.BrokenReason)
			return report, nil
		}

		prev = e.Hash
	}

	metrics.IntegrityChecksTotal.WithLabelValues("valid").Inc()

	return report, nil
}

func (v *IntegrityVerifier) reportMismatch(e *models.AuditEntry, reason string) {
	metrics.IntegrityChecksTotal.WithLabelValues("mismatch").Inc()

	v.log.WithFields(logrus.Fields{
		"entry_id":   e.ID,
		"subject_id": e.SubjectID,
		"event_type": e.EventType,
		"reason":     reason,
	}).Error("audit integrity mismatch")

	raise(v.notifier, v.log, models.Alert{
		Kind:      models.AlertIntegrityMismatch,
		SubjectID: e.SubjectID,
		Message:   fmt.Sprintf("audit entry %s failed verification", e.ID),
		Detail:    map[string]any{"entry_id": e.ID, "reason": reason},
	}, time.Now())
}

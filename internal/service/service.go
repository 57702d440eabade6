// Package service provides the audit, anchoring, lockout, challenge and
// approval logic for permitguard.
package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/metrics"
	"github.com/permitguard/permitguard/internal/models"
)

// Clock returns the current time. Services take one so tests can move time.
type Clock func() time.Time

// Notifier delivers administrator alerts. Delivery is fire-and-forget.
type Notifier interface {
	Notify(alert models.Alert)
}

// NopNotifier discards every alert.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(models.Alert) {}

// AuditWriter appends audit entries. A fail-open event type that could not
// be written returns (nil, nil).
type AuditWriter interface {
	Record(ctx context.Context, in models.AuditInput) (*models.AuditEntry, error)
}

// Ledger submits hashes to the external anchoring service.
type Ledger interface {
	Enabled() bool
	Submit(ctx context.Context, op models.AnchorOp, hash, label string) (*models.AnchorReceipt, error)
}

// Anchorer accepts anchor work without blocking.
type Anchorer interface {
	Enqueue(op models.AnchorOp, hash, label, relatedEntryID string)
	LedgerEnabled() bool
}

// AuditStore is the data-access interface for audit entries.
type AuditStore interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	Get(ctx context.Context, id string) (*models.AuditEntry, error)
	History(ctx context.Context, subjectID string, opts models.AuditQueryOpts) ([]models.AuditEntry, bool, error)
	Chain(ctx context.Context, subjectID string) ([]models.AuditEntry, error)
}

// AnchorStore records anchoring outcomes on audit entries.
type AnchorStore interface {
	MarkAnchored(ctx context.Context, id string, receipt *models.AnchorReceipt) error
	SetAnchorStatus(ctx context.Context, id, status string) error
	PendingAnchors(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// LockoutStore is the data-access interface for failed-attempt state.
type LockoutStore interface {
	Get(ctx context.Context, subjectID string) (*models.LockoutState, error)
	RecordFailure(ctx context.Context, subjectID string, now time.Time, threshold int, lockFor time.Duration) (*models.LockoutState, bool, error)
	ClearExpired(ctx context.Context, subjectID string, now time.Time) (bool, error)
	Clear(ctx context.Context, subjectID string, now time.Time) (bool, error)
}

// ChallengeStore is the data-access interface for verification challenges.
type ChallengeStore interface {
	Replace(ctx context.Context, c *models.Challenge) error
	Get(ctx context.Context, subjectID, purpose string) (*models.Challenge, error)
	RecordMiss(ctx context.Context, subjectID, purpose, codeHash string, maxAttempts int) (int, bool, error)
	Consume(ctx context.Context, subjectID, purpose, codeHash string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, subjectID, purpose string, now time.Time) error
}

// ApprovalStore is the data-access interface for approval requests.
type ApprovalStore interface {
	Create(ctx context.Context, r *models.ApprovalRequest) error
	Get(ctx context.Context, approvalID string) (*models.ApprovalRequest, error)
	List(ctx context.Context, opts models.ApprovalQueryOpts) ([]models.ApprovalRequest, bool, error)
	AppendVote(ctx context.Context, approvalID string, vote models.Vote, now time.Time) (*models.ApprovalRequest, error)
	TransitionStatus(ctx context.Context, approvalID, from, to string, now time.Time) (bool, error)
	ExpireIfDue(ctx context.Context, approvalID string, now time.Time) (bool, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// ChangeApplier writes an approved change to its subject. It must be
// idempotent per approval ID: a repeat returns applied=false.
type ChangeApplier interface {
	ApplyApproved(ctx context.Context, approvalID, subjectID string, fields map[string]string) (applied bool, err error)
}

// raise stamps and dispatches an alert. Dispatch never fails the caller.
func raise(n Notifier, log *logrus.Logger, alert models.Alert, now time.Time) {
	if alert.At.IsZero() {
		alert.At = now
	}

	metrics.AlertsTotal.WithLabelValues(alert.Kind).Inc()

	log.WithFields(logrus.Fields{
		"kind":       alert.Kind,
		"subject_id": alert.SubjectID,
	}).Debug("alert raised")

	n.Notify(alert)
}

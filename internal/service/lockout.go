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

// Compile-time check: *LockoutTracker must satisfy domain.LockoutService.
var _ domain.LockoutService = (*LockoutTracker)(nil)

// LockoutPolicy sets when and for how long an identity is locked.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// LockoutTracker counts failed attempts per identity and locks it once the
// threshold is reached. Expiry is evaluated lazily on access.
type LockoutTracker struct {
	store    LockoutStore
	audit    AuditWriter
	notifier Notifier
	policy   LockoutPolicy
	now      Clock
	log      *logrus.Logger
}

// NewLockoutTracker creates a LockoutTracker.
func NewLockoutTracker(
	store LockoutStore, audit AuditWriter, notifier Notifier, policy LockoutPolicy, log *logrus.Logger,
) *LockoutTracker {
	return &LockoutTracker{
		store:    store,
		audit:    audit,
		notifier: notifier,
		policy:   policy,
		now:      time.Now,
		log:      log,
	}
}

// Check reports the identity's lock state, clearing an expired lock.
func (t *LockoutTracker) Check(ctx context.Context, subjectID string) (*models.LockoutStatus, error) {
	if subjectID == "" {
		return nil, &models.ValidationError{Field: "subject_id", Reason: "is required"}
	}

	now := t.now()

	st, err := t.store.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	if st.LockedUntil != nil && !now.Before(*st.LockedUntil) {
		if _, err := t.store.ClearExpired(ctx, subjectID, now); err != nil {
			return nil, err
		}

		t.log.WithField("subject_id", subjectID).Info("lockout expired")

		return &models.LockoutStatus{Locked: false, FailedAttempts: 0}, nil
	}

	return statusOf(st, now), nil
}

// EnsureUnlocked returns a *models.LockoutError while the identity is locked.
func (t *LockoutTracker) EnsureUnlocked(ctx context.Context, subjectID string) error {
	st, err := t.Check(ctx, subjectID)
	if err != nil {
		return err
	}

	if st.Locked {
		return &models.LockoutError{LockedUntil: *st.LockedUntil, RemainingMinutes: st.RemainingMinutes}
	}

	return nil
}

// IncrementFailedAttempts records one failed attempt. The increment is a
// single atomic statement, so concurrent failures are never lost. The call
// that crosses the threshold writes an account_lockout entry and alerts.
func (t *LockoutTracker) IncrementFailedAttempts(ctx context.Context, subjectID string) (*models.LockoutStatus, error) {
	if subjectID == "" {
		return nil, &models.ValidationError{Field: "subject_id", Reason: "is required"}
	}

	now := t.now()

	st, newlyLocked, err := t.store.RecordFailure(ctx, subjectID, now, t.policy.Threshold, t.policy.Duration)
	if err != nil {
		return nil, err
	}

	metrics.FailedAttemptsTotal.Inc()
	status := statusOf(st, now)

	if !newlyLocked {
		return status, nil
	}

	metrics.LockoutsTotal.Inc()

	t.log.WithFields(logrus.Fields{
		"subject_id":      subjectID,
		"failed_attempts": st.FailedAttempts,
		"locked_until":    st.LockedUntil,
	}).Warn("identity locked after repeated failures")

	raise(t.notifier, t.log, models.Alert{
		Kind:      models.AlertLockout,
		SubjectID: subjectID,
		Message:   fmt.Sprintf("locked for %d minute(s) after %d failed attempts", status.RemainingMinutes, st.FailedAttempts),
		Detail:    map[string]any{"locked_until": st.LockedUntil},
	}, now)

	if _, err := t.audit.Record(ctx, models.AuditInput{
		SubjectID: subjectID,
		EventType: models.EventAccountLockout,
		ActorRole: models.ActorSystem,
		Metadata: map[string]any{
			"failed_attempts": st.FailedAttempts,
			"locked_until":    st.LockedUntil.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return nil, err
	}

	return status, nil
}

// ClearFailedAttempts resets the counter and any lock after a success.
func (t *LockoutTracker) ClearFailedAttempts(ctx context.Context, subjectID string) error {
	if _, err := t.store.Clear(ctx, subjectID, t.now()); err != nil {
		return err
	}

	return nil
}

// Unlock lifts a lock on an administrator's request and records it.
func (t *LockoutTracker) Unlock(ctx context.Context, subjectID, adminID string) error {
	if subjectID == "" {
		return &models.ValidationError{Field: "subject_id", Reason: "is required"}
	}
	if adminID == "" {
		return &models.ValidationError{Field: "admin_id", Reason: "is required"}
	}

	wasLocked, err := t.store.Clear(ctx, subjectID, t.now())
	if err != nil {
		return err
	}

	t.log.WithFields(logrus.Fields{
		"subject_id": subjectID,
		"admin_id":   adminID,
		"was_locked": wasLocked,
	}).Info("lockout cleared by administrator")

	_, err = t.audit.Record(ctx, models.AuditInput{
		SubjectID: subjectID,
		EventType: models.EventAccountUnlock,
		ActorRole: models.ActorAdmin,
		Metadata:  map[string]any{"admin_id": adminID, "was_locked": wasLocked},
	})

	return err
}

func statusOf(st *models.LockoutState, now time.Time) *models.LockoutStatus {
	if !st.LockedAt(now) {
		return &models.LockoutStatus{Locked: false, FailedAttempts: st.FailedAttempts}
	}

	return &models.LockoutStatus{
		Locked:           true,
		FailedAttempts:   st.FailedAttempts,
		LockedUntil:      st.LockedUntil,
		RemainingMinutes: models.RemainingMinutes(*st.LockedUntil, now),
	}
}

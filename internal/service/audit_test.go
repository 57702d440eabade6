package service

import (
	"context"
	"errors"
	"testing"

	"github.com/permitguard/permitguard/internal/models"
	"github.com/permitguard/permitguard/internal/security"
)

func newTestRecorder(store *memAuditStore, anchors *stubAnchorer, notifier Notifier) *AuditRecorder {
	return NewAuditRecorder(
		store, anchors, security.NewMasker(false), notifier,
		[]string{models.EventProfileUpdate, models.EventAvatarUpdate}, quietLogger(),
	)
}

func TestAuditRecorder_RecordChainsAndAnchors(t *testing.T) {
	store := newMemAuditStore()
	anchors := &stubAnchorer{enabled: true}
	r := newTestRecorder(store, anchors, NopNotifier{})
	ctx := context.Background()

	first, err := r.Record(ctx, models.AuditInput{
		SubjectID: "u1", EventType: models.EventEmailChange, FieldChanged: "email",
		OldValue: "a@example.com", NewValue: "b@example.com", ActorRole: models.ActorUser,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	second, err := r.Record(ctx, models.AuditInput{
		SubjectID: "u1", EventType: models.EventAccountLockout, ActorRole: models.ActorSystem,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if first.PrevHash != "" {
		t.Errorf("first prev_hash = %q, want empty", first.PrevHash)
	}
	if second.PrevHash != first.Hash {
		t.Errorf("second prev_hash = %q, want %q", second.PrevHash, first.Hash)
	}
	if first.AnchorStatus != models.AnchorStatusPending {
		t.Errorf("anchor status = %q, want pending", first.AnchorStatus)
	}

	if len(anchors.ops) != 2 {
		t.Fatalf("enqueued %d anchors, want 2", len(anchors.ops))
	}
	if anchors.ops[0] != models.OpAnchorAuditHash || anchors.ops[1] != models.OpCriticalEvent {
		t.Errorf("anchor ops = %v", anchors.ops)
	}
	if anchors.ids[0] != first.ID {
		t.Errorf("anchor related id = %q, want %q", anchors.ids[0], first.ID)
	}
}

func TestAuditRecorder_LedgerDisabled(t *testing.T) {
	store := newMemAuditStore()
	anchors := &stubAnchorer{enabled: false}
	r := newTestRecorder(store, anchors, NopNotifier{})

	e, err := r.Record(context.Background(), models.AuditInput{
		SubjectID: "u1", EventType: models.EventNameUpdate, ActorRole: models.ActorUser,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if e.AnchorStatus != models.AnchorStatusDisabled {
		t.Errorf("anchor status = %q, want disabled", e.AnchorStatus)
	}
	if len(anchors.ops) != 0 {
		t.Errorf("enqueued %d anchors with ledger disabled", len(anchors.ops))
	}
}

func TestAuditRecorder_FailurePolicy(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		wantErr   bool
	}{
		{name: "fail open for profile update", eventType: models.EventProfileUpdate, wantErr: false},
		{name: "fail open for avatar update", eventType: models.EventAvatarUpdate, wantErr: false},
		{name: "fail closed for password change", eventType: models.EventPasswordChange, wantErr: true},
		{name: "fail closed for approval", eventType: models.EventAdminApprovalApproved, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemAuditStore()
			store.appendErr = errors.New("connection refused")
			anchors := &stubAnchorer{enabled: true}
			r := newTestRecorder(store, anchors, NopNotifier{})

			e, err := r.Record(context.Background(), models.AuditInput{
				SubjectID: "u1", EventType: tt.eventType, ActorRole: models.ActorUser,
			})

			if e != nil {
				t.Errorf("entry = %+v, want nil", e)
			}
			if tt.wantErr {
				if !errors.Is(err, models.ErrAuditWriteFailed) {
					t.Errorf("err = %v, want ErrAuditWriteFailed", err)
				}
			} else if err != nil {
				t.Errorf("err = %v, want nil", err)
			}
			if len(anchors.ops) != 0 {
				t.Error("failed write was enqueued for anchoring")
			}
		})
	}
}

func TestAuditRecorder_MasksBeforePersisting(t *testing.T) {
	store := newMemAuditStore()
	r := newTestRecorder(store, &stubAnchorer{}, NopNotifier{})

	e, err := r.Record(context.Background(), models.AuditInput{
		SubjectID: "u1", EventType: models.EventPasswordChange, FieldChanged: "password",
		OldValue: "hunter2", NewValue: "correct horse", ActorRole: models.ActorUser,
		Metadata: map[string]any{"newPasswordHash": "$2a$10$abc", "ip": "10.0.0.1"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	stored, err := store.Get(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if stored.OldValue != security.Redacted || stored.NewValue != security.Redacted {
		t.Errorf("values not redacted: %q / %q", stored.OldValue, stored.NewValue)
	}
	if stored.Metadata["newPasswordHash"] != security.Redacted {
		t.Errorf("metadata not redacted: %v", stored.Metadata)
	}
	if stored.Metadata["ip"] != "10.0.0.1" {
		t.Errorf("unrelated metadata changed: %v", stored.Metadata)
	}
}

func TestAuditRecorder_Validation(t *testing.T) {
	r := newTestRecorder(newMemAuditStore(), &stubAnchorer{}, NopNotifier{})

	_, err := r.Record(context.Background(), models.AuditInput{EventType: models.EventProfileUpdate, ActorRole: "user"})

	var vErr *models.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "subject_id" {
		t.Errorf("err = %v, want subject_id validation error", err)
	}
}

func TestAuditRecorder_RestrictedAttemptAlerts(t *testing.T) {
	store := newMemAuditStore()
	notifier := &recordingNotifier{}
	r := newTestRecorder(store, &stubAnchorer{}, notifier)

	e, err := r.RecordRestrictedAttempt(context.Background(), "u1", "role", models.ActorUser, map[string]any{"ip": "10.0.0.2"})
	if err != nil {
		t.Fatalf("RecordRestrictedAttempt: %v", err)
	}

	if e.EventType != models.EventRestrictedFieldAttempt || e.FieldChanged != "role" {
		t.Errorf("entry = %+v", e)
	}
	if n := notifier.count(models.AlertRestrictedField); n != 1 {
		t.Errorf("alerts = %d, want 1", n)
	}

	if _, err := r.RecordRestrictedAttempt(context.Background(), "u1", "", models.ActorUser, nil); err == nil {
		t.Error("expected validation error for empty field")
	}
	if n := notifier.count(models.AlertRestrictedField); n != 1 {
		t.Errorf("alerts after invalid call = %d, want 1", n)
	}
}

func TestAnchorOpFor(t *testing.T) {
	tests := []struct {
		eventType string
		want      models.AnchorOp
	}{
		{models.EventProfileUpdate, models.OpAnchorAuditHash},
		{models.EventAccountLockout, models.OpCriticalEvent},
		{models.EventRestrictedFieldAttempt, models.OpCriticalEvent},
		{models.EventAdminApprovalApproved, models.OpApprovalDecision},
		{models.EventAdminApprovalRejected, models.OpApprovalDecision},
	}

	for _, tt := range tests {
		if got := anchorOpFor(tt.eventType); got != tt.want {
			t.Errorf("anchorOpFor(%q) = %q, want %q", tt.eventType, got, tt.want)
		}
	}
}

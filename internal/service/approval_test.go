package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/permitguard/permitguard/internal/models"
)

type approvalFixture struct {
	svc      *ApprovalService
	store    *memApprovalStore
	applier  *memApplier
	audit    *recordingAudit
	notifier *recordingNotifier
	clock    *fakeClock
}

func newApprovalFixture() *approvalFixture {
	f := &approvalFixture{
		store:    newMemApprovalStore(),
		applier:  newMemApplier(),
		audit:    &recordingAudit{},
		notifier: &recordingNotifier{},
		clock:    newFakeClock(),
	}

	f.svc = NewApprovalService(f.store, f.applier, f.audit, f.notifier,
		ApprovalPolicy{RequiredApprovals: 2, RejectThreshold: 2, TTL: 7 * 24 * time.Hour}, quietLogger())
	f.svc.now = f.clock.Now

	return f
}

func (f *approvalFixture) open(t *testing.T, requestedBy string, required int) *models.ApprovalRequest {
	t.Helper()

	r, err := f.svc.CreateRequest(context.Background(), models.CreateApprovalRequest{
		RequestType: models.RequestPersonalInfoChange,
		SubjectID:   "subject-x",
		RequestedBy: requestedBy,
		RequestDetails: models.ChangeDetails{
			Old: map[string]string{"lastName": "Mokoena"},
			New: map[string]string{"lastName": "Dlamini"},
		},
		RequiredApprovals: required,
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	return r
}

func approve() models.CastVoteRequest { return models.CastVoteRequest{Approved: true} }

func reject() models.CastVoteRequest { return models.CastVoteRequest{Approved: false} }

func TestApproval_TwoApprovalsApplyOnce(t *testing.T) {
	f := newApprovalFixture()
	ctx := context.Background()

	r := f.open(t, "admin-a", 2)
	if r.Status != models.ApprovalPending || len(r.ApprovalID) < 10 {
		t.Fatalf("created = %+v", r)
	}
	if n := f.audit.count(models.EventAdminApprovalRequest); n != 1 {
		t.Errorf("request entries = %d, want 1", n)
	}

	afterB, err := f.svc.CastVote(ctx, r.ApprovalID, "admin-b", approve())
	if err != nil {
		t.Fatalf("vote B: %v", err)
	}
	if afterB.Status != models.ApprovalPending || len(afterB.Votes) != 1 {
		t.Errorf("after B = status %s, votes %d", afterB.Status, len(afterB.Votes))
	}

	afterC, err := f.svc.CastVote(ctx, r.ApprovalID, "admin-c", approve())
	if err != nil {
		t.Fatalf("vote C: %v", err)
	}
	if afterC.Status != models.ApprovalApproved || afterC.DecidedAt == nil {
		t.Errorf("after C = %+v", afterC)
	}

	if got := f.applier.profiles["subject-x"]["lastName"]; got != "Dlamini" {
		t.Errorf("lastName = %q, want Dlamini", got)
	}
	if n := f.audit.count(models.EventAdminApprovalApproved); n != 1 {
		t.Errorf("completion entries = %d, want 1", n)
	}
	if n := f.notifier.count(models.AlertApprovalDecision); n != 1 {
		t.Errorf("decision alerts = %d, want 1", n)
	}

	_, err = f.svc.CastVote(ctx, r.ApprovalID, "admin-d", approve())
	if !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("vote on approved request err = %v, want ErrInvalidState", err)
	}
}

func TestApproval_ParallelVotesApplyExactlyOnce(t *testing.T) {
	for round := range 20 {
		t.Run(fmt.Sprintf("round-%d", round), func(t *testing.T) {
			f := newApprovalFixture()
			r := f.open(t, "requester", 2)

			var wg sync.WaitGroup
			start := make(chan struct{})

			for i := range 8 {
				wg.Add(1)
				go func(voter string) {
					defer wg.Done()
					<-start

					_, err := f.svc.CastVote(context.Background(), r.ApprovalID, voter, approve())
					if err != nil && !errors.Is(err, models.ErrInvalidState) {
						t.Errorf("vote %s: %v", voter, err)
					}
				}(fmt.Sprintf("admin-%d", i))
			}

			close(start)
			wg.Wait()

			if n := f.applier.applyCount(); n != 1 {
				t.Errorf("applies = %d, want 1", n)
			}
			if n := f.audit.count(models.EventAdminApprovalApproved); n != 1 {
				t.Errorf("completion entries = %d, want 1", n)
			}

			final, err := f.svc.Get(context.Background(), r.ApprovalID)
			if err != nil {
				t.Fatal(err)
			}
			if final.Status != models.ApprovalApproved {
				t.Errorf("status = %s, want approved", final.Status)
			}
		})
	}
}

func TestApproval_SelfApprovalIsRefused(t *testing.T) {
	f := newApprovalFixture()
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))

	for i := range 50 {
		requester := fmt.Sprintf("admin-%d", rng.IntN(1000))
		r := f.open(t, requester, 1+rng.IntN(3))

		_, err := f.svc.CastVote(ctx, r.ApprovalID, requester, approve())
		if !errors.Is(err, models.ErrSelfApproval) {
			t.Fatalf("iteration %d: self vote err = %v, want ErrSelfApproval", i, err)
		}

		stored, err := f.store.Get(ctx, r.ApprovalID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.HasVoted(requester) {
			t.Fatalf("iteration %d: requester vote stored", i)
		}
	}

	_, err := f.svc.CreateRequest(ctx, models.CreateApprovalRequest{
		RequestType:    models.RequestRoleChange,
		SubjectID:      "admin-z",
		RequestedBy:    "admin-z",
		RequestDetails: models.ChangeDetails{New: map[string]string{"role": "superadmin"}},
	})
	if !errors.Is(err, models.ErrSelfApproval) {
		t.Errorf("request on own account err = %v, want ErrSelfApproval", err)
	}
}

func TestApproval_DuplicateVote(t *testing.T) {
	f := newApprovalFixture()
	r := f.open(t, "admin-a", 3)

	if _, err := f.svc.CastVote(context.Background(), r.ApprovalID, "admin-b", approve()); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.CastVote(context.Background(), r.ApprovalID, "admin-b", reject())
	if !errors.Is(err, models.ErrDuplicateVote) {
		t.Errorf("err = %v, want ErrDuplicateVote", err)
	}
}

func TestApproval_TwoRejectionsReject(t *testing.T) {
	f := newApprovalFixture()
	ctx := context.Background()
	r := f.open(t, "admin-a", 3)

	after, err := f.svc.CastVote(ctx, r.ApprovalID, "admin-b", models.CastVoteRequest{
		Approved:        false,
		Comment:         "Documents are unreadable.",
		RequiredChanges: []string{"attach a certified ID copy"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != models.ApprovalPending {
		t.Fatalf("after one rejection = %s", after.Status)
	}
	if v := after.Votes[0]; v.Comment == "" || len(v.RequiredChanges) != 1 {
		t.Errorf("vote fields = %+v", v)
	}

	after, err = f.svc.CastVote(ctx, r.ApprovalID, "admin-c", reject())
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != models.ApprovalRejected {
		t.Fatalf("after two rejections = %s", after.Status)
	}

	if n := f.applier.applyCount(); n != 0 {
		t.Errorf("applies = %d, want 0", n)
	}
	if n := f.audit.count(models.EventAdminApprovalRejected); n != 1 {
		t.Errorf("rejection entries = %d, want 1", n)
	}
}

func TestApproval_LazyExpiry(t *testing.T) {
	f := newApprovalFixture()
	ctx := context.Background()
	r := f.open(t, "admin-a", 2)

	f.clock.Advance(7*24*time.Hour + time.Second)

	got, err := f.svc.Get(ctx, r.ApprovalID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ApprovalExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}

	_, err = f.svc.CastVote(ctx, r.ApprovalID, "admin-b", approve())
	if !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("vote on expired err = %v, want ErrInvalidState", err)
	}
}

func TestApproval_ListExpiresOverdueRequests(t *testing.T) {
	f := newApprovalFixture()
	ctx := context.Background()
	stale := f.open(t, "admin-a", 2)

	f.clock.Advance(7*24*time.Hour + time.Second)
	fresh := f.open(t, "admin-a", 2)

	tests := []struct {
		name   string
		status string
		want   []string
	}{
		{"pending", models.ApprovalPending, []string{fresh.ApprovalID}},
		{"expired", models.ApprovalExpired, []string{stale.ApprovalID}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			list, _, err := f.svc.List(ctx, models.ApprovalQueryOpts{Status: tc.status})
			if err != nil {
				t.Fatal(err)
			}

			var got []string
			for _, r := range list {
				got = append(got, r.ApprovalID)
			}
			if !slices.Equal(got, tc.want) {
				t.Errorf("List(%s) = %v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestApproval_ApplyFailureThenReapply(t *testing.T) {
	f := newApprovalFixture()
	ctx := context.Background()
	r := f.open(t, "admin-a", 1)

	f.applier.failNext = errors.New("subject store unavailable")

	decided, err := f.svc.CastVote(ctx, r.ApprovalID, "admin-b", approve())
	if err == nil {
		t.Fatal("expected apply error")
	}
	if decided == nil || decided.Status != models.ApprovalApproved {
		t.Fatalf("decided = %+v", decided)
	}
	if n := f.audit.count(models.EventAdminApprovalApplyError); n != 1 {
		t.Errorf("apply failure entries = %d, want 1", n)
	}
	if n := f.audit.count(models.EventAdminApprovalApproved); n != 0 {
		t.Errorf("completion entries = %d, want 0", n)
	}

	_, applied, err := f.svc.Reapply(ctx, r.ApprovalID, "admin-c")
	if err != nil || !applied {
		t.Fatalf("Reapply = %v, %v", applied, err)
	}

	_, applied, err = f.svc.Reapply(ctx, r.ApprovalID, "admin-c")
	if err != nil || applied {
		t.Errorf("second Reapply = %v, %v, want no-op", applied, err)
	}

	if n := f.applier.applyCount(); n != 1 {
		t.Errorf("applies = %d, want 1", n)
	}
	if n := f.audit.count(models.EventAdminApprovalApproved); n != 1 {
		t.Errorf("completion entries = %d, want 1", n)
	}
}

func TestApproval_CreateValidation(t *testing.T) {
	f := newApprovalFixture()

	tests := []struct {
		name  string
		req   models.CreateApprovalRequest
		field string
	}{
		{
			name:  "unknown type",
			req:   models.CreateApprovalRequest{RequestType: "nope", SubjectID: "s", RequestedBy: "a"},
			field: "request_type",
		},
		{
			name:  "no fields",
			req:   models.CreateApprovalRequest{RequestType: models.RequestOther, SubjectID: "s", RequestedBy: "a"},
			field: "request_details.new",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateRequest(context.Background(), tt.req)

			var vErr *models.ValidationError
			if !errors.As(err, &vErr) || vErr.Field != tt.field {
				t.Errorf("err = %v, want validation error on %s", err, tt.field)
			}
		})
	}

	if n := f.audit.count(models.EventAdminApprovalRequest); n != 0 {
		t.Errorf("invalid requests were audited: %d", n)
	}
}

func TestApproval_AuditFailureBlocksCreate(t *testing.T) {
	f := newApprovalFixture()
	f.audit.err = models.ErrAuditWriteFailed

	_, err := f.svc.CreateRequest(context.Background(), models.CreateApprovalRequest{
		RequestType:    models.RequestEmailChange,
		SubjectID:      "s",
		RequestedBy:    "a",
		RequestDetails: models.ChangeDetails{New: map[string]string{"email": "x@example.com"}},
	})
	if !errors.Is(err, models.ErrAuditWriteFailed) {
		t.Fatalf("err = %v, want ErrAuditWriteFailed", err)
	}

	list, _, err := f.svc.List(context.Background(), models.ApprovalQueryOpts{})
	if err != nil || len(list) != 0 {
		t.Errorf("requests stored despite audit failure: %d, %v", len(list), err)
	}
}

func TestApproval_StoreFailureRecordsAbandoned(t *testing.T) {
	f := newApprovalFixture()
	f.store.createErr = errors.New("connection reset")

	_, err := f.svc.CreateRequest(context.Background(), models.CreateApprovalRequest{
		RequestType:    models.RequestEmailChange,
		SubjectID:      "s",
		RequestedBy:    "a",
		RequestDetails: models.ChangeDetails{New: map[string]string{"email": "x@example.com"}},
	})
	if err == nil {
		t.Fatal("expected error when the store refuses the request")
	}

	f.audit.mu.Lock()
	inputs := append([]models.AuditInput(nil), f.audit.inputs...)
	f.audit.mu.Unlock()

	if len(inputs) != 2 {
		t.Fatalf("entries = %d, want 2", len(inputs))
	}
	opened, abandoned := inputs[0], inputs[1]
	if opened.EventType != models.EventAdminApprovalRequest || abandoned.EventType != models.EventAdminApprovalAbandoned {
		t.Fatalf("events = %s, %s", opened.EventType, abandoned.EventType)
	}
	if abandoned.Metadata["approval_id"] != opened.Metadata["approval_id"] {
		t.Errorf("abandoned entry names %v, opened entry names %v",
			abandoned.Metadata["approval_id"], opened.Metadata["approval_id"])
	}
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/domain"
	"github.com/permitguard/permitguard/internal/metrics"
	"github.com/permitguard/permitguard/internal/models"
	"github.com/permitguard/permitguard/internal/security"
)

// Compile-time check: *ApprovalService must satisfy domain.ApprovalService.
var _ domain.ApprovalService = (*ApprovalService)(nil)

// ApprovalPolicy holds the default consensus thresholds.
type ApprovalPolicy struct {
	RequiredApprovals int
	RejectThreshold   int
	TTL               time.Duration
}

// ApprovalService runs N-of-M consensus over admin-tier changes and applies
// an approved change exactly once.
type ApprovalService struct {
	store    ApprovalStore
	applier  ChangeApplier
	audit    AuditWriter
	notifier Notifier
	policy   ApprovalPolicy
	now      Clock
	log      *logrus.Logger
}

// NewApprovalService creates an ApprovalService.
func NewApprovalService(
	store ApprovalStore, applier ChangeApplier, audit AuditWriter, notifier Notifier,
	policy ApprovalPolicy, log *logrus.Logger,
) *ApprovalService {
	return &ApprovalService{
		store:    store,
		applier:  applier,
		audit:    audit,
		notifier: notifier,
		policy:   policy,
		now:      time.Now,
		log:      log,
	}
}

// CreateRequest opens a pending consensus request. The request is audited
// before it is stored; a failed audit write blocks it. If storing then
// fails, a follow-up entry marks the audited approval ID as abandoned.
func (s *ApprovalService) CreateRequest(
	ctx context.Context, req models.CreateApprovalRequest,
) (*models.ApprovalRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RequestedBy == req.SubjectID {
		return nil, fmt.Errorf("requesting a change to your own account: %w", models.ErrSelfApproval)
	}

	required := req.RequiredApprovals
	if required == 0 {
		required = s.policy.RequiredApprovals
	}

	now := s.now()
	r := &models.ApprovalRequest{
		ApprovalID:        security.NewApprovalID(),
		RequestType:       req.RequestType,
		SubjectID:         req.SubjectID,
		RequestedBy:       req.RequestedBy,
		RequestDetails:    req.RequestDetails,
		Votes:             []models.Vote{},
		Status:            models.ApprovalPending,
		RequiredApprovals: required,
		RejectThreshold:   s.policy.RejectThreshold,
		ExpiresAt:         now.Add(s.policy.TTL),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if _, err := s.audit.Record(ctx, models.AuditInput{
		SubjectID:    r.SubjectID,
		EventType:    models.EventAdminApprovalRequest,
		FieldChanged: strings.Join(r.RequestDetails.Fields(), ","),
		ActorRole:    models.ActorAdmin,
		Metadata: map[string]any{
			"approval_id":        r.ApprovalID,
			"request_type":       r.RequestType,
			"requested_by":       r.RequestedBy,
			"required_approvals": r.RequiredApprovals,
		},
	}); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, r); err != nil {
		s.recordAbandoned(ctx, r, err)
		return nil, fmt.Errorf("creating approval request: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"approval_id":  r.ApprovalID,
		"request_type": r.RequestType,
		"subject_id":   r.SubjectID,
	}).Info("approval request opened")

	return r, nil
}

func (s *ApprovalService) recordAbandoned(ctx context.Context, r *models.ApprovalRequest, cause error) {
	fields := logrus.Fields{"approval_id": r.ApprovalID, "subject_id": r.SubjectID}
	s.log.WithError(cause).WithFields(fields).Warn("approval request audited but not stored")

	if _, err := s.audit.Record(ctx, models.AuditInput{
		SubjectID: r.SubjectID,
		EventType: models.EventAdminApprovalAbandoned,
		ActorRole: models.ActorSystem,
		Metadata: map[string]any{
			"approval_id":  r.ApprovalID,
			"requested_by": r.RequestedBy,
			"error":        cause.Error(),
		},
	}); err != nil {
		s.log.WithError(err).WithFields(fields).Error("recording abandoned approval request")
	}
}

// Get returns a request, expiring it first if its TTL has passed.
func (s *ApprovalService) Get(ctx context.Context, approvalID string) (*models.ApprovalRequest, error) {
	r, err := s.store.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	return s.expireIfDue(ctx, r)
}

// List returns requests matching opts, newest first. Requests past their
// expiry are expired before the page is read, so a pending filter never
// returns them.
func (s *ApprovalService) List(
	ctx context.Context, opts models.ApprovalQueryOpts,
) ([]models.ApprovalRequest, bool, error) {
	n, err := s.store.ExpireDue(ctx, s.now())
	if err != nil {
		return nil, false, err
	}

	if n > 0 {
		metrics.ApprovalDecisionsTotal.WithLabelValues(models.ApprovalExpired).Add(float64(n))
		s.log.WithField("count", n).Info("approval requests expired")
	}

	return s.store.List(ctx, opts)
}

func (s *ApprovalService) expireIfDue(ctx context.Context, r *models.ApprovalRequest) (*models.ApprovalRequest, error) {
	now := s.now()
	if r.Status != models.ApprovalPending || now.Before(r.ExpiresAt) {
		return r, nil
	}

	won, err := s.store.ExpireIfDue(ctx, r.ApprovalID, now)
	if err != nil {
		return nil, err
	}

	if won {
		metrics.ApprovalDecisionsTotal.WithLabelValues(models.ApprovalExpired).Inc()
		s.log.WithField("approval_id", r.ApprovalID).Info("approval request expired")
	}

	return s.store.Get(ctx, r.ApprovalID)
}

// CastVote records voterID's decision. The vote that moves the request out
// of pending wins a compare-and-swap on its status and alone performs the
// apply and writes the completion entry. Concurrent losers return the
// decided request untouched.
func (s *ApprovalService) CastVote(
	ctx context.Context, approvalID, voterID string, req models.CastVoteRequest,
) (*models.ApprovalRequest, error) {
	if voterID == "" {
		return nil, &models.ValidationError{Field: "voter_id", Reason: "is required"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r, err := s.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if r.RequestedBy == voterID {
		return nil, models.ErrSelfApproval
	}
	if r.Terminal() {
		return nil, fmt.Errorf("request is %s: %w", r.Status, models.ErrInvalidState)
	}

	now := s.now()
	vote := models.Vote{
		VoterID:         voterID,
		Approved:        req.Approved,
		Comment:         req.Comment,
		RequiredChanges: req.RequiredChanges,
		Timestamp:       now,
	}

	r, err = s.store.AppendVote(ctx, approvalID, vote, now)
	if err != nil {
		return nil, err
	}

	decision := "reject"
	if vote.Approved {
		decision = "approve"
	}
	metrics.ApprovalVotesTotal.WithLabelValues(decision).Inc()

	outcome := r.Outcome()
	if outcome == models.ApprovalPending {
		return r, nil
	}

	won, err := s.store.TransitionStatus(ctx, approvalID, models.ApprovalPending, outcome, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return s.store.Get(ctx, approvalID)
	}

	r.Status = outcome
	r.DecidedAt = &now
	r.UpdatedAt = now

	metrics.ApprovalDecisionsTotal.WithLabelValues(outcome).Inc()

	if err := s.finalize(ctx, r); err != nil {
		return r, err
	}

	return r, nil
}

// finalize runs the side effects of a decision. Only the CAS winner calls it.
func (s *ApprovalService) finalize(ctx context.Context, r *models.ApprovalRequest) error {
	s.log.WithFields(logrus.Fields{
		"approval_id": r.ApprovalID,
		"status":      r.Status,
		"approvals":   r.ApproveCount(),
		"rejections":  r.RejectCount(),
	}).Info("approval request decided")

	raise(s.notifier, s.log, models.Alert{
		Kind:      models.AlertApprovalDecision,
		SubjectID: r.SubjectID,
		Message:   fmt.Sprintf("%s request %s was %s", r.RequestType, r.ApprovalID, r.Status),
		Detail:    map[string]any{"approval_id": r.ApprovalID, "status": r.Status},
	}, s.now())

	if r.Status == models.ApprovalRejected {
		_, err := s.audit.Record(ctx, s.decisionInput(r, models.EventAdminApprovalRejected))
		return err
	}

	_, err := s.apply(ctx, r)

	return err
}

// apply writes the approved change to the subject. The completion entry is
// written only by the call that actually applied it.
func (s *ApprovalService) apply(ctx context.Context, r *models.ApprovalRequest) (bool, error) {
	applied, err := s.applier.ApplyApproved(ctx, r.ApprovalID, r.SubjectID, r.RequestDetails.New)
	if err != nil {
		metrics.ApprovalAppliesTotal.WithLabelValues("failed").Inc()

		s.log.WithError(err).WithField("approval_id", r.ApprovalID).Error("applying approved change failed")

		in := s.decisionInput(r, models.EventAdminApprovalApplyError)
		in.Metadata["error"] = err.Error()
		if _, auditErr := s.audit.Record(ctx, in); auditErr != nil {
			s.log.WithError(auditErr).WithField("approval_id", r.ApprovalID).Error("recording apply failure")
		}

		return false, fmt.Errorf("applying approved change: %w", err)
	}

	if !applied {
		metrics.ApprovalAppliesTotal.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	metrics.ApprovalAppliesTotal.WithLabelValues("applied").Inc()

	if _, err := s.audit.Record(ctx, s.decisionInput(r, models.EventAdminApprovalApproved)); err != nil {
		return true, err
	}

	return true, nil
}

// Reapply retries the idempotent apply of an approved request whose earlier
// apply failed. It reports whether this call performed the apply.
func (s *ApprovalService) Reapply(ctx context.Context, approvalID, adminID string) (*models.ApprovalRequest, bool, error) {
	if adminID == "" {
		return nil, false, &models.ValidationError{Field: "admin_id", Reason: "is required"}
	}

	r, err := s.store.Get(ctx, approvalID)
	if err != nil {
		return nil, false, err
	}
	if r.Status != models.ApprovalApproved {
		return nil, false, fmt.Errorf("request is %s: %w", r.Status, models.ErrInvalidState)
	}

	s.log.WithFields(logrus.Fields{
		"approval_id": approvalID,
		"admin_id":    adminID,
	}).Info("reapplying approved change")

	applied, err := s.apply(ctx, r)

	return r, applied, err
}

func (s *ApprovalService) decisionInput(r *models.ApprovalRequest, eventType string) models.AuditInput {
	voters := make([]string, 0, len(r.Votes))
	for _, v := range r.Votes {
		voters = append(voters, v.VoterID)
	}

	return models.AuditInput{
		SubjectID:    r.SubjectID,
		EventType:    eventType,
		FieldChanged: strings.Join(r.RequestDetails.Fields(), ","),
		ActorRole:    models.ActorAdmin,
		Metadata: map[string]any{
			"approval_id":  r.ApprovalID,
			"request_type": r.RequestType,
			"requested_by": r.RequestedBy,
			"voters":       voters,
			"approvals":    r.ApproveCount(),
			"rejections":   r.RejectCount(),
		},
	}
}

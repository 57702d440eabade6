package api_test

import (
	"context"

	"github.com/permitguard/permitguard/internal/models"
)

// mockAudit implements domain.AuditService for testing.
type mockAudit struct {
	recordFn     func(ctx context.Context, in models.AuditInput) (*models.AuditEntry, error)
	restrictedFn func(ctx context.Context, subjectID, field, actorRole string, md map[string]any) (*models.AuditEntry, error)
	historyFn    func(ctx context.Context, subjectID string, opts models.AuditQueryOpts) ([]models.AuditEntry, bool, error)
}

func (m *mockAudit) Record(ctx context.Context, in models.AuditInput) (*models.AuditEntry, error) {
	return m.recordFn(ctx, in)
}

func (m *mockAudit) RecordRestrictedAttempt(ctx context.Context, subjectID, field, actorRole string, md map[string]any) (*models.AuditEntry, error) {
	return m.restrictedFn(ctx, subjectID, field, actorRole, md)
}

func (m *mockAudit) History(ctx context.Context, subjectID string, opts models.AuditQueryOpts) ([]models.AuditEntry, bool, error) {
	return m.historyFn(ctx, subjectID, opts)
}

// mockIntegrity implements domain.IntegrityService for testing.
type mockIntegrity struct {
	verifyFn func(ctx context.Context, entryID string) (*models.IntegrityReport, error)
	chainFn  func(ctx context.Context, subjectID string) (*models.ChainReport, error)
}

func (m *mockIntegrity) Verify(ctx context.Context, entryID string) (*models.IntegrityReport, error) {
	return m.verifyFn(ctx, entryID)
}

func (m *mockIntegrity) VerifyChain(ctx context.Context, subjectID string) (*models.ChainReport, error) {
	return m.chainFn(ctx, subjectID)
}

// mockAnchors implements domain.AnchorService for testing.
type mockAnchors struct {
	status  models.QueueStatus
	retried int
	cleared int
}

func (m *mockAnchors) Status() models.QueueStatus { return m.status }
func (m *mockAnchors) RetryDeadLetters() int      { return m.retried }
func (m *mockAnchors) Clear() int                 { return m.cleared }

// mockLockout implements domain.LockoutService for testing.
type mockLockout struct {
	checkFn  func(ctx context.Context, subjectID string) (*models.LockoutStatus, error)
	unlockFn func(ctx context.Context, subjectID, adminID string) error
}

func (m *mockLockout) Check(ctx context.Context, subjectID string) (*models.LockoutStatus, error) {
	return m.checkFn(ctx, subjectID)
}

func (m *mockLockout) EnsureUnlocked(context.Context, string) error { return nil }

func (m *mockLockout) IncrementFailedAttempts(context.Context, string) (*models.LockoutStatus, error) {
	return &models.LockoutStatus{}, nil
}

func (m *mockLockout) ClearFailedAttempts(context.Context, string) error { return nil }

func (m *mockLockout) Unlock(ctx context.Context, subjectID, adminID string) error {
	return m.unlockFn(ctx, subjectID, adminID)
}

// mockChallenges implements domain.ChallengeService for testing.
type mockChallenges struct {
	requestFn func(ctx context.Context, subjectID, method, purpose string) (*models.IssuedChallenge, error)
	verifyFn  func(ctx context.Context, subjectID, code, method, purpose string) error
	statusFn  func(ctx context.Context, subjectID, purpose string) (*models.ChallengeStatus, error)
}

func (m *mockChallenges) Request(ctx context.Context, subjectID, method, purpose string) (*models.IssuedChallenge, error) {
	return m.requestFn(ctx, subjectID, method, purpose)
}

func (m *mockChallenges) Verify(ctx context.Context, subjectID, code, method, purpose string) error {
	return m.verifyFn(ctx, subjectID, code, method, purpose)
}

func (m *mockChallenges) Status(ctx context.Context, subjectID, purpose string) (*models.ChallengeStatus, error) {
	return m.statusFn(ctx, subjectID, purpose)
}

// mockApprovals implements domain.ApprovalService for testing.
type mockApprovals struct {
	createFn  func(ctx context.Context, req models.CreateApprovalRequest) (*models.ApprovalRequest, error)
	getFn     func(ctx context.Context, approvalID string) (*models.ApprovalRequest, error)
	listFn    func(ctx context.Context, opts models.ApprovalQueryOpts) ([]models.ApprovalRequest, bool, error)
	voteFn    func(ctx context.Context, approvalID, voterID string, req models.CastVoteRequest) (*models.ApprovalRequest, error)
	reapplyFn func(ctx context.Context, approvalID, adminID string) (*models.ApprovalRequest, bool, error)
}

func (m *mockApprovals) CreateRequest(ctx context.Context, req models.CreateApprovalRequest) (*models.ApprovalRequest, error) {
	return m.createFn(ctx, req)
}

func (m *mockApprovals) Get(ctx context.Context, approvalID string) (*models.ApprovalRequest, error) {
	return m.getFn(ctx, approvalID)
}

func (m *mockApprovals) List(ctx context.Context, opts models.ApprovalQueryOpts) ([]models.ApprovalRequest, bool, error) {
	return m.listFn(ctx, opts)
}

func (m *mockApprovals) CastVote(ctx context.Context, approvalID, voterID string, req models.CastVoteRequest) (*models.ApprovalRequest, error) {
	return m.voteFn(ctx, approvalID, voterID, req)
}

func (m *mockApprovals) Reapply(ctx context.Context, approvalID, adminID string) (*models.ApprovalRequest, bool, error) {
	return m.reapplyFn(ctx, approvalID, adminID)
}

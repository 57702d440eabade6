// Package domain defines the canonical service interfaces shared across the
// HTTP layer and the CLI. Consumers should depend on these interfaces rather
// than re-declaring equivalent ones.
package domain

import (
	"context"

	"github.com/permitguard/permitguard/internal/models"
)

// AuditService defines audit recording and history.
type AuditService interface {
	Record(ctx context.Context, in models.AuditInput) (*models.AuditEntry, error)
	RecordRestrictedAttempt(ctx context.Context, subjectID, field, actorRole string, metadata map[string]any) (*models.AuditEntry, error)
	History(ctx context.Context, subjectID string, opts models.AuditQueryOpts) ([]models.AuditEntry, bool, error)
}

// IntegrityService defines read-only verification of stored entries.
type IntegrityService interface {
	Verify(ctx context.Context, entryID string) (*models.IntegrityReport, error)
	VerifyChain(ctx context.Context, subjectID string) (*models.ChainReport, error)
}

// AnchorService defines the administrative view of the anchor queue.
type AnchorService interface {
	Status() models.QueueStatus
	RetryDeadLetters() int
	Clear() int
}

// LockoutService defines failed-attempt tracking.
type LockoutService interface {
	Check(ctx context.Context, subjectID string) (*models.LockoutStatus, error)
	EnsureUnlocked(ctx context.Context, subjectID string) error
	IncrementFailedAttempts(ctx context.Context, subjectID string) (*models.LockoutStatus, error)
	ClearFailedAttempts(ctx context.Context, subjectID string) error
	Unlock(ctx context.Context, subjectID, adminID string) error
}

// ChallengeService defines one-time verification codes.
type ChallengeService interface {
	Request(ctx context.Context, subjectID, method, purpose string) (*models.IssuedChallenge, error)
	Verify(ctx context.Context, subjectID, code, method, purpose string) error
	Status(ctx context.Context, subjectID, purpose string) (*models.ChallengeStatus, error)
}

// ApprovalService defines N-of-M consensus over admin-tier changes.
type ApprovalService interface {
	CreateRequest(ctx context.Context, req models.CreateApprovalRequest) (*models.ApprovalRequest, error)
	Get(ctx context.Context, approvalID string) (*models.ApprovalRequest, error)
	List(ctx context.Context, opts models.ApprovalQueryOpts) ([]models.ApprovalRequest, bool, error)
	CastVote(ctx context.Context, approvalID, voterID string, req models.CastVoteRequest) (*models.ApprovalRequest, error)
	Reapply(ctx context.Context, approvalID, adminID string) (*models.ApprovalRequest, bool, error)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/domain"
	"github.com/permitguard/permitguard/internal/metrics"
	"github.com/permitguard/permitguard/internal/models"
	"github.com/permitguard/permitguard/internal/security"
)

// Compile-time check: *ChallengeService must satisfy domain.ChallengeService.
var _ domain.ChallengeService = (*ChallengeService)(nil)

// LockoutGuard is the part of the lockout tracker challenges depend on.
type LockoutGuard interface {
	EnsureUnlocked(ctx context.Context, subjectID string) error
	IncrementFailedAttempts(ctx context.Context, subjectID string) (*models.LockoutStatus, error)
	ClearFailedAttempts(ctx context.Context, subjectID string) error
}

// ChallengePolicy configures issued codes.
type ChallengePolicy struct {
	TTL         time.Duration
	MaxAttempts int
	CodeLength  int
}

// ChallengeService issues and checks one-time verification codes.
type ChallengeService struct {
	store   ChallengeStore
	lockout LockoutGuard
	audit   AuditWriter
	hasher  *security.CodeHasher
	policy  ChallengePolicy
	now     Clock
	log     *logrus.Logger
}

// NewChallengeService creates a ChallengeService.
func NewChallengeService(
	store ChallengeStore, lockout LockoutGuard, audit AuditWriter, hasher *security.CodeHasher,
	policy ChallengePolicy, log *logrus.Logger,
) *ChallengeService {
	return &ChallengeService{
		store:   store,
		lockout: lockout,
		audit:   audit,
		hasher:  hasher,
		policy:  policy,
		now:     time.Now,
		log:     log,
	}
}

func validateChallengeArgs(subjectID, method, purpose string) error {
	if subjectID == "" {
		return &models.ValidationError{Field: "subject_id", Reason: "is required"}
	}
	if !models.ValidMethod(method) {
		return &models.ValidationError{Field: "method", Reason: "must be email or sms"}
	}
	if strings.TrimSpace(purpose) == "" {
		return &models.ValidationError{Field: "purpose", Reason: "is required"}
	}

	return nil
}

// Request issues a new code for (subjectID, purpose), replacing any pending
// one. The plaintext code is returned once and never stored.
func (s *ChallengeService) Request(
	ctx context.Context, subjectID, method, purpose string,
) (*models.IssuedChallenge, error) {
	if err := validateChallengeArgs(subjectID, method, purpose); err != nil {
		return nil, err
	}

	if err := s.lockout.EnsureUnlocked(ctx, subjectID); err != nil {
		return nil, err
	}

	code, err := security.GenerateCode(s.policy.CodeLength)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := &models.Challenge{
		SubjectID: subjectID,
		Purpose:   purpose,
		Method:    method,
		CodeHash:  s.hasher.Hash(subjectID, purpose, code),
		ExpiresAt: now.Add(s.policy.TTL),
		CreatedAt: now,
	}

	if err := s.store.Replace(ctx, c); err != nil {
		return nil, err
	}

	metrics.ChallengesTotal.WithLabelValues("issued").Inc()

	if _, err := s.audit.Record(ctx, models.AuditInput{
		SubjectID: subjectID,
		EventType: models.EventVerificationRequested,
		ActorRole: models.ActorUser,
		Metadata:  map[string]any{"method": method, "purpose": purpose},
	}); err != nil {
		return nil, err
	}

	return &models.IssuedChallenge{
		Code:      code,
		Method:    method,
		Purpose:   purpose,
		ExpiresAt: c.ExpiresAt,
	}, nil
}

// Verify checks code against the pending challenge. An expired or
// superseded challenge reports models.ErrChallengeNotFound so the caller
// knows to request a new code. A wrong code reports models.ErrInvalidCode,
// or a *models.LockoutError once the identity is locked.
func (s *ChallengeService) Verify(ctx context.Context, subjectID, code, method, purpose string) error {
	if err := validateChallengeArgs(subjectID, method, purpose); err != nil {
		return err
	}
	if code == "" {
		return &models.ValidationError{Field: "code", Reason: "is required"}
	}

	if err := s.lockout.EnsureUnlocked(ctx, subjectID); err != nil {
		metrics.ChallengesTotal.WithLabelValues("locked").Inc()
		return err
	}

	now := s.now()

	c, err := s.store.Get(ctx, subjectID, purpose)
	if err != nil {
		if errors.Is(err, models.ErrChallengeNotFound) {
			metrics.ChallengesTotal.WithLabelValues("not_found").Inc()
		}
		return err
	}

	if c.ExpiredAt(now) {
		if err := s.store.DeleteExpired(ctx, subjectID, purpose, now); err != nil {
			s.log.WithError(err).WithField("subject_id", subjectID).Warn("deleting expired challenge")
		}

		metrics.ChallengesTotal.WithLabelValues("not_found").Inc()

		return fmt.Errorf("code expired: %w", models.ErrChallengeNotFound)
	}

	if c.Supersedes(s.hasher.Hash(subjectID, purpose, code)) {
		metrics.ChallengesTotal.WithLabelValues("not_found").Inc()
		return fmt.Errorf("code was replaced by a newer one: %w", models.ErrChallengeNotFound)
	}

	if c.Method != method {
		return &models.ValidationError{Field: "method", Reason: "does not match the pending challenge"}
	}

	if !s.hasher.Matches(c.CodeHash, subjectID, purpose, code) {
		return s.miss(ctx, c)
	}

	ok, err := s.store.Consume(ctx, subjectID, purpose, c.CodeHash, now)
	if err != nil {
		return err
	}
	if !ok {
		metrics.ChallengesTotal.WithLabelValues("not_found").Inc()
		return models.ErrChallengeNotFound
	}

	if err := s.lockout.ClearFailedAttempts(ctx, subjectID); err != nil {
		return err
	}

	metrics.ChallengesTotal.WithLabelValues("verified").Inc()

	_, err = s.audit.Record(ctx, models.AuditInput{
		SubjectID: subjectID,
		EventType: models.EventVerificationSucceeded,
		ActorRole: models.ActorUser,
		Metadata:  map[string]any{"method": method, "purpose": purpose},
	})

	return err
}

// miss records a wrong code against the challenge and the lockout counter.
func (s *ChallengeService) miss(ctx context.Context, c *models.Challenge) error {
	used, consumed, err := s.store.RecordMiss(ctx, c.SubjectID, c.Purpose, c.CodeHash, s.policy.MaxAttempts)
	if err != nil {
		return err
	}

	status, err := s.lockout.IncrementFailedAttempts(ctx, c.SubjectID)
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"subject_id":      c.SubjectID,
		"purpose":         c.Purpose,
		"attempts_used":   used,
		"failed_attempts": status.FailedAttempts,
	}).Info("verification code rejected")

	if status.Locked {
		metrics.ChallengesTotal.WithLabelValues("locked").Inc()
		return &models.LockoutError{LockedUntil: *status.LockedUntil, RemainingMinutes: status.RemainingMinutes}
	}

	metrics.ChallengesTotal.WithLabelValues("invalid").Inc()

	if consumed {
		return fmt.Errorf("%w: no attempts remaining, request a new code", models.ErrInvalidCode)
	}

	return fmt.Errorf("%w: %d attempt(s) remaining", models.ErrInvalidCode, s.policy.MaxAttempts-used)
}

// Status reports whether a challenge is pending without revealing its code.
func (s *ChallengeService) Status(ctx context.Context, subjectID, purpose string) (*models.ChallengeStatus, error) {
	if subjectID == "" {
		return nil, &models.ValidationError{Field: "subject_id", Reason: "is required"}
	}

	now := s.now()

	c, err := s.store.Get(ctx, subjectID, purpose)
	if errors.Is(err, models.ErrChallengeNotFound) {
		return &models.ChallengeStatus{Pending: false}, nil
	}
	if err != nil {
		return nil, err
	}

	if c.ExpiredAt(now) {
		if err := s.store.DeleteExpired(ctx, subjectID, purpose, now); err != nil {
			return nil, err
		}

		return &models.ChallengeStatus{Pending: false}, nil
	}

	expires := c.ExpiresAt

	return &models.ChallengeStatus{
		Pending:           true,
		Method:            c.Method,
		ExpiresAt:         &expires,
		AttemptsRemaining: s.policy.MaxAttempts - c.AttemptsUsed,
	}, nil
}

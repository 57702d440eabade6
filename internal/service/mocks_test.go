package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/models"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

// fakeClock is a settable Clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingNotifier keeps every alert.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (n *recordingNotifier) Notify(a models.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]string, 0, len(n.alerts))
	for _, a := range n.alerts {
		out = append(out, a.Kind)
	}

	return out
}

func (n *recordingNotifier) count(kind string) int {
	c := 0
	for _, k := range n.kinds() {
		if k == kind {
			c++
		}
	}

	return c
}

// memAuditStore is an in-memory chained audit store. It also serves as the
// AnchorStore the queue writes outcomes to.
type memAuditStore struct {
	mu        sync.Mutex
	entries   []*models.AuditEntry
	appendErr error
	anchored  map[string]*models.AnchorReceipt
	failed    map[string]bool
}

func newMemAuditStore() *memAuditStore {
	return &memAuditStore{
		anchored: make(map[string]*models.AnchorReceipt),
		failed:   make(map[string]bool),
	}
}

func (m *memAuditStore) Append(_ context.Context, e *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		return m.appendErr
	}

	prev := ""
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].SubjectID == e.SubjectID {
			prev = m.entries[i].Hash
			break
		}
	}

	e.ID = fmt.Sprintf("entry-%d", len(m.entries)+1)
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	e.Seal(prev)

	cp := *e
	m.entries = append(m.entries, &cp)

	return nil
}

func (m *memAuditStore) Get(_ context.Context, id string) (*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}

	return nil, models.ErrEntryNotFound
}

func (m *memAuditStore) History(
	_ context.Context, subjectID string, opts models.AuditQueryOpts,
) ([]models.AuditEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.AuditEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.SubjectID != subjectID {
			continue
		}
		if opts.EventType != "" && e.EventType != opts.EventType {
			continue
		}
		out = append(out, *e)
	}

	return out, false, nil
}

func (m *memAuditStore) Chain(_ context.Context, subjectID string) ([]models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.AuditEntry
	for _, e := range m.entries {
		if e.SubjectID == subjectID {
			out = append(out, *e)
		}
	}

	return out, nil
}

func (m *memAuditStore) MarkAnchored(_ context.Context, id string, r *models.AnchorReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchored[id] = r

	return nil
}

func (m *memAuditStore) SetAnchorStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if status == models.AnchorStatusFailed {
		m.failed[id] = true
	}

	return nil
}

func (m *memAuditStore) PendingAnchors(_ context.Context, limit int) ([]models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.AuditEntry
	for _, e := range m.entries {
		if e.AnchorStatus == models.AnchorStatusPending && m.anchored[e.ID] == nil && len(out) < limit {
			out = append(out, *e)
		}
	}

	return out, nil
}

// tamper rewrites a stored field without resealing.
func (m *memAuditStore) tamper(id string, fn func(e *models.AuditEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.ID == id {
			fn(e)
		}
	}
}

func (m *memAuditStore) countEvent(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.entries {
		if e.EventType == eventType {
			n++
		}
	}

	return n
}

func (m *memAuditStore) isAnchored(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.anchored[id] != nil
}

func (m *memAuditStore) isFailed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.failed[id]
}

// fakeLedger answers submissions with a configurable function.
type fakeLedger struct {
	enabled bool
	mu      sync.Mutex
	calls   []string
	submit  func(n int, hash string) (*models.AnchorReceipt, error)
}

func (l *fakeLedger) Enabled() bool { return l.enabled }

func (l *fakeLedger) Submit(_ context.Context, _ models.AnchorOp, hash, _ string) (*models.AnchorReceipt, error) {
	l.mu.Lock()
	l.calls = append(l.calls, hash)
	n := len(l.calls)
	l.mu.Unlock()

	if l.submit == nil {
		return &models.AnchorReceipt{TxRef: "tx-" + hash}, nil
	}

	return l.submit(n, hash)
}

func (l *fakeLedger) submitted() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.calls...)
}

// stubAnchorer records what the recorder enqueues.
type stubAnchorer struct {
	enabled bool
	mu      sync.Mutex
	ops     []models.AnchorOp
	ids     []string
}

func (a *stubAnchorer) LedgerEnabled() bool { return a.enabled }

func (a *stubAnchorer) Enqueue(op models.AnchorOp, _, _, relatedEntryID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, op)
	a.ids = append(a.ids, relatedEntryID)
}

// memLockoutStore mirrors the SQL upsert: a locked identity is never
// incremented and crossing the threshold sets locked_until.
type memLockoutStore struct {
	mu     sync.Mutex
	states map[string]*models.LockoutState
}

func newMemLockoutStore() *memLockoutStore {
	return &memLockoutStore{states: make(map[string]*models.LockoutState)}
}

func (m *memLockoutStore) Get(_ context.Context, subjectID string) (*models.LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[subjectID]
	if !ok {
		return &models.LockoutState{SubjectID: subjectID}, nil
	}

	cp := *st

	return &cp, nil
}

func (m *memLockoutStore) RecordFailure(
	_ context.Context, subjectID string, now time.Time, threshold int, lockFor time.Duration,
) (*models.LockoutState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[subjectID]
	if !ok {
		st = &models.LockoutState{SubjectID: subjectID}
		m.states[subjectID] = st
	}

	if st.LockedAt(now) {
		cp := *st
		return &cp, false, nil
	}

	if st.LockedUntil != nil {
		st.FailedAttempts = 0
		st.LockedUntil = nil
	}

	st.FailedAttempts++
	failedAt := now
	st.LastFailedAt = &failedAt

	newlyLocked := false
	if st.FailedAttempts >= threshold {
		until := now.Add(lockFor)
		st.LockedUntil = &until
		newlyLocked = true
	}

	cp := *st

	return &cp, newlyLocked, nil
}

func (m *memLockoutStore) ClearExpired(_ context.Context, subjectID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[subjectID]
	if !ok || st.LockedUntil == nil || now.Before(*st.LockedUntil) {
		return false, nil
	}

	st.FailedAttempts = 0
	st.LockedUntil = nil

	return true, nil
}

func (m *memLockoutStore) Clear(_ context.Context, subjectID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[subjectID]
	if !ok {
		return false, nil
	}

	delete(m.states, subjectID)

	return st.LockedAt(now), nil
}

func (m *memLockoutStore) attempts(subjectID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.states[subjectID]; ok {
		return st.FailedAttempts
	}

	return 0
}

// memChallengeStore mirrors the challenge table keyed by (subject, purpose).
type memChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*models.Challenge
}

func newMemChallengeStore() *memChallengeStore {
	return &memChallengeStore{challenges: make(map[string]*models.Challenge)}
}

func challengeKey(subjectID, purpose string) string { return subjectID + "\x00" + purpose }

func (m *memChallengeStore) Replace(_ context.Context, c *models.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	cp.AttemptsUsed = 0
	cp.SupersededHashes = nil

	if old, ok := m.challenges[challengeKey(c.SubjectID, c.Purpose)]; ok {
		cp.SupersededHashes = append(append([]string(nil), old.SupersededHashes...), old.CodeHash)
	}

	m.challenges[challengeKey(c.SubjectID, c.Purpose)] = &cp

	return nil
}

func (m *memChallengeStore) Get(_ context.Context, subjectID, purpose string) (*models.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.challenges[challengeKey(subjectID, purpose)]
	if !ok {
		return nil, models.ErrChallengeNotFound
	}

	cp := *c

	return &cp, nil
}

func (m *memChallengeStore) RecordMiss(
	_ context.Context, subjectID, purpose, codeHash string, maxAttempts int,
) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := challengeKey(subjectID, purpose)

	c, ok := m.challenges[key]
	if !ok || c.CodeHash != codeHash {
		return 0, false, models.ErrChallengeNotFound
	}

	c.AttemptsUsed++
	if c.AttemptsUsed >= maxAttempts {
		delete(m.challenges, key)
		return c.AttemptsUsed, true, nil
	}

	return c.AttemptsUsed, false, nil
}

func (m *memChallengeStore) Consume(
	_ context.Context, subjectID, purpose, codeHash string, now time.Time,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := challengeKey(subjectID, purpose)

	c, ok := m.challenges[key]
	if !ok || c.CodeHash != codeHash || c.ExpiredAt(now) {
		return false, nil
	}

	delete(m.challenges, key)

	return true, nil
}

func (m *memChallengeStore) DeleteExpired(_ context.Context, subjectID, purpose string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := challengeKey(subjectID, purpose)
	if c, ok := m.challenges[key]; ok && c.ExpiredAt(now) {
		delete(m.challenges, key)
	}

	return nil
}

// memApprovalStore implements the same conditional vote append and status
// compare-and-swap the SQL store does.
type memApprovalStore struct {
	mu        sync.Mutex
	requests  map[string]*models.ApprovalRequest
	createErr error
}

func newMemApprovalStore() *memApprovalStore {
	return &memApprovalStore{requests: make(map[string]*models.ApprovalRequest)}
}

func copyRequest(r *models.ApprovalRequest) *models.ApprovalRequest {
	cp := *r
	cp.Votes = append([]models.Vote{}, r.Votes...)

	return &cp
}

func (m *memApprovalStore) Create(_ context.Context, r *models.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.requests[r.ApprovalID]; ok {
		return models.ErrDuplicateKey
	}

	m.requests[r.ApprovalID] = copyRequest(r)

	return nil
}

func (m *memApprovalStore) Get(_ context.Context, approvalID string) (*models.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[approvalID]
	if !ok {
		return nil, models.ErrApprovalNotFound
	}

	return copyRequest(r), nil
}

func (m *memApprovalStore) List(
	_ context.Context, opts models.ApprovalQueryOpts,
) ([]models.ApprovalRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ApprovalRequest
	for _, r := range m.requests {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if opts.SubjectID != "" && r.SubjectID != opts.SubjectID {
			continue
		}
		out = append(out, *copyRequest(r))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	return out, false, nil
}

func (m *memApprovalStore) AppendVote(
	_ context.Context, approvalID string, vote models.Vote, now time.Time,
) (*models.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[approvalID]
	if !ok {
		return nil, models.ErrApprovalNotFound
	}

	switch {
	case r.RequestedBy == vote.VoterID:
		return nil, models.ErrSelfApproval
	case r.Status != models.ApprovalPending || !now.Before(r.ExpiresAt):
		return nil, models.ErrInvalidState
	case r.HasVoted(vote.VoterID):
		return nil, models.ErrDuplicateVote
	}

	r.Votes = append(r.Votes, vote)
	r.UpdatedAt = now

	return copyRequest(r), nil
}

func (m *memApprovalStore) TransitionStatus(
	_ context.Context, approvalID, from, to string, now time.Time,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[approvalID]
	if !ok || r.Status != from {
		return false, nil
	}

	r.Status = to
	r.DecidedAt = &now

	return true, nil
}

func (m *memApprovalStore) ExpireIfDue(_ context.Context, approvalID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[approvalID]
	if !ok || r.Status != models.ApprovalPending || now.Before(r.ExpiresAt) {
		return false, nil
	}

	r.Status = models.ApprovalExpired
	r.DecidedAt = &now

	return true, nil
}

func (m *memApprovalStore) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, r := range m.requests {
		if r.Status == models.ApprovalPending && !now.Before(r.ExpiresAt) {
			r.Status = models.ApprovalExpired
			r.DecidedAt = &now
			n++
		}
	}

	return n, nil
}

// memApplier applies each approval at most once and counts real applies.
type memApplier struct {
	mu       sync.Mutex
	applied  map[string]bool
	profiles map[string]map[string]string
	applies  int
	failNext error
}

func newMemApplier() *memApplier {
	return &memApplier{applied: make(map[string]bool), profiles: make(map[string]map[string]string)}
}

func (a *memApplier) ApplyApproved(
	_ context.Context, approvalID, subjectID string, fields map[string]string,
) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.failNext != nil {
		err := a.failNext
		a.failNext = nil
		return false, err
	}

	if a.applied[approvalID] {
		return false, nil
	}

	a.applied[approvalID] = true
	a.applies++

	if a.profiles[subjectID] == nil {
		a.profiles[subjectID] = make(map[string]string)
	}
	for k, v := range fields {
		a.profiles[subjectID][k] = v
	}

	return true, nil
}

func (a *memApplier) applyCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.applies
}

// recordingAudit is an AuditWriter that keeps inputs in memory.
type recordingAudit struct {
	mu     sync.Mutex
	inputs []models.AuditInput
	err    error
}

func (a *recordingAudit) Record(_ context.Context, in models.AuditInput) (*models.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return nil, a.err
	}

	a.inputs = append(a.inputs, in)

	return &models.AuditEntry{ID: fmt.Sprintf("entry-%d", len(a.inputs)), SubjectID: in.SubjectID, EventType: in.EventType}, nil
}

func (a *recordingAudit) count(eventType string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, in := range a.inputs {
		if in.EventType == eventType {
			n++
		}
	}

	return n
}

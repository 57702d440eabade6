package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Audit event types.
const (
	EventProfileUpdate           = "profile_update"
	EventEmailChange             = "email_change"
	EventPasswordChange          = "password_change"
	EventContactUpdate           = "contact_update"
	EventNameUpdate              = "name_update"
	EventIDUpdate                = "id_update"
	EventAvatarUpdate            = "avatar_update"
	EventRestrictedFieldAttempt  = "restricted_field_attempt"
	EventAccountLockout          = "account_lockout"
	EventAccountUnlock           = "account_unlock"
	EventVerificationRequested   = "verification_requested"
	EventVerificationSucceeded   = "verification_succeeded"
	EventAdminApprovalRequest    = "admin_approval_request"
	EventAdminApprovalAbandoned  = "admin_approval_request_abandoned"
	EventAdminApprovalApproved   = "admin_approval_approved"
	EventAdminApprovalRejected   = "admin_approval_rejected"
	EventAdminApprovalApplyError = "admin_approval_apply_failed"
	EventSecurity                = "security_event"
)

// Actor roles recorded on entries written by the subsystem itself.
const (
	ActorSystem = "system"
	ActorAdmin  = "admin"
	ActorUser   = "user"
)

// Anchor statuses reported for an audit entry.
const (
	AnchorStatusPending  = "pending"
	AnchorStatusAnchored = "anchored"
	AnchorStatusFailed   = "failed"
	AnchorStatusDisabled = "disabled"
)

// AuditEntry is a single tamper-evident audit record. Everything except the
// verification and anchor fields is immutable once written.
type AuditEntry struct {
	ID             string         `json:"id"`
	SubjectID      string         `json:"subject_id"`
	EventType      string         `json:"event_type"`
	FieldChanged   string         `json:"field_changed,omitempty"`
	OldValue       string         `json:"old_value,omitempty"`
	NewValue       string         `json:"new_value,omitempty"`
	ActorRole      string         `json:"actor_role"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	PrevHash       string         `json:"prev_hash"`
	Hash           string         `json:"hash"`
	Verified       bool           `json:"verified"`
	AnchorStatus   string         `json:"anchor_status"`
	AnchorTxRef    string         `json:"anchor_tx_ref,omitempty"`
	AnchorBlockRef string         `json:"anchor_block_ref,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// canonicalEntry is the hashed projection of an AuditEntry. Field order is
// fixed by the struct definition so encoding/json output is stable.
type canonicalEntry struct {
	SubjectID    string `json:"subjectId"`
	EventType    string `json:"eventType"`
	FieldChanged string `json:"fieldChanged"`
	OldValue     string `json:"oldValue"`
	NewValue     string `json:"newValue"`
	Timestamp    string `json:"timestamp"`
	PrevHash     string `json:"prevHash"`
}

// CanonicalTimestamp formats t the way it is hashed. Postgres keeps
// microseconds, so anything finer would not survive a round trip.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format("2006-01-02T15:04:05.000000Z")
}

// ComputeHash returns the hex SHA-256 of the entry's canonical JSON form.
func (e *AuditEntry) ComputeHash() string {
	doc, _ := json.Marshal(canonicalEntry{ //nolint:errcheck // only string fields, cannot fail.
		SubjectID:    e.SubjectID,
		EventType:    e.EventType,
		FieldChanged: e.FieldChanged,
		OldValue:     e.OldValue,
		NewValue:     e.NewValue,
		Timestamp:    CanonicalTimestamp(e.CreatedAt),
		PrevHash:     e.PrevHash,
	})

	sum := sha256.Sum256(doc)

	return hex.EncodeToString(sum[:])
}

// Seal links the entry to its predecessor and fixes its hash.
func (e *AuditEntry) Seal(prevHash string) {
	e.PrevHash = prevHash
	e.Hash = e.ComputeHash()
}

// AuditInput is what callers hand to the recorder for one sensitive mutation.
type AuditInput struct {
	SubjectID    string         `json:"subject_id"`
	EventType    string         `json:"event_type"`
	FieldChanged string         `json:"field_changed"`
	OldValue     string         `json:"old_value"`
	NewValue     string         `json:"new_value"`
	ActorRole    string         `json:"actor_role"`
	Metadata     map[string]any `json:"metadata"`
}

// Validate checks required fields.
func (in *AuditInput) Validate() error {
	if in.SubjectID == "" {
		return &ValidationError{Field: "subject_id", Reason: "is required"}
	}
	if in.EventType == "" {
		return &ValidationError{Field: "event_type", Reason: "is required"}
	}
	if in.ActorRole == "" {
		return &ValidationError{Field: "actor_role", Reason: "is required"}
	}
	if len(in.OldValue) > MaxAuditValueLen {
		return &ValidationError{Field: "old_value", Reason: ErrFieldTooLong("old_value", MaxAuditValueLen).Error()}
	}
	if len(in.NewValue) > MaxAuditValueLen {
		return &ValidationError{Field: "new_value", Reason: ErrFieldTooLong("new_value", MaxAuditValueLen).Error()}
	}

	return nil
}

// MaxAuditValueLen bounds old/new values stored on an entry.
const MaxAuditValueLen = 4096

// AuditQueryOpts holds filters for querying a subject's audit history.
type AuditQueryOpts struct {
	EventType string
	Since     *time.Time
	Limit     int
	Offset    int
}

// IntegrityReport is the result of verifying a single entry.
type IntegrityReport struct {
	EntryID      string `json:"entry_id"`
	Valid        bool   `json:"valid"`
	ExpectedHash string `json:"expected_hash"`
	StoredHash   string `json:"stored_hash"`
	AnchorStatus string `json:"anchor_status"`
	AnchorTxRef  string `json:"anchor_tx_ref,omitempty"`
}

// ChainReport is the result of walking one subject's hash chain.
type ChainReport struct {
	SubjectID    string `json:"subject_id"`
	Entries      int    `json:"entries"`
	Valid        bool   `json:"valid"`
	BrokenAt     string `json:"broken_at,omitempty"`
	BrokenReason string `json:"broken_reason,omitempty"`
}

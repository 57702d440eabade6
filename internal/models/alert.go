package models

import "time"

// Alert kinds raised to the notification dispatcher.
const (
	AlertLockout           = "account_lockout"
	AlertRestrictedField   = "restricted_field_attempt"
	AlertIntegrityMismatch = "integrity_mismatch"
	AlertAnchorDeadLetter  = "anchor_dead_letter"
	AlertApprovalDecision  = "approval_decision"
)

// Alert is a fire-and-forget notification for administrators.
type Alert struct {
	Kind      string         `json:"kind"`
	SubjectID string         `json:"subject_id,omitempty"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}

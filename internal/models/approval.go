package models

import (
	"sort"
	"strings"
	"time"
)

// Approval request statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalExpired  = "expired"
)

// Approval request types.
const (
	RequestEmailChange         = "email_change"
	RequestPasswordChange      = "password_change"
	RequestPersonalInfoChange  = "personal_info_change"
	RequestIDVerification      = "id_verification"
	RequestAccountStatusChange = "account_status_change"
	RequestRoleChange          = "role_change"
	RequestMaintenanceMode     = "maintenance_mode"
	RequestOther               = "other"
)

var validRequestTypes = map[string]bool{
	RequestEmailChange:         true,
	RequestPasswordChange:      true,
	RequestPersonalInfoChange:  true,
	RequestIDVerification:      true,
	RequestAccountStatusChange: true,
	RequestRoleChange:          true,
	RequestMaintenanceMode:     true,
	RequestOther:               true,
}

// ValidRequestType reports whether t is a known approval request type.
func ValidRequestType(t string) bool { return validRequestTypes[t] }

// ChangeDetails is the before/after field set of a pending change.
type ChangeDetails struct {
	Old map[string]string `json:"old"`
	New map[string]string `json:"new"`
}

// Fields returns the changed field names, sorted.
func (d ChangeDetails) Fields() []string {
	fields := make([]string, 0, len(d.New))
	for k := range d.New {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	return fields
}

// Vote is one approver's decision. Comment and RequiredChanges are kept
// apart so reviewers' general remarks never mix with actionable items.
type Vote struct {
	VoterID         string    `json:"voter_id"`
	Approved        bool      `json:"approved"`
	Comment         string    `json:"comment,omitempty"`
	RequiredChanges []string  `json:"required_changes,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// ApprovalRequest is a pending admin-tier change awaiting N-of-M votes.
type ApprovalRequest struct {
	ApprovalID        string        `json:"approval_id"`
	RequestType       string        `json:"request_type"`
	SubjectID         string        `json:"subject_id"`
	RequestedBy       string        `json:"requested_by"`
	RequestDetails    ChangeDetails `json:"request_details"`
	Votes             []Vote        `json:"votes"`
	Status            string        `json:"status"`
	RequiredApprovals int           `json:"required_approvals"`
	RejectThreshold   int           `json:"reject_threshold"`
	ExpiresAt         time.Time     `json:"expires_at"`
	DecidedAt         *time.Time    `json:"decided_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// ApproveCount returns the number of approving votes.
func (r *ApprovalRequest) ApproveCount() int {
	n := 0
	for _, v := range r.Votes {
		if v.Approved {
			n++
		}
	}

	return n
}

// RejectCount returns the number of rejecting votes.
func (r *ApprovalRequest) RejectCount() int {
	return len(r.Votes) - r.ApproveCount()
}

// HasVoted reports whether voterID already cast a vote.
func (r *ApprovalRequest) HasVoted(voterID string) bool {
	for _, v := range r.Votes {
		if v.VoterID == voterID {
			return true
		}
	}

	return false
}

// Terminal reports whether the request accepts no further votes.
func (r *ApprovalRequest) Terminal() bool {
	return r.Status != ApprovalPending
}

// Outcome returns the status the current votes call for, or pending.
func (r *ApprovalRequest) Outcome() string {
	if r.ApproveCount() >= r.RequiredApprovals {
		return ApprovalApproved
	}
	if r.RejectCount() >= r.RejectThreshold {
		return ApprovalRejected
	}

	return ApprovalPending
}

// CreateApprovalRequest is the input for opening a consensus request.
type CreateApprovalRequest struct {
	RequestType       string        `json:"request_type"`
	SubjectID         string        `json:"subject_id"`
	RequestedBy       string        `json:"-"`
	RequestDetails    ChangeDetails `json:"request_details"`
	RequiredApprovals int           `json:"required_approvals"`
}

// Validate checks required fields.
func (r *CreateApprovalRequest) Validate() error {
	if !ValidRequestType(r.RequestType) {
		return &ValidationError{Field: "request_type", Reason: "is not a known request type"}
	}
	if r.SubjectID == "" {
		return &ValidationError{Field: "subject_id", Reason: "is required"}
	}
	if r.RequestedBy == "" {
		return &ValidationError{Field: "requested_by", Reason: "is required"}
	}
	if len(r.RequestDetails.New) == 0 {
		return &ValidationError{Field: "request_details.new", Reason: "must name at least one field"}
	}
	if r.RequiredApprovals < 0 {
		return &ValidationError{Field: "required_approvals", Reason: "must not be negative"}
	}

	return nil
}

// CastVoteRequest is the input for one vote.
type CastVoteRequest struct {
	Approved        bool     `json:"approved"`
	Comment         string   `json:"comment"`
	RequiredChanges []string `json:"required_changes"`
}

// Validate checks field lengths.
func (r *CastVoteRequest) Validate() error {
	if len(r.Comment) > 2000 {
		return &ValidationError{Field: "comment", Reason: ErrFieldTooLong("comment", 2000).Error()}
	}
	for _, rc := range r.RequiredChanges {
		if strings.TrimSpace(rc) == "" {
			return &ValidationError{Field: "required_changes", Reason: "must not contain empty items"}
		}
	}

	return nil
}

// ApprovalQueryOpts filters approval listings.
type ApprovalQueryOpts struct {
	Status    string
	SubjectID string
	Limit     int
	Offset    int
}

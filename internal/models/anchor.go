package models

import "time"

// AnchorOp names the kind of ledger submission.
type AnchorOp string

// Anchor operations.
const (
	OpAnchorAuditHash  AnchorOp = "anchor_audit_hash"
	OpCriticalEvent    AnchorOp = "critical_event"
	OpApprovalDecision AnchorOp = "approval_decision"
)

// AnchorItem is one pending ledger submission.
type AnchorItem struct {
	ID             uint64    `json:"id"`
	Op             AnchorOp  `json:"op"`
	Hash           string    `json:"hash"`
	Label          string    `json:"label"`
	RelatedEntryID string    `json:"related_entry_id,omitempty"`
	Retries        int       `json:"retries"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	LastError      string    `json:"last_error,omitempty"`
}

// DeadLetter is an item that exhausted its retry budget.
type DeadLetter struct {
	Item     AnchorItem `json:"item"`
	Reason   string     `json:"reason"`
	FailedAt time.Time  `json:"failed_at"`
}

// QueueStatus is a point-in-time view of the anchor queue.
type QueueStatus struct {
	QueueLength int          `json:"queue_length"`
	Processing  bool         `json:"processing"`
	InFlight    int          `json:"in_flight"`
	Items       []AnchorItem `json:"items"`
	DeadLetters []DeadLetter `json:"dead_letters"`
	LedgerOn    bool         `json:"ledger_enabled"`
}

// AnchorReceipt is what the external ledger returns for a submission.
type AnchorReceipt struct {
	TxRef    string `json:"tx_ref"`
	BlockRef string `json:"block_ref,omitempty"`
}

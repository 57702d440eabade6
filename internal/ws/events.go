package ws

import (
	"encoding/json"
	"strings"
	"time"
)

// Event families a console can subscribe to. The family is the event type
// up to the first dot: "alert.account_lockout" belongs to FamilyAlert.
const (
	FamilyAlert = "alert"
	FamilyAudit = "audit"
)

// Event is the structured message sent to WebSocket clients.
type Event struct {
	Type string          `json:"type"`
	ID   uint64          `json:"id"`
	Data json.RawMessage `json:"data"`
	Time time.Time       `json:"time"`
}

// Family returns the event family of e.
func (e *Event) Family() string {
	return familyOf(e.Type)
}

func familyOf(eventType string) string {
	family, _, _ := strings.Cut(eventType, ".")
	return family
}

// SubscribeMsg is sent by a console after connecting. LastEventID resumes
// delivery after a reconnect; Families limits which events it receives
// (all when empty).
type SubscribeMsg struct {
	Type        string   `json:"type"`
	LastEventID uint64   `json:"last_event_id"`
	Families    []string `json:"families,omitempty"`
}

// ResetMsg tells the client to do a full refresh (requested events too old).
type ResetMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// outbound is an encoded event queued for the Run loop.
type outbound struct {
	family string
	msg    []byte
}

package models

import "time"

// Subject is the account/profile an approved change is applied to.
type Subject struct {
	ID        string            `json:"id"`
	Profile   map[string]string `json:"profile"`
	UpdatedAt time.Time         `json:"updated_at"`
}

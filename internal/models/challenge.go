package models

import "time"

// Verification methods.
const (
	MethodEmail = "email"
	MethodSMS   = "sms"
)

// Challenge is a stored one-time code. Only the code hash is kept.
type Challenge struct {
	SubjectID    string    `json:"subject_id"`
	Purpose      string    `json:"purpose"`
	Method       string    `json:"method"`
	CodeHash     string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	AttemptsUsed int       `json:"attempts_used"`
	CreatedAt    time.Time `json:"created_at"`

	// SupersededHashes are code hashes of challenges this one replaced.
	SupersededHashes []string `json:"-"`
}

// ExpiredAt reports whether the challenge has expired at now.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Supersedes reports whether codeHash belongs to a challenge this one replaced.
func (c *Challenge) Supersedes(codeHash string) bool {
	for _, h := range c.SupersededHashes {
		if h == codeHash {
			return true
		}
	}

	return false
}

// IssuedChallenge is returned once to the caller, who delivers the code.
type IssuedChallenge struct {
	Code      string    `json:"code"`
	Method    string    `json:"method"`
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChallengeStatus reports a pending challenge without revealing the code.
type ChallengeStatus struct {
	Pending           bool       `json:"pending"`
	Method            string     `json:"method,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	AttemptsRemaining int        `json:"attempts_remaining,omitempty"`
}

// ValidMethod reports whether m is a supported delivery method.
func ValidMethod(m string) bool {
	return m == MethodEmail || m == MethodSMS
}

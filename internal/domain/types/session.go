package types

import "time"

// Proof is the signed challenge attached to authenticated requests.
type Proof struct {
	Challenge string    `json:"challenge"`
	Signature string    `json:"signature"` // base64 Ed25519 signature over Challenge
	PublicKey string    `json:"public_key"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the proof is populated and unexpired at now.
func (p Proof) Valid(now time.Time) bool {
	return p.Signature != "" && now.Before(p.ExpiresAt)
}

// SessionState tracks Session Bootstrap progress.
type SessionState int

const (
	StateUnresolved SessionState = iota
	StateAuthenticating
	StateSigning
	StateAuthenticated
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateAuthenticating:
		return "authenticating"
	case StateSigning:
		return "signing"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

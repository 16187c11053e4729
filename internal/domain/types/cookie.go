package types

import "time"

// Cookie names shared with the browser client.
const (
	CookiePublicKey = "publicKey"
	CookieProof     = "CSRFChallenge"
)

// Cookie is a named value with an optional lifetime. A zero MaxAge is a
// session cookie with no expiry.
type Cookie struct {
	Name    string        `json:"name"`
	Value   string        `json:"value"`
	Path    string        `json:"path,omitempty"`
	MaxAge  time.Duration `json:"-"`
	Expires time.Time     `json:"expires,omitempty"`
}

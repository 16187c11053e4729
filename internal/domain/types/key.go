package types

// KeyHash is the lowercase hex SHA-256 of a base64 public key. It identifies
// a key locally and routes it on the server.
type KeyHash string

// String returns the string form of the hash.
func (h KeyHash) String() string { return string(h) }

// Short returns the first 12 characters of the hash for display.
func (h KeyHash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// KeySource records where a KeyRecord came from.
type KeySource string

const (
	// KeySourceLocal marks a record generated or imported on this machine.
	KeySourceLocal KeySource = ""
	// KeySourceCookie marks a record synthesized from the publicKey cookie.
	// It carries no private key and is never persisted.
	KeySourceCookie KeySource = "cookie"
)

// KeyRecord is a locally held Ed25519 credential.
//
// PublicKey is the standard base64 of the raw 32-byte public key and
// PrivateKey the standard base64 of its PKCS#8 DER encoding. Timestamp is in
// unix milliseconds.
type KeyRecord struct {
	PublicKeyHash KeyHash   `json:"publicKeyHash"`
	PublicKey     string    `json:"publicKey"`
	PrivateKey    string    `json:"privateKey,omitempty"`
	Timestamp     int64     `json:"timestamp,omitempty"`
	Source        KeySource `json:"type,omitempty"`
}

// HasPrivateKey reports whether the record can sign.
func (r KeyRecord) HasPrivateKey() bool { return r.PrivateKey != "" }

// Collection is the ordered set of known keys, unique by PublicKeyHash.
type Collection []KeyRecord

// Find returns the record with the given hash.
func (c Collection) Find(hash KeyHash) (KeyRecord, bool) {
	for _, r := range c {
		if r.PublicKeyHash == hash {
			return r, true
		}
	}
	return KeyRecord{}, false
}

// Clone returns a copy that shares no backing array with c.
func (c Collection) Clone() Collection {
	if c == nil {
		return Collection{}
	}
	out := make(Collection, len(c))
	copy(out, c)
	return out
}

package crypto

import (
	"promptctl/internal/domain"
)

// ValidateRecord checks that rec's hash and private key agree with its
// public key. Presence of the fields is the caller's concern.
func ValidateRecord(rec domain.KeyRecord) error {
	if _, err := DecodePublicKey(rec.PublicKey); err != nil {
		return &domain.ValidationError{Field: "publicKey", Reason: "not an Ed25519 public key", Err: err}
	}
	if HashPublicKey(rec.PublicKey) != rec.PublicKeyHash {
		return &domain.ValidationError{Field: "publicKeyHash", Reason: "does not match publicKey"}
	}
	ok, err := MatchesPublicKey(rec.PrivateKey, rec.PublicKey)
	if err != nil {
		return &domain.ValidationError{Field: "privateKey", Reason: "not an Ed25519 PKCS#8 key", Err: err}
	}
	if !ok {
		return &domain.ValidationError{Field: "privateKey", Reason: "does not match publicKey"}
	}
	return nil
}

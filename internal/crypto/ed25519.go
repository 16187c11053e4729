package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"promptctl/internal/domain"
	"promptctl/internal/util/memzero"
)

var errNotEd25519 = errors.New("not an Ed25519 key")

// GenerateKeyRecord creates a fresh Ed25519 key pair and returns it as a
// complete KeyRecord stamped with now.
func GenerateKeyRecord(now time.Time) (domain.KeyRecord, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return domain.KeyRecord{}, &domain.CryptoError{Op: "generate", Err: err}
	}
	defer memzero.Zero(priv)
	return NewKeyRecord(priv, now)
}

// NewKeyRecord encodes priv and its public half into a KeyRecord.
func NewKeyRecord(priv ed25519.PrivateKey, now time.Time) (domain.KeyRecord, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return domain.KeyRecord{}, &domain.CryptoError{Op: "encode", Err: errNotEd25519}
	}
	privB64, err := EncodePrivateKey(priv)
	if err != nil {
		return domain.KeyRecord{}, err
	}
	pubB64 := EncodePublicKey(priv.Public().(ed25519.PublicKey))
	return domain.KeyRecord{
		PublicKeyHash: HashPublicKey(pubB64),
		PublicKey:     pubB64,
		PrivateKey:    privB64,
		Timestamp:     now.UnixMilli(),
	}, nil
}

// HashPublicKey returns the hex SHA-256 of the base64 text of a public key.
// The text, not the raw key bytes, is hashed so the value matches the server
// and the browser client.
func HashPublicKey(publicKeyB64 string) domain.KeyHash {
	sum := sha256.Sum256([]byte(publicKeyB64))
	return domain.KeyHash(hex.EncodeToString(sum[:]))
}

// EncodePublicKey returns the base64 of the raw 32-byte public key.
func EncodePublicKey(pub ed25519.PublicKey) string { return B64(pub) }

// DecodePublicKey parses a base64 raw public key.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := unB64(s)
	if err != nil {
		return nil, &domain.CryptoError{Op: "decode public key", Err: err}
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, &domain.CryptoError{
			Op:  "decode public key",
			Err: fmt.Errorf("want %d bytes, got %d", ed25519.PublicKeySize, len(b)),
		}
	}
	return ed25519.PublicKey(b), nil
}

// EncodePrivateKey returns the base64 of the PKCS#8 DER encoding of priv.
func EncodePrivateKey(priv ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", &domain.CryptoError{Op: "encode private key", Err: err}
	}
	defer memzero.Zero(der)
	return B64(der), nil
}

// DecodePrivateKey parses a base64 PKCS#8 Ed25519 private key. Callers
// should wipe the result when done.
func DecodePrivateKey(s string) (ed25519.PrivateKey, error) {
	der, err := unB64(s)
	if err != nil {
		return nil, &domain.CryptoError{Op: "decode private key", Err: err}
	}
	defer memzero.Zero(der)
	return parsePKCS8(der)
}

func parsePKCS8(der []byte) (ed25519.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, &domain.CryptoError{Op: "parse pkcs8", Err: err}
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, &domain.CryptoError{Op: "parse pkcs8", Err: errNotEd25519}
	}
	return priv, nil
}

// SignChallenge signs challenge with the record's private key and returns the
// base64 signature.
func SignChallenge(rec domain.KeyRecord, challenge string) (string, error) {
	if !rec.HasPrivateKey() {
		return "", &domain.CryptoError{Op: "sign", Err: domain.ErrNoPrivateKey}
	}
	priv, err := DecodePrivateKey(rec.PrivateKey)
	if err != nil {
		return "", err
	}
	defer memzero.Zero(priv)
	return B64(ed25519.Sign(priv, []byte(challenge))), nil
}

// VerifyChallenge checks a base64 signature over challenge against a base64
// public key.
func VerifyChallenge(publicKeyB64, challenge, signatureB64 string) bool {
	pub, err := DecodePublicKey(publicKeyB64)
	if err != nil {
		return false
	}
	sig, err := unB64(signatureB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(challenge), sig)
}

// MatchesPublicKey reports whether the base64 private key belongs to the
// base64 public key.
func MatchesPublicKey(privateKeyB64, publicKeyB64 string) (bool, error) {
	priv, err := DecodePrivateKey(privateKeyB64)
	if err != nil {
		return false, err
	}
	defer memzero.Zero(priv)
	return EncodePublicKey(priv.Public().(ed25519.PublicKey)) == publicKeyB64, nil
}

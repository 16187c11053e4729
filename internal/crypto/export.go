package crypto

import (
	"crypto/ed25519"
	"encoding/pem"
	"strings"

	"golang.org/x/crypto/ssh"

	"promptctl/internal/domain"
	"promptctl/internal/util/memzero"
)

// ExportOpenSSH returns the record's private key as an unencrypted OpenSSH
// PEM block, ready for ImportKey or ssh-keygen.
func ExportOpenSSH(rec domain.KeyRecord, comment string) ([]byte, error) {
	if !rec.HasPrivateKey() {
		return nil, &domain.CryptoError{Op: "export", Err: domain.ErrNoPrivateKey}
	}
	priv, err := DecodePrivateKey(rec.PrivateKey)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(priv)
	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, &domain.CryptoError{Op: "export", Err: err}
	}
	return pem.EncodeToMemory(block), nil
}

// AuthorizedKey returns the "ssh-ed25519 AAAA..." line for the record's
// public key.
func AuthorizedKey(rec domain.KeyRecord) (string, error) {
	pub, err := sshPublicKey(rec.PublicKey)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))), nil
}

// Fingerprint returns the OpenSSH SHA256 fingerprint of a base64 public key,
// or an empty string if the key does not decode.
func Fingerprint(publicKeyB64 string) string {
	pub, err := sshPublicKey(publicKeyB64)
	if err != nil {
		return ""
	}
	return ssh.FingerprintSHA256(pub)
}

func sshPublicKey(publicKeyB64 string) (ssh.PublicKey, error) {
	raw, err := DecodePublicKey(publicKeyB64)
	if err != nil {
		return nil, err
	}
	pub, err := ssh.NewPublicKey(ed25519.PublicKey(raw))
	if err != nil {
		return nil, &domain.CryptoError{Op: "ssh public key", Err: err}
	}
	return pub, nil
}

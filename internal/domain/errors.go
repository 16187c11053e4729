package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Every typed error below matches exactly one of them
// with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrStorage    = errors.New("storage error")
	ErrNetwork    = errors.New("network error")
	ErrProtocol   = errors.New("protocol error")
	ErrCrypto     = errors.New("crypto error")
)

var (
	// ErrKeyNotFound is returned when no record has the requested hash.
	ErrKeyNotFound = errors.New("key not found")

	// ErrDuplicateKey is returned by Add when the hash is already present.
	ErrDuplicateKey = &ValidationError{Field: "publicKeyHash", Reason: "key already exists"}

	// ErrNoPrivateKey is returned when a record cannot sign.
	ErrNoPrivateKey = errors.New("key has no private key")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrPromptNotFound is returned when a prompt id is unknown locally.
	ErrPromptNotFound = errors.New("prompt not found")
)

// ValidationError reports a malformed KeyRecord.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid key record: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StorageError reports a failed read or write of durable state.
type StorageError struct {
	Op   string
	Slot string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Slot, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NetworkError reports a failed request or a non-2xx status. Status is zero
// when no response was received.
type NetworkError struct {
	Method string
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ProtocolError reports a response whose shape does not match the contract.
type ProtocolError struct {
	What string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.What, e.Err)
	}
	return "protocol: " + e.What
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// CryptoError reports a failed key import, decode or signing step.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string { return fmt.Sprintf("crypto %s: %v", e.Op, e.Err) }

func (e *CryptoError) Unwrap() error { return e.Err }

func (e *CryptoError) Is(target error) bool { return target == ErrCrypto }

// RedirectError is the Unresolved outcome of Session Bootstrap: there is no
// usable active key and the user has to pick one. Hash is empty when no
// publicKey cookie was set at all.
type RedirectError struct {
	Hash KeyHash
}

func (e *RedirectError) Error() string {
	if e.Hash == "" {
		return "no active key selected"
	}
	return fmt.Sprintf("no local key matches active key %s", e.Hash.Short())
}

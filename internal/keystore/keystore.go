// Package keystore is the single source of truth for locally known keys.
//
// It mediates between the durable storage slot holding the serialized key
// collection and the in-memory view used by the CLI and Session Bootstrap.
// Persistence is write-through: a failed write never undoes an in-memory
// change, it is logged and reported as a StorageError.
package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"promptctl/internal/crypto"
	"promptctl/internal/domain"
)

// Validator checks a record before Add accepts it.
type Validator func(domain.KeyRecord) error

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithValidator replaces the default presence check run by Add.
func WithValidator(v Validator) Option {
	return func(s *Store) {
		if v != nil {
			s.validate = v
		}
	}
}

// Store holds the key collection.
type Store struct {
	storage  domain.Storage
	cookies  domain.Cookies
	validate Validator
	log      *slog.Logger

	mu     sync.Mutex
	keys   domain.Collection // persisted records, insertion order
	cookie *domain.KeyRecord // synthesized from the publicKey cookie, never persisted
	loaded bool
}

// New returns a Store over storage. cookies may be nil, in which case no
// cookie record is ever synthesized.
func New(storage domain.Storage, cookies domain.Cookies, opts ...Option) *Store {
	s := &Store{
		storage:  storage,
		cookies:  cookies,
		validate: RequireFields,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequireFields is the default Validator: every field of a local record
// must be present.
func RequireFields(rec domain.KeyRecord) error {
	switch {
	case rec.Source == domain.KeySourceCookie:
		return &domain.ValidationError{Field: "type", Reason: "cookie records cannot be stored"}
	case rec.PublicKeyHash == "":
		return &domain.ValidationError{Field: "publicKeyHash", Reason: "missing"}
	case rec.PublicKey == "":
		return &domain.ValidationError{Field: "publicKey", Reason: "missing"}
	case rec.PrivateKey == "":
		return &domain.ValidationError{Field: "privateKey", Reason: "missing"}
	case rec.Timestamp <= 0:
		return &domain.ValidationError{Field: "timestamp", Reason: "missing"}
	}
	return nil
}

// Strict is RequireFields followed by a cryptographic consistency check of
// the hash and key pair.
func Strict(rec domain.KeyRecord) error {
	if err := RequireFields(rec); err != nil {
		return err
	}
	return crypto.ValidateRecord(rec)
}

// Load reads the persisted collection and merges in a record for the
// publicKey cookie when no stored record has its hash. It never fails: an
// unreadable or malformed slot is logged and treated as empty. The returned
// flag reports that the store is ready.
func (s *Store) Load(ctx context.Context) (domain.Collection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked(ctx)
	s.mergeCookieLocked()
	return s.viewLocked(), true
}

// List returns the current collection, including a cookie record if one was
// synthesized by Load.
func (s *Store) List(ctx context.Context) domain.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.loadLocked(ctx)
	}
	return s.viewLocked()
}

// Get returns the record with hash.
func (s *Store) Get(ctx context.Context, hash domain.KeyHash) (domain.KeyRecord, error) {
	for _, rec := range s.List(ctx) {
		if rec.PublicKeyHash == hash {
			return rec, nil
		}
	}
	return domain.KeyRecord{}, domain.ErrKeyNotFound
}

// Add validates rec, appends it and persists the whole collection. A
// duplicate hash returns ErrDuplicateKey and changes nothing. If the write
// fails the record stays in memory and a StorageError is returned.
func (s *Store) Add(ctx context.Context, rec domain.KeyRecord) error {
	if err := s.validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.loadLocked(ctx)
	}
	if _, ok := s.keys.Find(rec.PublicKeyHash); ok {
		return domain.ErrDuplicateKey
	}

	s.keys = append(s.keys, rec)
	if s.cookie != nil && s.cookie.PublicKeyHash == rec.PublicKeyHash {
		s.cookie = nil
	}
	s.log.InfoContext(ctx, "key added", "hash", rec.PublicKeyHash.Short(), "count", len(s.keys))

	return s.persistLocked(ctx)
}

// Remove deletes the record with hash and persists the result. Removing an
// absent hash is a no-op that performs no write.
func (s *Store) Remove(ctx context.Context, hash domain.KeyHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.loadLocked(ctx)
	}
	if s.cookie != nil && s.cookie.PublicKeyHash == hash {
		s.cookie = nil
	}

	idx := -1
	for i, r := range s.keys {
		if r.PublicKeyHash == hash {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	next := make(domain.Collection, 0, len(s.keys)-1)
	next = append(next, s.keys[:idx]...)
	next = append(next, s.keys[idx+1:]...)
	s.keys = next
	s.log.InfoContext(ctx, "key removed", "hash", hash.Short(), "count", len(s.keys))

	return s.persistLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) {
	s.loaded = true
	s.keys = domain.Collection{}

	raw, ok, err := s.storage.GetItem(ctx, domain.KeysSlot)
	if err != nil {
		s.log.WarnContext(ctx, "key collection unreadable; starting empty", "err", asStorageError("get", err))
		return
	}
	if !ok || len(raw) == 0 {
		return
	}

	var stored domain.Collection
	if err := json.Unmarshal(raw, &stored); err != nil {
		s.log.WarnContext(ctx, "key collection malformed; starting empty",
			"err", &domain.StorageError{Op: "decode", Slot: domain.KeysSlot, Err: err})
		return
	}

	seen := make(map[domain.KeyHash]struct{}, len(stored))
	for _, rec := range stored {
		if rec.PublicKeyHash == "" {
			continue
		}
		if _, dup := seen[rec.PublicKeyHash]; dup {
			s.log.WarnContext(ctx, "dropping duplicate key record", "hash", rec.PublicKeyHash.Short())
			continue
		}
		seen[rec.PublicKeyHash] = struct{}{}
		rec.Source = domain.KeySourceLocal
		s.keys = append(s.keys, rec)
	}
}

func (s *Store) mergeCookieLocked() {
	s.cookie = nil
	if s.cookies == nil {
		return
	}
	pub, ok, err := s.cookies.GetCookie(domain.CookiePublicKey)
	if err != nil {
		s.log.Warn("publicKey cookie unreadable", "err", err)
		return
	}
	if !ok || pub == "" {
		return
	}
	hash := crypto.HashPublicKey(pub)
	if _, ok := s.keys.Find(hash); ok {
		return
	}
	s.cookie = &domain.KeyRecord{
		PublicKeyHash: hash,
		PublicKey:     pub,
		Source:        domain.KeySourceCookie,
	}
}

func (s *Store) viewLocked() domain.Collection {
	out := s.keys.Clone()
	if s.cookie != nil {
		out = append(out, *s.cookie)
	}
	return out
}

func (s *Store) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(s.keys)
	if err != nil {
		return &domain.StorageError{Op: "encode", Slot: domain.KeysSlot, Err: err}
	}
	if err := s.storage.SetItem(ctx, domain.KeysSlot, raw); err != nil {
		err = asStorageError("set", err)
		s.log.WarnContext(ctx, "key collection not persisted", "err", err)
		return err
	}
	return nil
}

func asStorageError(op string, err error) error {
	if errors.Is(err, domain.ErrStorage) {
		return err
	}
	return &domain.StorageError{Op: op, Slot: domain.KeysSlot, Err: err}
}

package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"promptctl/internal/domain"
)

const (
	plainExt  = ".json"
	sealedExt = ".json.enc"
)

var errSealedSlot = errors.New("slot is sealed; a passphrase is required")

// FileStorage keeps one file per slot under dir. With a passphrase every
// write is sealed; reads of a sealed slot without one fail.
type FileStorage struct {
	dir        string
	passphrase []byte
	kdf        scryptParams
	mu         sync.Mutex
}

// Compile-time assertion that FileStorage implements domain.Storage.
var _ domain.Storage = (*FileStorage)(nil)

// NewFileStorage returns a FileStorage rooted at dir. An empty passphrase
// stores slots as plain JSON.
func NewFileStorage(dir string, passphrase []byte) *FileStorage {
	var pp []byte
	if len(passphrase) > 0 {
		pp = append([]byte(nil), passphrase...)
	}
	return &FileStorage{dir: dir, passphrase: pp, kdf: defaultScryptParams()}
}

// Sealed reports whether writes are encrypted.
func (s *FileStorage) Sealed() bool { return len(s.passphrase) > 0 }

// GetItem returns the slot's value. A sealed slot is opened with the
// passphrase; a plain slot left over from before a passphrase was set is
// still readable and is sealed on the next write.
func (s *FileStorage) GetItem(_ context.Context, name string) ([]byte, bool, error) {
	if err := checkSlotName(name); err != nil {
		return nil, false, &domain.StorageError{Op: "get", Slot: name, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := readFile(s.path(name, sealedExt))
	if err != nil {
		return nil, false, &domain.StorageError{Op: "get", Slot: name, Err: err}
	}
	if sealed != nil {
		if !s.Sealed() {
			return nil, false, &domain.StorageError{Op: "get", Slot: name, Err: errSealedSlot}
		}
		pt, err := open(s.passphrase, name, sealed)
		if err != nil {
			return nil, false, &domain.StorageError{Op: "open", Slot: name, Err: err}
		}
		return pt, true, nil
	}

	plain, err := readFile(s.path(name, plainExt))
	if err != nil {
		return nil, false, &domain.StorageError{Op: "get", Slot: name, Err: err}
	}
	if plain == nil {
		return nil, false, nil
	}
	return plain, true, nil
}

// SetItem replaces the slot's value atomically.
func (s *FileStorage) SetItem(_ context.Context, name string, value []byte) error {
	if err := checkSlotName(name); err != nil {
		return &domain.StorageError{Op: "set", Slot: name, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Sealed() {
		if err := writeFile(s.path(name, plainExt), value, 0o600); err != nil {
			return &domain.StorageError{Op: "set", Slot: name, Err: err}
		}
		return nil
	}

	ct, err := seal(s.passphrase, name, value, s.kdf)
	if err != nil {
		return &domain.StorageError{Op: "seal", Slot: name, Err: err}
	}
	if err := writeFile(s.path(name, sealedExt), ct, 0o600); err != nil {
		return &domain.StorageError{Op: "set", Slot: name, Err: err}
	}
	if err := removeFile(s.path(name, plainExt)); err != nil {
		return &domain.StorageError{Op: "set", Slot: name, Err: err}
	}
	return nil
}

// RemoveItem deletes the slot in both its plain and sealed forms.
func (s *FileStorage) RemoveItem(_ context.Context, name string) error {
	if err := checkSlotName(name); err != nil {
		return &domain.StorageError{Op: "remove", Slot: name, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ext := range []string{plainExt, sealedExt} {
		if err := removeFile(s.path(name, ext)); err != nil {
			return &domain.StorageError{Op: "remove", Slot: name, Err: err}
		}
	}
	return nil
}

func (s *FileStorage) path(name, ext string) string {
	return filepath.Join(s.dir, name+ext)
}

// checkSlotName keeps slot names usable as plain file names.
func checkSlotName(name string) error {
	if name == "" || len(name) > 128 {
		return fmt.Errorf("invalid slot name %q", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("invalid slot name %q", name)
		}
	}
	if name[0] == '.' {
		return fmt.Errorf("invalid slot name %q", name)
	}
	return nil
}

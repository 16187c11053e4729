package keystore_test

import (
	"context"
	"errors"
	"sync"

	"promptctl/internal/domain"
)

var errDiskFull = errors.New("disk full")

// memStorage is an in-memory domain.Storage that counts writes and can be
// told to fail them.
type memStorage struct {
	mu       sync.Mutex
	slots    map[string][]byte
	writes   int
	failSet  bool
	failRead bool
}

func newMemStorage() *memStorage { return &memStorage{slots: map[string][]byte{}} }

func (m *memStorage) GetItem(_ context.Context, name string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead {
		return nil, false, errDiskFull
	}
	v, ok := m.slots[name]
	return v, ok, nil
}

func (m *memStorage) SetItem(_ context.Context, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errDiskFull
	}
	m.writes++
	m.slots[name] = append([]byte(nil), value...)
	return nil
}

func (m *memStorage) RemoveItem(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	delete(m.slots, name)
	return nil
}

func (m *memStorage) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// memCookies is an in-memory domain.Cookies without expiry.
type memCookies map[string]string

func (c memCookies) GetCookie(name string) (string, bool, error) {
	v, ok := c[name]
	return v, ok, nil
}

func (c memCookies) SetCookie(ck domain.Cookie) error {
	c[ck.Name] = ck.Value
	return nil
}

func (c memCookies) ClearCookie(name string) error {
	delete(c, name)
	return nil
}

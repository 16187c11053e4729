package store

import (
	"path/filepath"
	"sync"
	"time"

	"promptctl/internal/clock"
	"promptctl/internal/domain"
)

const cookieFilename = "cookies.json"

type cookieEntry struct {
	Value   string     `json:"value"`
	Path    string     `json:"path,omitempty"`
	Expires *time.Time `json:"expires,omitempty"`
}

// CookieFileStore persists named cookies with optional expiry to disk.
type CookieFileStore struct {
	dir   string
	clock clock.Clock
	mu    sync.Mutex
}

// Compile-time assertion that CookieFileStore implements domain.Cookies.
var _ domain.Cookies = (*CookieFileStore)(nil)

// NewCookieFileStore returns a CookieFileStore rooted at dir. A nil clock
// means the real one.
func NewCookieFileStore(dir string, c clock.Clock) *CookieFileStore {
	if c == nil {
		c = clock.Real()
	}
	return &CookieFileStore{dir: dir, clock: c}
}

// GetCookie returns the cookie's value. Expired cookies read as absent.
func (s *CookieFileStore) GetCookie(name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jar, err := s.load()
	if err != nil {
		return "", false, err
	}
	e, ok := jar[name]
	if !ok || s.expired(e) {
		return "", false, nil
	}
	return e.Value, true, nil
}

// SetCookie stores the cookie. A positive MaxAge takes precedence over
// Expires; a negative MaxAge deletes the cookie; neither set makes a cookie
// that never expires.
func (s *CookieFileStore) SetCookie(c domain.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jar, err := s.load()
	if err != nil {
		return err
	}
	if c.MaxAge < 0 {
		delete(jar, c.Name)
		return s.save(jar)
	}

	e := cookieEntry{Value: c.Value, Path: c.Path}
	switch {
	case c.MaxAge > 0:
		exp := s.clock.Now().Add(c.MaxAge).UTC()
		e.Expires = &exp
	case !c.Expires.IsZero():
		exp := c.Expires.UTC()
		e.Expires = &exp
	}
	jar[c.Name] = e
	s.prune(jar)
	return s.save(jar)
}

// ClearCookie removes the cookie. Clearing an absent cookie is a no-op.
func (s *CookieFileStore) ClearCookie(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jar, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := jar[name]; !ok {
		return nil
	}
	delete(jar, name)
	return s.save(jar)
}

func (s *CookieFileStore) expired(e cookieEntry) bool {
	return e.Expires != nil && !s.clock.Now().Before(*e.Expires)
}

func (s *CookieFileStore) prune(jar map[string]cookieEntry) {
	for name, e := range jar {
		if s.expired(e) {
			delete(jar, name)
		}
	}
}

func (s *CookieFileStore) load() (map[string]cookieEntry, error) {
	jar := map[string]cookieEntry{}
	if _, err := loadJSON(s.path(), &jar); err != nil {
		return nil, &domain.StorageError{Op: "read", Slot: cookieFilename, Err: err}
	}
	if jar == nil {
		jar = map[string]cookieEntry{}
	}
	return jar, nil
}

func (s *CookieFileStore) save(jar map[string]cookieEntry) error {
	if err := saveJSON(s.path(), jar); err != nil {
		return &domain.StorageError{Op: "write", Slot: cookieFilename, Err: err}
	}
	return nil
}

func (s *CookieFileStore) path() string { return filepath.Join(s.dir, cookieFilename) }

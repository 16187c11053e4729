package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"promptctl/internal/clock"
	"promptctl/internal/domain"
	"promptctl/internal/keystore"
	"promptctl/internal/promptapi"
	"promptctl/internal/push"
	"promptctl/internal/session"
	"promptctl/internal/store"
)

// DatabaseFilename is the sqlite file used by the sqlite storage backend.
const DatabaseFilename = "promptctl.db"

// Wire bundles all stores, services and clients for the CLI.
type Wire struct {
	Config    Config
	Log       *slog.Logger
	Clock     clock.Clock
	Storage   domain.Storage
	Cookies   domain.Cookies
	Keys      *keystore.Store
	API       *promptapi.HTTP
	Dialer    *push.Dialer
	Bootstrap *session.Bootstrap

	closers []io.Closer
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config, log *slog.Logger) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, fmt.Errorf("create home: %w", err)
	}

	w := &Wire{Config: cfg, Log: log, Clock: clock.Real()}

	switch strings.ToLower(cfg.Storage) {
	case StorageSQLite:
		sql, err := store.OpenSQLStorage(filepath.Join(cfg.Home, DatabaseFilename))
		if err != nil {
			return nil, err
		}
		w.Storage = sql
		w.closers = append(w.closers, sql)
	default:
		w.Storage = store.NewFileStorage(cfg.Home, []byte(cfg.Passphrase))
	}
	w.Cookies = store.NewCookieFileStore(cfg.Home, w.Clock)

	w.Keys = keystore.New(w.Storage, w.Cookies,
		keystore.WithLogger(log.With("component", "keystore")),
		keystore.WithValidator(keystore.Strict),
	)

	w.API = promptapi.NewHTTP(cfg.ServerURL)
	w.API.Log = log.With("component", "promptapi")
	w.API.Timeout = cfg.HTTPTimeout
	w.API.CookieMirror = cfg.CookieMirror
	if cfg.HTTP != nil {
		w.API.HTTP = cfg.HTTP
	}

	w.Dialer = push.NewDialer(cfg.ServerURL)
	w.Dialer.Log = log.With("component", "push")
	w.Dialer.CookieMirror = cfg.CookieMirror
	w.Dialer.InitialInterval = cfg.Reconnect.Initial
	w.Dialer.MaxInterval = cfg.Reconnect.Max
	w.Dialer.MaxTries = cfg.Reconnect.MaxTries
	w.Dialer.Clock = w.Clock

	w.Bootstrap = session.NewBootstrap(w.Keys, w.Cookies, w.API, w.Dialer,
		session.WithClock(w.Clock),
		session.WithLogger(log.With("component", "session")),
		session.WithRefreshInterval(cfg.RefreshInterval),
		session.WithProofTTL(cfg.ProofTTL),
	)
	return w, nil
}

// Close releases resources held by the wire, such as the database handle.
func (w *Wire) Close() error {
	var first error
	for _, c := range w.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	w.closers = nil
	return first
}

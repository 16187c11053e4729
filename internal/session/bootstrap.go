package session

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"promptctl/internal/clock"
	"promptctl/internal/crypto"
	"promptctl/internal/domain"
)

// Defaults for the proof lifecycle. The refresh interval is shorter than the
// proof lifetime so a fresh proof is always installed before the old one
// lapses.
const (
	DefaultRefreshInterval = 4 * time.Minute
	DefaultProofTTL        = 5 * time.Minute
	ProofCookiePath        = "/api"
)

// KeyLoader is the part of the key store the bootstrap needs.
type KeyLoader interface {
	Load(ctx context.Context) (domain.Collection, bool)
}

// Option configures a Bootstrap.
type Option func(*Bootstrap)

// WithClock sets the clock driving the refresh timer.
func WithClock(c clock.Clock) Option { return func(b *Bootstrap) { b.clock = c } }

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(b *Bootstrap) { b.log = l } }

// WithRefreshInterval sets how often the proof is renewed.
func WithRefreshInterval(d time.Duration) Option {
	return func(b *Bootstrap) {
		if d > 0 {
			b.refresh = d
		}
	}
}

// WithProofTTL sets how long an installed proof is considered valid.
func WithProofTTL(d time.Duration) Option {
	return func(b *Bootstrap) {
		if d > 0 {
			b.ttl = d
		}
	}
}

// Bootstrap builds Sessions for the active key.
type Bootstrap struct {
	keys    KeyLoader
	cookies domain.Cookies
	api     domain.PromptAPI
	dialer  domain.ChannelDialer
	clock   clock.Clock
	log     *slog.Logger
	refresh time.Duration
	ttl     time.Duration
}

// NewBootstrap wires a Bootstrap from its ports.
func NewBootstrap(
	keys KeyLoader,
	cookies domain.Cookies,
	api domain.PromptAPI,
	dialer domain.ChannelDialer,
	opts ...Option,
) *Bootstrap {
	b := &Bootstrap{
		keys:    keys,
		cookies: cookies,
		api:     api,
		dialer:  dialer,
		clock:   clock.Real(),
		log:     slog.Default(),
		refresh: DefaultRefreshInterval,
		ttl:     DefaultProofTTL,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.clock == nil {
		b.clock = clock.Real()
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	return b
}

// Resolve loads the key store and returns the record selected by the
// publicKey cookie. When there is no cookie, or no local key with a private
// half matches it, the result is a *domain.RedirectError.
func (b *Bootstrap) Resolve(ctx context.Context) (domain.KeyRecord, error) {
	keys, _ := b.keys.Load(ctx)

	pub, ok, err := b.cookies.GetCookie(domain.CookiePublicKey)
	if err != nil {
		b.log.WarnContext(ctx, "publicKey cookie unreadable", "err", err)
	}
	if !ok || pub == "" {
		return domain.KeyRecord{}, &domain.RedirectError{}
	}

	hash := crypto.HashPublicKey(pub)
	rec, found := keys.Find(hash)
	if !found || !rec.HasPrivateKey() {
		return domain.KeyRecord{}, &domain.RedirectError{Hash: hash}
	}
	return rec, nil
}

// Start resolves the active key, authenticates it and opens its push
// channel. Authentication failures halt the attempt and are returned as is;
// nothing is retried.
func (b *Bootstrap) Start(ctx context.Context) (*Session, error) {
	rec, err := b.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		b:        b,
		key:      rec,
		ctx:      sctx,
		cancel:   cancel,
		log:      b.log.With("hash", rec.PublicKeyHash.Short()),
		guard:    semaphore.NewWeighted(1),
		state:    domain.StateAuthenticating,
		updates:  make(chan struct{}, 1),
		loopDone: make(chan struct{}),
	}

	if err := s.authenticate(sctx, true); err != nil {
		cancel()
		return nil, err
	}

	ch, err := b.dialer.Dial(sctx, rec.PublicKeyHash, s.Proof)
	if err != nil {
		s.setState(domain.StateFailed)
		cancel()
		return nil, err
	}

	s.mu.Lock()
	s.channel = ch
	s.timer = b.clock.AfterFunc(b.refresh, s.onTimer)
	s.mu.Unlock()

	go s.loop(ch, s.loopDone)
	s.log.InfoContext(ctx, "session authenticated")
	return s, nil
}

// Select makes hash the active key for later Starts by setting the
// publicKey cookie.
func (b *Bootstrap) Select(ctx context.Context, hash domain.KeyHash) (domain.KeyRecord, error) {
	keys, _ := b.keys.Load(ctx)
	rec, ok := keys.Find(hash)
	if !ok {
		return domain.KeyRecord{}, domain.ErrKeyNotFound
	}
	if err := b.cookies.SetCookie(domain.Cookie{Name: domain.CookiePublicKey, Value: rec.PublicKey, Path: "/"}); err != nil {
		return domain.KeyRecord{}, err
	}
	return rec, nil
}

// Switch closes cur, selects hash and starts a session for it. cur may be
// nil. The old channel and timer are gone before the new ones exist.
func (b *Bootstrap) Switch(ctx context.Context, cur *Session, hash domain.KeyHash) (*Session, error) {
	if cur != nil {
		_ = cur.Close()
	}
	if _, err := b.Select(ctx, hash); err != nil {
		return nil, err
	}
	return b.Start(ctx)
}

// SignOut closes cur, if any, and clears the active key and proof cookies.
func (b *Bootstrap) SignOut(cur *Session) error {
	if cur != nil {
		_ = cur.Close()
	}
	if err := b.cookies.ClearCookie(domain.CookieProof); err != nil {
		return err
	}
	return b.cookies.ClearCookie(domain.CookiePublicKey)
}

package push

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"promptctl/internal/clock"
	"promptctl/internal/domain"
	"promptctl/internal/promptapi"
)

// Dialer opens SSE push channels against the prompt service.
type Dialer struct {
	Base string
	HTTP *http.Client
	Log  *slog.Logger

	// CookieMirror also sends the proof as the reference server's cookies.
	CookieMirror bool

	// Reconnect policy. MaxTries zero retries until the channel is closed.
	// The same exponential policy spaces reconnects after a dropped stream;
	// it starts over once a stream has stayed up for MaxInterval.
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxTries            uint
	RandomizationFactor float64

	// Clock times the waits between dropped streams. Nil means clock.Real().
	Clock clock.Clock
}

// Compile-time assertion that Dialer implements domain.ChannelDialer.
var _ domain.ChannelDialer = (*Dialer)(nil)

// NewDialer returns a Dialer for the service at base with the default
// reconnect policy: 1s doubling up to 30s, forever.
func NewDialer(base string) *Dialer {
	return &Dialer{
		Base: strings.TrimRight(base, "/"),
		HTTP: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		Log:                 slog.Default(),
		CookieMirror:        true,
		InitialInterval:     time.Second,
		MaxInterval:         30 * time.Second,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
	}
}

func (d *Dialer) policy() *backoff.ExponentialBackOff {
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = d.InitialInterval
	p.MaxInterval = d.MaxInterval
	p.RandomizationFactor = d.RandomizationFactor
	p.Reset()
	return p
}

// Dial starts a channel for hash. It returns at once; the first connect and
// every reconnect happen in the background and call proof each time.
func (d *Dialer) Dial(ctx context.Context, hash domain.KeyHash, proof domain.ProofSource) (domain.Channel, error) {
	if hash == "" || proof == nil {
		return nil, errors.New("push: dial needs a key hash and a proof source")
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := &channel{
		dialer: d,
		clock:  clk,
		url:    d.Base + "/api/sse/" + url.PathEscape(hash.String()),
		proof:  proof,
		log:    log.With("hash", hash.Short()),
		events: make(chan domain.PushEvent, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go ch.run(ctx)
	return ch, nil
}

type channel struct {
	dialer *Dialer
	clock  clock.Clock
	url    string
	proof  domain.ProofSource
	log    *slog.Logger

	events chan domain.PushEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (c *channel) Events() <-chan domain.PushEvent { return c.events }

func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops the stream and waits for Events to be closed.
func (c *channel) Close() error {
	c.once.Do(c.cancel)
	<-c.done
	return nil
}

func (c *channel) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)

	drops := c.dialer.policy()
	for {
		resp, err := backoff.Retry(ctx, func() (*http.Response, error) { return c.connect(ctx) },
			backoff.WithBackOff(c.dialer.policy()),
			backoff.WithMaxTries(c.dialer.MaxTries),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				c.log.Warn("push channel connect failed; retrying", "err", err, "in", next)
			}),
		)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Error("push channel stopped", "err", err)
				c.setErr(err)
			}
			return
		}

		c.log.Debug("push channel connected")
		up := c.clock.Now()
		err = ReadEvents(resp.Body, c.log, func(ev domain.PushEvent) bool {
			select {
			case c.events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
		_ = resp.Body.Close()
		if ctx.Err() != nil {
			return
		}

		if c.clock.Now().Sub(up) >= c.dialer.MaxInterval {
			drops.Reset()
		}
		wait := drops.NextBackOff()
		c.log.Info("push channel dropped; reconnecting", "err", err, "in", wait)
		if !c.sleep(ctx, wait) {
			return
		}
	}
}

// sleep waits d on the channel's clock. It reports false if ctx ended first.
func (c *channel) sleep(ctx context.Context, d time.Duration) bool {
	wake := make(chan struct{})
	t := c.clock.AfterFunc(d, func() { close(wake) })
	defer t.Stop()
	select {
	case <-wake:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *channel) connect(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, backoff.Permanent(&domain.NetworkError{Method: http.MethodGet, URL: c.url, Err: err})
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	promptapi.ApplyProof(req, c.proof(), c.dialer.CookieMirror)

	resp, err := c.dialer.HTTP.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Method: http.MethodGet, URL: c.url, Err: err}
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	_ = resp.Body.Close()

	ne := &domain.NetworkError{Method: http.MethodGet, URL: c.url, Status: resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusFound:
		return nil, backoff.Permanent(ne)
	}
	return nil, ne
}

func (c *channel) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

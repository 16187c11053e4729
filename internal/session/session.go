package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"promptctl/internal/clock"
	"promptctl/internal/crypto"
	"promptctl/internal/domain"
)

// Session is an authenticated inbox for one key.
type Session struct {
	b      *Bootstrap
	key    domain.KeyRecord
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	// guard admits one proof refresh at a time.
	guard *semaphore.Weighted

	mu       sync.Mutex
	state    domain.SessionState
	proof    domain.Proof
	prompts  []domain.Prompt
	channel  domain.Channel
	timer    *clock.Timer
	err      error
	updates  chan struct{}
	loopDone chan struct{}
	closed   bool
}

// Key returns the active key.
func (s *Session) Key() domain.KeyRecord { return s.key }

// State returns the current state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Proof returns the installed proof.
func (s *Session) Proof() domain.Proof {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proof
}

// Err returns the most recent background error: a failed refresh, re-fetch
// or a stopped channel. It is cleared by the next success of the same kind.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Updates receives a value after every change to the prompt list or to Err.
// Notifications coalesce; it is closed by Close.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// Prompts returns a copy of the prompt list.
func (s *Session) Prompts() []domain.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Prompt, len(s.prompts))
	for i, p := range s.prompts {
		if p.Response != nil {
			r := *p.Response
			p.Response = &r
		}
		out[i] = p
	}
	return out
}

// Refresh re-runs the challenge and signing steps. It reports false without
// doing anything when another refresh is still in flight. A failed refresh
// keeps the previous proof. After a successful one, a push channel that has
// stopped is dialled again with the new proof.
func (s *Session) Refresh(ctx context.Context) (bool, error) {
	if s.isClosed() {
		return false, domain.ErrSessionClosed
	}
	if !s.guard.TryAcquire(1) {
		s.log.DebugContext(ctx, "proof refresh already in flight; skipped")
		return false, nil
	}
	defer s.guard.Release(1)

	if err := s.authenticate(ctx, false); err != nil {
		return true, err
	}
	s.reopen(ctx)
	return true, nil
}

// ChannelOpen reports whether the push channel is still delivering events.
func (s *Session) ChannelOpen() bool {
	s.mu.Lock()
	done := s.loopDone
	s.mu.Unlock()
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// reopen replaces a stopped push channel. Callers hold the refresh guard, so
// at most one dial is in progress.
func (s *Session) reopen(ctx context.Context) {
	if s.ChannelOpen() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	ch, err := s.b.dialer.Dial(s.ctx, s.key.PublicKeyHash, s.Proof)
	if err != nil {
		s.log.WarnContext(ctx, "push channel reopen failed", "err", err)
		s.err = err
		return
	}
	s.channel = ch
	s.loopDone = make(chan struct{})
	go s.loop(ch, s.loopDone)
	s.log.InfoContext(ctx, "push channel reopened")
}

// Reload fetches the prompt list in full and replaces the local copy. On
// failure the list is left unchanged.
func (s *Session) Reload(ctx context.Context) error {
	if s.isClosed() {
		return domain.ErrSessionClosed
	}
	prompts, err := s.b.api.FetchPrompts(ctx, s.key.PublicKeyHash, s.Proof())
	if err != nil {
		s.log.WarnContext(ctx, "prompt list fetch failed", "err", err)
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	s.prompts = prompts
	s.err = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

// Respond submits text for prompt id and merges it locally once the server
// accepts it. On failure the prompt stays unanswered.
func (s *Session) Respond(ctx context.Context, id domain.PromptID, text string) error {
	if s.isClosed() {
		return domain.ErrSessionClosed
	}
	if !s.hasPrompt(id) {
		return domain.ErrPromptNotFound
	}
	if err := s.b.api.SubmitResponse(ctx, id, text, s.Proof()); err != nil {
		s.log.WarnContext(ctx, "response not submitted", "prompt", id, "err", err)
		return err
	}
	s.merge(id, text)
	return nil
}

// Close cancels the session: the refresh timer is stopped, the push channel
// closed and the event loop drained. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = domain.StateClosed
	timer, ch, done := s.timer, s.channel, s.loopDone
	s.mu.Unlock()

	s.cancel()
	if timer != nil {
		timer.Stop()
	}
	var err error
	if ch != nil {
		err = ch.Close()
		<-done
	}

	s.mu.Lock()
	close(s.updates)
	s.mu.Unlock()
	s.log.Info("session closed")
	return err
}

// authenticate runs Authenticating then Signing and installs the proof. A
// failure during the initial run moves the session to Failed; a failed
// refresh leaves it Authenticated with the previous proof.
func (s *Session) authenticate(ctx context.Context, initial bool) error {
	issued := s.b.clock.Now()
	s.setState(domain.StateAuthenticating)

	challenge, err := s.b.api.FetchChallenge(ctx, s.key.PublicKeyHash, s.key.PublicKey)
	if err != nil {
		return s.authFailed(ctx, initial, "challenge request failed", err)
	}

	s.setState(domain.StateSigning)
	sig, err := crypto.SignChallenge(s.key, challenge)
	if err != nil {
		return s.authFailed(ctx, initial, "challenge signing failed", err)
	}

	proof := domain.Proof{
		Challenge: challenge,
		Signature: sig,
		PublicKey: s.key.PublicKey,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(s.b.ttl),
	}
	s.install(ctx, proof)
	return nil
}

func (s *Session) authFailed(ctx context.Context, initial bool, msg string, err error) error {
	s.log.WarnContext(ctx, msg, "err", err)
	s.mu.Lock()
	if !s.closed {
		if initial {
			s.state = domain.StateFailed
		} else {
			s.state = domain.StateAuthenticated
		}
	}
	s.err = err
	s.mu.Unlock()
	if !initial {
		s.notify()
	}
	return err
}

// install replaces the proof unless a newer one is already in place.
func (s *Session) install(ctx context.Context, proof domain.Proof) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if proof.IssuedAt.Before(s.proof.IssuedAt) {
		s.mu.Unlock()
		s.log.DebugContext(ctx, "discarding stale proof", "issued_at", proof.IssuedAt)
		return
	}
	s.proof = proof
	s.state = domain.StateAuthenticated
	s.err = nil
	s.mu.Unlock()

	err := s.b.cookies.SetCookie(domain.Cookie{
		Name:   domain.CookieProof,
		Value:  proof.Signature,
		Path:   ProofCookiePath,
		MaxAge: s.b.ttl,
	})
	if err != nil {
		s.log.WarnContext(ctx, "proof cookie not stored", "err", err)
	}
	s.log.DebugContext(ctx, "proof installed", "expires_at", proof.ExpiresAt)
}

// onTimer refreshes the proof, then re-arms the one timer.
func (s *Session) onTimer() {
	if s.ctx.Err() != nil {
		return
	}
	if _, err := s.Refresh(s.ctx); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		s.log.Warn("scheduled proof refresh failed", "err", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.timer.Reset(s.b.refresh)
	}
}

func (s *Session) loop(ch domain.Channel, done chan struct{}) {
	defer close(done)
	for ev := range ch.Events() {
		s.handle(ev)
	}
	if err := ch.Err(); err != nil && s.ctx.Err() == nil {
		s.log.Error("push channel stopped", "err", err)
		s.setErr(err)
	}
}

func (s *Session) handle(ev domain.PushEvent) {
	switch ev.Type {
	case domain.EventConnected, domain.EventNewPrompt:
		_ = s.Reload(s.ctx)
	case domain.EventChallengeUpdated:
		if _, err := s.Refresh(s.ctx); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
			s.log.Warn("proof refresh after challenge update failed", "err", err)
		}
	case domain.EventPromptResponded:
		id, text, ok := parseResponded(ev)
		if !ok {
			s.log.Warn("malformed prompt_responded event", "content", ev.Content)
			return
		}
		s.merge(id, text)
	default:
		s.log.Debug("ignoring push event", "type", ev.Type)
	}
}

// parseResponded extracts the prompt id and response. The id comes from the
// event's id field when present, otherwise from a "<id>:<response>" content.
func parseResponded(ev domain.PushEvent) (domain.PromptID, string, bool) {
	if ev.ID != "" {
		return domain.PromptID(ev.ID), ev.Content, true
	}
	id, text, ok := strings.Cut(ev.Content, ":")
	if !ok || id == "" {
		return "", "", false
	}
	return domain.PromptID(id), text, true
}

// merge records text as the response of prompt id. An empty response is
// stored as a single space so the prompt still reads as answered.
func (s *Session) merge(id domain.PromptID, text string) {
	if text == "" {
		text = " "
	}
	s.mu.Lock()
	found := false
	for i := range s.prompts {
		if s.prompts[i].ID == id {
			r := text
			s.prompts[i].Response = &r
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		s.log.Debug("response for unknown prompt", "prompt", id)
		return
	}
	s.notify()
}

func (s *Session) hasPrompt(id domain.PromptID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prompts {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) setState(st domain.SessionState) {
	s.mu.Lock()
	if !s.closed {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.notify()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

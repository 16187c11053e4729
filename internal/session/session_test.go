package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"promptctl/internal/clock"
	"promptctl/internal/crypto"
	"promptctl/internal/domain"
	"promptctl/internal/keystore"
	"promptctl/internal/session"
)

var (
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
	epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	rec     *recorder
	api     *fakeAPI
	dialer  *fakeDialer
	cookies *memCookies
	keys    *keystore.Store
	clock   *clock.FakeClock
	boot    *session.Bootstrap
}

func newHarness(t *testing.T, recs ...domain.KeyRecord) *harness {
	t.Helper()
	h := &harness{rec: &recorder{}, cookies: newMemCookies(), clock: clock.Fake(epoch)}
	h.api = newFakeAPI(h.rec)
	h.dialer = &fakeDialer{rec: h.rec}
	h.keys = keystore.New(&memStorage{}, h.cookies, keystore.WithLogger(quiet))
	for _, r := range recs {
		if err := h.keys.Add(context.Background(), r); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	h.boot = session.NewBootstrap(h.keys, h.cookies, h.api, h.dialer,
		session.WithClock(h.clock), session.WithLogger(quiet))
	return h
}

func genKey(t *testing.T) domain.KeyRecord {
	t.Helper()
	rec, err := crypto.GenerateKeyRecord(epoch)
	if err != nil {
		t.Fatalf("GenerateKeyRecord: %v", err)
	}
	return rec
}

func (h *harness) use(rec domain.KeyRecord) {
	_ = h.cookies.SetCookie(domain.Cookie{Name: domain.CookiePublicKey, Value: rec.PublicKey})
}

func (h *harness) start(t *testing.T) *session.Session {
	t.Helper()
	s, err := h.boot.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func strp(s string) *string { return &s }

func TestStart_ChallengeThenSignThenChannel(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)

	s := h.start(t)

	if got := fmt.Sprint(h.rec.list()); got != "[challenge dial]" {
		t.Fatalf("calls = %s, want challenge before dial", got)
	}
	if s.State() != domain.StateAuthenticated {
		t.Fatalf("state = %v", s.State())
	}
	if s.Key().PublicKeyHash != crypto.HashPublicKey(key.PublicKey) {
		t.Fatalf("active key = %s", s.Key().PublicKeyHash)
	}

	proof := s.Proof()
	if !crypto.VerifyChallenge(key.PublicKey, proof.Challenge, proof.Signature) {
		t.Fatal("installed proof does not verify")
	}
	if !proof.ExpiresAt.Equal(epoch.Add(session.DefaultProofTTL)) {
		t.Fatalf("proof expires at %v", proof.ExpiresAt)
	}
	ck, ok := h.cookies.get(domain.CookieProof)
	if !ok || ck.Value != proof.Signature || ck.Path != session.ProofCookiePath || ck.MaxAge != session.DefaultProofTTL {
		t.Fatalf("proof cookie = %+v ok=%v", ck, ok)
	}

	ch := h.dialer.last()
	if ch.hash != key.PublicKeyHash {
		t.Fatalf("channel opened for %s", ch.hash)
	}
	if ch.proof().Signature != proof.Signature {
		t.Fatal("channel proof source does not return the installed proof")
	}
}

func TestStart_RedirectDecisions(t *testing.T) {
	key := genKey(t)
	stranger := genKey(t)

	cases := map[string]struct {
		cookie   string
		wantHash domain.KeyHash
	}{
		"no cookie":      {"", ""},
		"unknown key":    {stranger.PublicKey, stranger.PublicKeyHash},
		"cookie garbage": {"pk1", crypto.HashPublicKey("pk1")},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, key)
			if tc.cookie != "" {
				_ = h.cookies.SetCookie(domain.Cookie{Name: domain.CookiePublicKey, Value: tc.cookie})
			}
			s, err := h.boot.Start(context.Background())
			var redirect *domain.RedirectError
			if !errors.As(err, &redirect) || s != nil {
				t.Fatalf("want redirect decision, got s=%v err=%v", s, err)
			}
			if redirect.Hash != tc.wantHash {
				t.Fatalf("redirect hash = %q, want %q", redirect.Hash, tc.wantHash)
			}
			if len(h.rec.list()) != 0 {
				t.Fatalf("unexpected calls %v", h.rec.list())
			}
		})
	}
}

func TestStart_ChallengeFailureHalts(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)
	h.api.set(func(a *fakeAPI) {
		a.challengeErr = &domain.NetworkError{Method: http.MethodGet, URL: "/api/auth/x", Status: http.StatusBadRequest}
	})

	s, err := h.boot.Start(context.Background())
	if !errors.Is(err, domain.ErrNetwork) || s != nil {
		t.Fatalf("want network error, got s=%v err=%v", s, err)
	}
	if h.rec.count("dial") != 0 {
		t.Fatal("channel opened after failed authentication")
	}
	if h.clock.PendingCount() != 0 {
		t.Fatal("refresh timer armed after failed authentication")
	}
}

func TestPush_ConnectedAndNewPromptRefetch(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)
	h.api.set(func(a *fakeAPI) { a.prompts = []domain.Prompt{{ID: "p1", Message: "first?"}} })
	s := h.start(t)
	ch := h.dialer.last()

	ch.send(domain.PushEvent{Type: domain.EventConnected})
	eventually(t, "initial fetch", func() bool { return len(s.Prompts()) == 1 })

	h.api.set(func(a *fakeAPI) {
		a.prompts = append(a.prompts, domain.Prompt{ID: "p2", Message: "second?"})
	})
	ch.send(domain.PushEvent{Type: domain.EventNewPrompt, Content: "second?", ID: "p2"})
	eventually(t, "refetch after new_prompt", func() bool { return len(s.Prompts()) == 2 })

	if n := h.rec.count("prompts"); n != 2 {
		t.Fatalf("prompt fetches = %d, want 2", n)
	}
}

func TestPush_PromptRespondedMergesWithoutRefetch(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)
	h.api.set(func(a *fakeAPI) {
		a.prompts = []domain.Prompt{{ID: "p1", Message: "ok?"}, {ID: "p2", Message: "sure?"}}
	})
	s := h.start(t)
	ch := h.dialer.last()
	ch.send(domain.PushEvent{Type: domain.EventConnected})
	eventually(t, "initial fetch", func() bool { return len(s.Prompts()) == 2 })

	ch.send(domain.PushEvent{Type: domain.EventPromptResponded, Content: "p1:hello"})
	eventually(t, "merge", func() bool { return s.Prompts()[0].Answered() })

	ps := s.Prompts()
	if *ps[0].Response != "hello" || ps[1].Answered() {
		t.Fatalf("prompts = %+v", ps)
	}
	if n := h.rec.count("prompts"); n != 1 {
		t.Fatalf("prompt list refetched (%d fetches)", n)
	}

	// Reference server form: id field plus raw content, colons preserved.
	ch.send(domain.PushEvent{Type: domain.EventPromptResponded, Content: "a:b", ID: "p2"})
	eventually(t, "merge by id", func() bool { return s.Prompts()[1].Answered() })
	if got := *s.Prompts()[1].Response; got != "a:b" {
		t.Fatalf("p2 response = %q", got)
	}
}

func TestPush_EmptyResponseStillAnswers(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)
	h.api.set(func(a *fakeAPI) { a.prompts = []domain.Prompt{{ID: "p1", Message: "ok?"}} })
	s := h.start(t)
	ch := h.dialer.last()
	ch.send(domain.PushEvent{Type: domain.EventConnected})
	eventually(t, "initial fetch", func() bool { return len(s.Prompts()) == 1 })

	ch.send(domain.PushEvent{Type: domain.EventPromptResponded, Content: "p1:"})
	eventually(t, "merge", func() bool { return s.Prompts()[0].Answered() })
	if got := *s.Prompts()[0].Response; got != " " {
		t.Fatalf("response = %q, want a single space", got)
	}
}

func TestPush_ChallengeUpdatedRefreshesProof(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)
	s := h.start(t)
	before := s.Proof()

	h.dialer.last().send(domain.PushEvent{Type: domain.EventChallengeUpdated})
	eventually(t, "refresh", func() bool { return s.Proof().Challenge != before.Challenge })

	if n := h.rec.count("challenge"); n != 2 {
		t.Fatalf("challenge requests = %d, want 2", n)
	}
}

func TestFetchFailureLeavesListAndSetsErr(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)
	h.api.set(func(a *fakeAPI) { a.prompts = []domain.Prompt{{ID: "p1", Message: "ok?"}} })
	s := h.start(t)
	ch := h.dialer.last()
	ch.send(domain.PushEvent{Type: domain.EventConnected})
	eventually(t, "initial fetch", func() bool { return len(s.Prompts()) == 1 })

	h.api.set(func(a *fakeAPI) { a.promptsErr = &domain.ProtocolError{What: "prompt list is not a JSON array"} })
	ch.send(domain.PushEvent{Type: domain.EventNewPrompt})
	eventually(t, "error surfaced", func() bool { return s.Err() != nil })

	if !errors.Is(s.Err(), domain.ErrProtocol) || len(s.Prompts()) != 1 {
		t.Fatalf("err=%v prompts=%+v", s.Err(), s.Prompts())
	}
}

func TestRespond_SuccessMerges(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)
	h.api.set(func(a *fakeAPI) { a.prompts = []domain.Prompt{{ID: "p1", Message: "ok?"}} })
	s := h.start(t)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if err := s.Respond(context.Background(), "p1", "yes"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if p := s.Prompts()[0]; !p.Answered() || *p.Response != "yes" {
		t.Fatalf("prompt = %+v", p)
	}
	if err := s.Respond(context.Background(), "nope", "x"); !errors.Is(err, domain.ErrPromptNotFound) {
		t.Fatalf("unknown prompt: %v", err)
	}
}

func TestRespond_FailureLeavesPromptUnanswered(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)
	h.api.set(func(a *fakeAPI) {
		a.prompts = []domain.Prompt{{ID: "p1", Message: "ok?"}}
		a.respondErr = &domain.NetworkError{Method: http.MethodPost, URL: "/api/prompts/p1", Status: http.StatusInternalServerError}
	})
	s := h.start(t)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	err := s.Respond(context.Background(), "p1", "yes")
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("want network error, got %v", err)
	}
	if s.Prompts()[0].Answered() {
		t.Fatal("prompt answered despite failed POST")
	}

	// The user retries once the server recovers.
	h.api.set(func(a *fakeAPI) { a.respondErr = nil })
	if err := s.Respond(context.Background(), "p1", "yes"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRefresh_SingleTimerReArmed(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)
	s := h.start(t)

	if h.clock.PendingCount() != 1 {
		t.Fatalf("pending timers = %d, want 1", h.clock.PendingCount())
	}
	first := s.Proof()

	h.clock.Advance(session.DefaultRefreshInterval)
	if n := h.rec.count("challenge"); n != 2 {
		t.Fatalf("challenge requests = %d, want 2", n)
	}
	if h.clock.PendingCount() != 1 {
		t.Fatalf("pending timers = %d after refresh, want 1", h.clock.PendingCount())
	}
	second := s.Proof()
	if second.Challenge == first.Challenge || !second.IssuedAt.After(first.IssuedAt) {
		t.Fatalf("proof not replaced: %+v -> %+v", first, second)
	}

	h.clock.Advance(session.DefaultRefreshInterval)
	if n := h.rec.count("challenge"); n != 3 {
		t.Fatalf("challenge requests = %d, want 3", n)
	}
}

func TestRefresh_ReopensStoppedChannel(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)
	s := h.start(t)

	first := h.dialer.last()
	_ = first.Close()
	eventually(t, "push loop exit", func() bool { return !s.ChannelOpen() })

	h.clock.Advance(session.DefaultRefreshInterval)
	if n := h.rec.count("dial"); n != 2 {
		t.Fatalf("dials = %d after refresh with a stopped channel, want 2", n)
	}
	second := h.dialer.last()
	if second == first || !s.ChannelOpen() {
		t.Fatal("stopped channel was not replaced")
	}

	h.api.set(func(a *fakeAPI) { a.prompts = []domain.Prompt{{ID: "p1", Message: "still there?"}} })
	second.send(domain.PushEvent{Type: domain.EventConnected})
	eventually(t, "fetch on the new channel", func() bool { return len(s.Prompts()) == 1 })

	h.clock.Advance(session.DefaultRefreshInterval)
	if n := h.rec.count("dial"); n != 2 {
		t.Fatalf("dials = %d after refresh with a live channel, want 2", n)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !second.isClosed() {
		t.Fatal("Close left the reopened channel open")
	}
}

func TestRefresh_NeverOverlaps(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)
	s := h.start(t)

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	h.api.set(func(a *fakeAPI) { a.gate, a.entered = gate, entered })

	done := make(chan error, 1)
	go func() {
		_, err := s.Refresh(context.Background())
		done <- err
	}()
	<-entered

	// The timer fires while the manual refresh is blocked in flight.
	h.clock.Advance(session.DefaultRefreshInterval)
	ran, err := s.Refresh(context.Background())
	if ran || err != nil {
		t.Fatalf("overlapping Refresh ran=%v err=%v", ran, err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("in-flight refresh: %v", err)
	}
	if n := h.rec.count("challenge"); n != 2 {
		t.Fatalf("challenge requests = %d, want 2 (initial + one refresh)", n)
	}
	if peak := h.api.peakInFlight(); peak != 1 {
		t.Fatalf("peak concurrent refreshes = %d", peak)
	}
	if h.clock.PendingCount() != 1 {
		t.Fatalf("pending timers = %d, want 1", h.clock.PendingCount())
	}
}

func TestRefresh_FailureKeepsProof(t *testing.T) {
	key := genKey(t)
	h := newHarness(t, key)
	h.use(key)
	s := h.start(t)
	before := s.Proof()

	h.api.set(func(a *fakeAPI) { a.challengeErr = errors.New("boom") })
	h.clock.Advance(session.DefaultRefreshInterval)

	if s.Proof() != before {
		t.Fatal("failed refresh replaced the proof")
	}
	if s.Err() == nil || s.State() != domain.StateAuthenticated {
		t.Fatalf("err=%v state=%v", s.Err(), s.State())
	}
	if h.clock.PendingCount() != 1 {
		t.Fatal("timer not re-armed after failed refresh")
	}
}

func TestSwitch_ClosesPriorChannelAndTimer(t *testing.T) {
	a, b := genKey(t), genKey(t)
	h := newHarness(t, a, b)
	h.use(a)

	first, err := h.boot.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	firstCh := h.dialer.last()

	second, err := h.boot.Switch(context.Background(), first, b.PublicKeyHash)
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	defer second.Close()

	if !firstCh.isClosed() {
		t.Fatal("prior channel left open")
	}
	if first.State() != domain.StateClosed {
		t.Fatalf("prior session state = %v", first.State())
	}
	if _, ok := <-first.Updates(); ok {
		t.Fatal("prior Updates not closed")
	}
	if h.clock.PendingCount() != 1 {
		t.Fatalf("pending timers = %d, want only the new session's", h.clock.PendingCount())
	}
	if second.Key().PublicKeyHash != b.PublicKeyHash || h.dialer.last().hash != b.PublicKeyHash {
		t.Fatal("new session not bound to the switched key")
	}
	if ck, _ := h.cookies.get(domain.CookiePublicKey); ck.Value != b.PublicKey {
		t.Fatalf("publicKey cookie = %q", ck.Value)
	}
}

func TestSwitch_UnknownKey(t *testing.T) {
	a := genKey(t)
	h := newHarness(t, a)
	h.use(a)
	first := h.start(t)

	if _, err := h.boot.Switch(context.Background(), first, "missing"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
	if first.State() != domain.StateClosed {
		t.Fatal("current session not closed by Switch")
	}
}

func TestSignOut_ClearsCookies(t *testing.T) {
	a := genKey(t)
	h := newHarness(t, a)
	h.use(a)
	s := h.start(t)

	if err := h.boot.SignOut(s); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, ok := h.cookies.get(domain.CookiePublicKey); ok {
		t.Fatal("publicKey cookie still set")
	}
	if _, ok := h.cookies.get(domain.CookieProof); ok {
		t.Fatal("proof cookie still set")
	}
	if _, err := h.boot.Start(context.Background()); !errors.As(err, new(*domain.RedirectError)) {
		t.Fatalf("Start after sign-out: %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	a := genKey(t)
	h := newHarness(t, a)
	h.use(a)
	s := h.start(t)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if h.clock.PendingCount() != 0 {
		t.Fatal("timer still armed after Close")
	}
	if err := s.Respond(context.Background(), "p1", "x"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("Respond after Close: %v", err)
	}
	h.clock.Advance(time.Hour)
	if n := h.rec.count("challenge"); n != 1 {
		t.Fatalf("refresh ran after Close (%d challenges)", n)
	}
}

func TestUpdatesSignalsChanges(t *testing.T) {
	a := genKey(t)
	h := newHarness(t, a)
	h.use(a)
	h.api.set(func(api *fakeAPI) { api.prompts = []domain.Prompt{{ID: "p1", Message: "m", Response: strp("done")}} })
	s := h.start(t)

	h.dialer.last().send(domain.PushEvent{Type: domain.EventConnected})
	select {
	case <-s.Updates():
	case <-time.After(5 * time.Second):
		t.Fatal("no update after fetch")
	}
	if p := s.Prompts(); len(p) != 1 || *p[0].Response != "done" {
		t.Fatalf("prompts = %+v", p)
	}
}

package session_test

import (
	"context"
	"fmt"
	"sync"

	"promptctl/internal/domain"
)

// recorder is the shared, ordered log of port calls.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(c string) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *recorder) count(c string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.calls {
		if x == c {
			n++
		}
	}
	return n
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeAPI struct {
	rec *recorder

	mu           sync.Mutex
	prompts      []domain.Prompt
	challengeErr error
	promptsErr   error
	respondErr   error
	gate         chan struct{} // when set, FetchChallenge waits on it
	entered      chan struct{}
	inFlight     int
	maxInFlight  int
	seq          int
	submitted    map[domain.PromptID]string
}

func newFakeAPI(rec *recorder) *fakeAPI {
	return &fakeAPI{rec: rec, submitted: map[domain.PromptID]string{}}
}

func (a *fakeAPI) FetchChallenge(ctx context.Context, _ domain.KeyHash, _ string) (string, error) {
	a.rec.add("challenge")
	a.mu.Lock()
	a.inFlight++
	if a.inFlight > a.maxInFlight {
		a.maxInFlight = a.inFlight
	}
	gate, entered, err := a.gate, a.entered, a.challengeErr
	a.seq++
	challenge := fmt.Sprintf("challenge-%d", a.seq)
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()
	}()

	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return challenge, nil
}

func (a *fakeAPI) FetchPrompts(context.Context, domain.KeyHash, domain.Proof) ([]domain.Prompt, error) {
	a.rec.add("prompts")
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.promptsErr != nil {
		return nil, a.promptsErr
	}
	return append([]domain.Prompt(nil), a.prompts...), nil
}

func (a *fakeAPI) SubmitResponse(_ context.Context, id domain.PromptID, text string, _ domain.Proof) error {
	a.rec.add("respond")
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.respondErr != nil {
		return a.respondErr
	}
	a.submitted[id] = text
	return nil
}

func (a *fakeAPI) CreatePrompt(context.Context, string, string) (string, error) {
	return "", nil
}

func (a *fakeAPI) set(fn func(a *fakeAPI)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

func (a *fakeAPI) peakInFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxInFlight
}

type fakeChannel struct {
	hash   domain.KeyHash
	proof  domain.ProofSource
	events chan domain.PushEvent
	once   sync.Once

	mu     sync.Mutex
	closed bool
}

func (c *fakeChannel) Events() <-chan domain.PushEvent { return c.events }
func (c *fakeChannel) Err() error                      { return nil }

func (c *fakeChannel) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.events)
	})
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) send(ev domain.PushEvent) { c.events <- ev }

type fakeDialer struct {
	rec *recorder

	mu       sync.Mutex
	channels []*fakeChannel
}

func (d *fakeDialer) Dial(_ context.Context, hash domain.KeyHash, proof domain.ProofSource) (domain.Channel, error) {
	d.rec.add("dial")
	ch := &fakeChannel{hash: hash, proof: proof, events: make(chan domain.PushEvent)}
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
	return ch, nil
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[len(d.channels)-1]
}

type memStorage struct {
	mu    sync.Mutex
	slots map[string][]byte
}

func (m *memStorage) GetItem(_ context.Context, name string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.slots[name]
	return v, ok, nil
}

func (m *memStorage) SetItem(_ context.Context, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slots == nil {
		m.slots = map[string][]byte{}
	}
	m.slots[name] = value
	return nil
}

func (m *memStorage) RemoveItem(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, name)
	return nil
}

type memCookies struct {
	mu  sync.Mutex
	jar map[string]domain.Cookie
}

func newMemCookies() *memCookies { return &memCookies{jar: map[string]domain.Cookie{}} }

func (c *memCookies) GetCookie(name string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck, ok := c.jar[name]
	return ck.Value, ok, nil
}

func (c *memCookies) SetCookie(ck domain.Cookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jar[ck.Name] = ck
	return nil
}

func (c *memCookies) ClearCookie(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.jar, name)
	return nil
}

func (c *memCookies) get(name string) (domain.Cookie, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck, ok := c.jar[name]
	return ck, ok
}

// Package testserver is an in-process fake of the prompt service for tests.
// It speaks the same routes and SSE framing as the reference server and
// verifies proofs from the bearer headers.
package testserver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"promptctl/internal/crypto"
	"promptctl/internal/domain"
)

type prompt struct {
	id        string
	publicKey string
	message   string
	response  *string
	answered  chan string
}

type stream struct {
	frames chan string
	done   chan struct{}
}

// Server is a fake prompt service.
type Server struct {
	*httptest.Server
	router http.Handler

	mu         sync.Mutex
	challenges map[domain.KeyHash]string
	prompts    map[string]*prompt
	order      []string // ids in creation order
	streams    map[domain.KeyHash][]*stream
	calls      []string
	failures   map[string]int
	listBody   string

	// Heartbeat is the interval of "event: heartbeat" frames. Zero sends
	// none. Set it before the first stream opens.
	Heartbeat time.Duration
}

// New starts a Server on a loopback listener. Callers must Close it.
func New() *Server {
	s := Unstarted()
	s.Server = httptest.NewServer(s.router)
	return s
}

// Unstarted returns a Server with no listener. Serve it through ServeHTTP.
func Unstarted() *Server {
	s := &Server{
		challenges: map[domain.KeyHash]string{},
		prompts:    map[string]*prompt{},
		streams:    map[domain.KeyHash][]*stream{},
		failures:   map[string]int{},
	}
	r := mux.NewRouter()
	r.HandleFunc("/api/auth/{id}", s.auth).Methods(http.MethodGet)
	r.HandleFunc("/api/prompts", s.create).Methods(http.MethodPost)
	r.HandleFunc("/api/prompts/{id}", s.list).Methods(http.MethodGet)
	r.HandleFunc("/api/prompts/{id}", s.respond).Methods(http.MethodPost)
	r.HandleFunc("/api/sse/{id}", s.sse).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Close ends every open stream, then shuts the listener down if there is one.
func (s *Server) Close() {
	s.mu.Lock()
	for h, list := range s.streams {
		for _, st := range list {
			close(st.done)
		}
		delete(s.streams, h)
	}
	s.mu.Unlock()
	if s.Server != nil {
		s.Server.Close()
	}
}

// Calls returns the route names hit so far, in order: "auth", "prompts",
// "respond", "create" and "sse".
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Count returns how many times route was hit.
func (s *Server) Count(route string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == route {
			n++
		}
	}
	return n
}

// AddPrompt queues message for publicKey, notifies its streams and returns
// the prompt id.
func (s *Server) AddPrompt(publicKey, message string) string {
	p := &prompt{
		id:        uuid.NewString(),
		publicKey: publicKey,
		message:   message,
		answered:  make(chan string, 1),
	}
	s.mu.Lock()
	s.prompts[p.id] = p
	s.order = append(s.order, p.id)
	s.mu.Unlock()

	s.Emit(crypto.HashPublicKey(publicKey), domain.PushEvent{Type: domain.EventNewPrompt, Content: message, ID: p.id})
	return p.id
}

// Response returns the stored response of prompt id.
func (s *Server) Response(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[id]
	if !ok || p.response == nil {
		return "", false
	}
	return *p.response, true
}

// Emit sends ev to every stream open for hash, in the reference server's
// JSON data framing.
func (s *Server) Emit(hash domain.KeyHash, ev domain.PushEvent) {
	content, _ := json.Marshal(ev.Content)
	s.broadcast(hash, fmt.Sprintf("data: {\"type\": %q, \"content\": %s, \"id\": %q}\n\n", ev.Type, content, ev.ID))
}

// EmitRaw writes frame verbatim to every stream open for hash.
func (s *Server) EmitRaw(hash domain.KeyHash, frame string) { s.broadcast(hash, frame) }

// RotateChallenge replaces the challenge issued for hash and announces it
// with challenge_updated. Proofs over the old challenge stop verifying.
func (s *Server) RotateChallenge(hash domain.KeyHash) {
	s.mu.Lock()
	s.challenges[hash] = uuid.NewString()
	s.mu.Unlock()
	s.Emit(hash, domain.PushEvent{Type: domain.EventChallengeUpdated})
}

// Streams returns the number of open streams for hash.
func (s *Server) Streams(hash domain.KeyHash) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[hash])
}

// DropStreams closes every stream for hash from the server side.
func (s *Server) DropStreams(hash domain.KeyHash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.streams[hash] {
		close(st.done)
	}
	delete(s.streams, hash)
}

func (s *Server) broadcast(hash domain.KeyHash, frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.streams[hash] {
		select {
		case st.frames <- frame:
		default:
		}
	}
}

func (s *Server) record(route string) {
	s.mu.Lock()
	s.calls = append(s.calls, route)
	s.mu.Unlock()
}

// Fail makes route answer with status until Fail(route, 0) is called.
func (s *Server) Fail(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, route)
		return
	}
	s.failures[route] = status
}

// SetPromptsBody replaces the prompt list body, for shape tests.
func (s *Server) SetPromptsBody(body string) {
	s.mu.Lock()
	s.listBody = body
	s.mu.Unlock()
}

func (s *Server) override(w http.ResponseWriter, route string) bool {
	s.mu.Lock()
	status := s.failures[route]
	s.mu.Unlock()
	if status == 0 {
		return false
	}
	http.Error(w, http.StatusText(status), status)
	return true
}

func (s *Server) auth(w http.ResponseWriter, r *http.Request) {
	s.record("auth")
	if s.override(w, "auth") {
		return
	}
	hash := domain.KeyHash(mux.Vars(r)["id"])
	pub := r.Header.Get("X-Public-Key")
	if crypto.HashPublicKey(pub) != hash {
		http.Error(w, "Invalid publicKey", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	challenge, ok := s.challenges[hash]
	if !ok {
		challenge = uuid.NewString()
		s.challenges[hash] = challenge
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, challenge)
}

// authorize checks the bearer proof against the current challenge for hash.
func (s *Server) authorize(r *http.Request, hash domain.KeyHash) bool {
	pub := r.Header.Get("X-Public-Key")
	challenge := r.Header.Get("X-Prompt-Challenge")
	sig := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if crypto.HashPublicKey(pub) != hash {
		return false
	}
	s.mu.Lock()
	current := s.challenges[hash]
	s.mu.Unlock()
	if current == "" || challenge != current {
		return false
	}
	return crypto.VerifyChallenge(pub, challenge, sig)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	s.record("prompts")
	if s.override(w, "prompts") {
		return
	}
	hash := domain.KeyHash(mux.Vars(r)["id"])
	if !s.authorize(r, hash) {
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	s.mu.Lock()
	if s.listBody != "" {
		body := s.listBody
		s.mu.Unlock()
		_, _ = io.WriteString(w, body)
		return
	}
	out := []domain.Prompt{}
	for _, id := range s.order {
		p := s.prompts[id]
		if crypto.HashPublicKey(p.publicKey) == hash {
			out = append(out, domain.Prompt{ID: domain.PromptID(p.id), Message: p.message, Response: p.response})
		}
	}
	s.mu.Unlock()
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request) {
	s.record("respond")
	if s.override(w, "respond") {
		return
	}
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	p, ok := s.prompts[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Unknown prompt", http.StatusNotFound)
		return
	}
	hash := crypto.HashPublicKey(p.publicKey)
	if !s.authorize(r, hash) {
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad body", http.StatusBadRequest)
		return
	}
	text := string(body)
	s.mu.Lock()
	p.response = &text
	s.mu.Unlock()
	select {
	case p.answered <- text:
	default:
	}

	s.Emit(hash, domain.PushEvent{Type: domain.EventPromptResponded, Content: text, ID: id})
	_, _ = io.WriteString(w, id)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	s.record("create")
	var req struct {
		PublicKey string `json:"public_key"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PublicKey == "" || req.Message == "" {
		http.Error(w, "Missing public_key or message", http.StatusBadRequest)
		return
	}
	if _, err := base64.StdEncoding.DecodeString(req.PublicKey); err != nil {
		http.Error(w, "Invalid public_key format", http.StatusBadRequest)
		return
	}

	id := s.AddPrompt(req.PublicKey, req.Message)
	s.mu.Lock()
	answered := s.prompts[id].answered
	s.mu.Unlock()

	select {
	case text := <-answered:
		_, _ = io.WriteString(w, text)
	case <-r.Context().Done():
	}
}

func (s *Server) sse(w http.ResponseWriter, r *http.Request) {
	s.record("sse")
	if s.override(w, "sse") {
		return
	}
	hash := domain.KeyHash(mux.Vars(r)["id"])
	if !s.authorize(r, hash) {
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	st := &stream{frames: make(chan string, 16), done: make(chan struct{})}
	s.mu.Lock()
	s.streams[hash] = append(s.streams[hash], st)
	s.mu.Unlock()
	defer s.removeStream(hash, st)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "event: connected\ndata: Connection established\n\n")
	flusher.Flush()

	var tick <-chan time.Time
	if s.Heartbeat > 0 {
		t := time.NewTicker(s.Heartbeat)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case frame := <-st.frames:
			_, _ = io.WriteString(w, frame)
			flusher.Flush()
		case <-tick:
			_, _ = io.WriteString(w, "event: heartbeat\ndata: alive\n\n")
			flusher.Flush()
		case <-st.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) removeStream(hash domain.KeyHash, st *stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.streams[hash]
	for i, x := range list {
		if x == st {
			s.streams[hash] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(s.streams[hash]) == 0 {
		delete(s.streams, hash)
	}
}

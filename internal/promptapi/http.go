package promptapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"promptctl/internal/domain"
)

// Header names carrying the proof.
const (
	HeaderAuthorization = "Authorization"
	HeaderChallenge     = "X-Prompt-Challenge"
	HeaderPublicKey     = "X-Public-Key"
	HeaderRequestID     = "X-Request-ID"
)

// Cookie the reference server stores the challenge under.
const cookieToken = "CSRFToken"

// maxBody caps how much of a response body is read.
const maxBody = 4 << 20

// HTTP is a PromptAPI over plain HTTP.
type HTTP struct {
	Base string
	HTTP *http.Client
	Log  *slog.Logger

	// Timeout bounds each request except CreatePrompt, which waits for a
	// human. Zero means no limit beyond ctx.
	Timeout time.Duration

	// CookieMirror also sends the proof as the reference server's cookies.
	CookieMirror bool
}

// Compile-time assertion that HTTP implements domain.PromptAPI.
var _ domain.PromptAPI = (*HTTP)(nil)

// NewHTTP returns a client for the service at base. Redirects are not
// followed.
func NewHTTP(base string) *HTTP {
	return &HTTP{
		Base: strings.TrimRight(base, "/"),
		HTTP: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		Log:          slog.Default(),
		Timeout:      15 * time.Second,
		CookieMirror: true,
	}
}

// FetchChallenge asks the server for a challenge to sign for hash.
func (c *HTTP) FetchChallenge(ctx context.Context, hash domain.KeyHash, publicKey string) (string, error) {
	req := request{
		method:    http.MethodGet,
		path:      "/api/auth/" + url.PathEscape(hash.String()),
		publicKey: publicKey,
		timed:     true,
	}
	body, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	challenge := strings.TrimSpace(string(body))
	if challenge == "" {
		return "", &domain.ProtocolError{What: "empty challenge"}
	}
	return challenge, nil
}

// FetchPrompts lists the prompts addressed to hash. The body must be a JSON
// array.
func (c *HTTP) FetchPrompts(ctx context.Context, hash domain.KeyHash, proof domain.Proof) ([]domain.Prompt, error) {
	body, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/prompts/" + url.PathEscape(hash.String()),
		proof:  &proof,
		timed:  true,
	})
	if err != nil {
		return nil, err
	}
	return decodePrompts(body)
}

// SubmitResponse posts response as the raw text/plain body for prompt id.
func (c *HTTP) SubmitResponse(ctx context.Context, id domain.PromptID, response string, proof domain.Proof) error {
	_, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/prompts/" + url.PathEscape(id.String()),
		body:        []byte(response),
		contentType: "text/plain; charset=utf-8",
		proof:       &proof,
		timed:       true,
	})
	return err
}

// CreatePrompt asks message of the holder of publicKey and blocks until they
// answer or ctx ends. It returns the response text.
func (c *HTTP) CreatePrompt(ctx context.Context, publicKey, message string) (string, error) {
	in, err := json.Marshal(struct {
		PublicKey string `json:"public_key"`
		Message   string `json:"message"`
	}{publicKey, message})
	if err != nil {
		return "", err
	}
	body, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/prompts",
		body:        in,
		contentType: "application/json",
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ApplyProof sets the proof headers on req and, when mirror is set, the
// reference server's cookies.
func ApplyProof(req *http.Request, proof domain.Proof, mirror bool) {
	req.Header.Set(HeaderAuthorization, "Bearer "+proof.Signature)
	req.Header.Set(HeaderChallenge, proof.Challenge)
	req.Header.Set(HeaderPublicKey, proof.PublicKey)
	if mirror {
		req.AddCookie(&http.Cookie{Name: domain.CookiePublicKey, Value: proof.PublicKey})
		req.AddCookie(&http.Cookie{Name: cookieToken, Value: proof.Challenge})
		req.AddCookie(&http.Cookie{Name: domain.CookieProof, Value: proof.Signature})
	}
}

type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	proof       *domain.Proof
	publicKey   string // sent without a proof, for the challenge request
	timed       bool
}

func (c *HTTP) do(ctx context.Context, r request) ([]byte, error) {
	if r.timed && c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	u := c.Base + r.path
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, &domain.NetworkError{Method: r.method, URL: u, Err: err}
	}

	reqID := uuid.NewString()
	req.Header.Set(HeaderRequestID, reqID)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.proof != nil {
		ApplyProof(req, *r.proof, c.CookieMirror)
	} else if r.publicKey != "" {
		req.Header.Set(HeaderPublicKey, r.publicKey)
		if c.CookieMirror {
			req.AddCookie(&http.Cookie{Name: domain.CookiePublicKey, Value: r.publicKey})
		}
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.logger().DebugContext(ctx, "prompt api request failed",
			"method", r.method, "path", r.path, "request_id", reqID, "err", err)
		return nil, &domain.NetworkError{Method: r.method, URL: u, Err: err}
	}
	defer resp.Body.Close()

	out, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	c.logger().DebugContext(ctx, "prompt api request",
		"method", r.method, "path", r.path, "status", resp.StatusCode,
		"duration", time.Since(start), "request_id", reqID)

	if resp.StatusCode/100 != 2 {
		ne := &domain.NetworkError{Method: r.method, URL: u, Status: resp.StatusCode}
		if msg := strings.TrimSpace(string(out)); msg != "" && len(msg) < 256 {
			ne.Err = errors.New(msg)
		}
		return nil, ne
	}
	if readErr != nil {
		return nil, &domain.NetworkError{Method: r.method, URL: u, Status: resp.StatusCode, Err: readErr}
	}
	return out, nil
}

func (c *HTTP) logger() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

func decodePrompts(body []byte) ([]domain.Prompt, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &domain.ProtocolError{What: "prompt list is not a JSON array"}
	}
	var prompts []domain.Prompt
	if err := json.Unmarshal(trimmed, &prompts); err != nil {
		return nil, &domain.ProtocolError{What: "decode prompt list", Err: err}
	}
	if prompts == nil {
		prompts = []domain.Prompt{}
	}
	return prompts, nil
}

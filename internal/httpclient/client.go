package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/config"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
)

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 4 << 10

// Sentinel errors.
var (
	ErrBaseURL      = errors.New("httpclient: invalid base URL")
	ErrUnexpectedCT = errors.New("httpclient: response is not JSON")
)

// Middleware wraps a transport with additional behaviour.
type Middleware func(http.RoundTripper) http.RoundTripper

// Client issues requests against the HMS backend.
type Client struct {
	base    *url.URL
	jar     *resettableJar
	logger  *logging.Logger
	httpc   *http.Client
	mu      sync.Mutex
	wrapped http.RoundTripper
}

// Option customises a Client.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	logger    *logging.Logger
}

// WithTransport sets the innermost transport. Defaults to http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a Client for cfg.BaseURL.
func New(cfg config.APIConfig, opts ...Option) (*Client, error) {
	o := options{transport: http.DefaultTransport, logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBaseURL, cfg.BaseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	c := &Client{
		base:   base,
		jar:    newResettableJar(),
		logger: o.logger.With("component", "httpclient"),
	}

	var rt http.RoundTripper = o.transport
	rt = &tracingTransport{next: rt, userAgent: cfg.UserAgent, logger: c.logger}
	if cfg.RateLimit.Enabled {
		rt = &limitTransport{
			next:    rt,
			limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), max(cfg.RateLimit.Burst, 1)),
		}
	}
	c.wrapped = rt

	c.httpc = &http.Client{
		Transport: &switchTransport{c: c},
		Jar:       c.jar,
		Timeout:   cfg.Timeout,
	}
	return c, nil
}

// Use wraps the current transport with mw. Later calls wrap earlier ones.
func (c *Client) Use(mw Middleware) {
	c.mu.Lock()
	c.wrapped = mw(c.wrapped)
	c.mu.Unlock()
}

// HTTP returns the underlying *http.Client. It shares the jar and transport
// stack, so requests made through it behave exactly like Do.
func (c *Client) HTTP() *http.Client {
	return c.httpc
}

// BaseURL returns a copy of the backend base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// URL resolves an endpoint path against the base URL. Query strings are kept.
func (c *Client) URL(path string) string {
	u := *c.base
	p, q, _ := strings.Cut(path, "?")
	u.Path = c.base.Path + "/" + strings.TrimPrefix(p, "/")
	u.RawQuery = q
	return u.String()
}

// NewRequest builds a request for path. A non-nil body is sent as JSON; the
// body is rewindable so the request can be replayed.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), rdr)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req through the full transport stack.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpc.Do(req)
}

// Cookie returns the value of the named cookie the jar would send to the
// backend, or "" if none.
func (c *Client) Cookie(name string) string {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// ResetCookies drops every cookie, discarding the credentials they carry.
func (c *Client) ResetCookies() {
	c.jar.reset()
}

// StatusError is returned by DecodeJSON for non-2xx responses.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// DecodeJSON reads a 2xx JSON response into v and closes the body. Non-2xx
// responses yield a *StatusError.
func DecodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // Best effort message
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for keep-alive
		return nil
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
		return fmt.Errorf("%w: %s", ErrUnexpectedCT, ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// switchTransport reads the current stack on each request so Use can be
// called after the client is handed out.
type switchTransport struct {
	c *Client
}

func (t *switchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.c.mu.Lock()
	rt := t.c.wrapped
	t.c.mu.Unlock()
	return rt.RoundTrip(req)
}

// tracingTransport stamps outgoing requests and logs their outcome.
type tracingTransport struct {
	next      http.RoundTripper
	userAgent string
	logger    *logging.Logger
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	attrs := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"request_id", req.Header.Get(RequestIDHeader),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		t.logger.Debug("request failed", append(attrs, "error", err)...)
		return nil, err
	}
	t.logger.Debug("request completed", append(attrs, "status", resp.StatusCode)...)
	return resp, nil
}

// limitTransport blocks until the token bucket admits the request.
type limitTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return t.next.RoundTrip(req)
}

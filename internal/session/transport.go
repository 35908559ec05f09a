package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
)

type retriedKey struct{}

// WithRetried marks ctx as belonging to a request that has already been
// replayed after a renewal. Such a request never re-enters the coordinator.
func WithRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

// Retried reports whether ctx carries the retried mark.
func Retried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// Transport intercepts authorisation failures on the way back from the
// backend:
//  1. a 401 or 403 on a degraded resource becomes a neutral 200
//  2. a 401 classified AuthExpired waits for the coordinator and is replayed
//     once with the renewed credentials
//
// Everything else, including transport errors, is returned untouched.
type Transport struct {
	next       http.RoundTripper
	jar        http.CookieJar
	classifier Classifier
	policy     *DegradedPolicy
	coord      *Coordinator
	metrics    *Metrics
	logger     *logging.Logger
}

// TransportConfig holds a Transport's collaborators.
type TransportConfig struct {
	// Jar supplies the renewed credentials for replays. Required when the
	// client uses cookies.
	Jar        http.CookieJar
	Classifier Classifier
	Policy     *DegradedPolicy
	Coord      *Coordinator
	Metrics    *Metrics
	Logger     *logging.Logger
}

// NewTransport wraps next.
func NewTransport(next http.RoundTripper, cfg TransportConfig) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Transport{
		next:       next,
		jar:        cfg.Jar,
		classifier: cfg.Classifier,
		policy:     cfg.Policy,
		coord:      cfg.Coord,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With("component", "session.transport"),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req, replay, rewindErr := prepareReplay(req)
	if req == nil {
		return nil, rewindErr
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.metrics.observeClass(Transient)
		return nil, err
	}
	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}

	if synth, rule, ok := t.policy.Resolve(req, resp); ok {
		t.metrics.observeDegraded(rule.Fragment)
		t.logger.Debug("degraded resource resolved to neutral value",
			"path", req.URL.Path, "status", resp.StatusCode, "neutral", rule.Neutral.String())
		return synth, nil
	}

	class := t.classifier.Classify(Failure{Path: req.URL.Path, Status: resp.StatusCode})
	t.metrics.observeClass(class)
	if class != AuthExpired || Retried(req.Context()) || t.coord == nil {
		return resp, nil
	}
	if rewindErr != nil {
		t.logger.Warn("cannot replay request body; returning 401", "path", req.URL.Path, "error", rewindErr)
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for keep-alive
	resp.Body.Close()                     //nolint:errcheck // Superseded by replay

	if err := t.coord.Await(req.Context()); err != nil {
		return nil, err
	}

	replay = replay.WithContext(WithRetried(req.Context()))
	t.refreshCookies(replay)

	resp, err = t.next.RoundTrip(replay)
	if err != nil {
		t.metrics.observeReplay(0, err)
		return nil, err
	}
	t.metrics.observeReplay(resp.StatusCode, nil)
	return resp, nil
}

// refreshCookies swaps the Cookie header for the jar's current cookies.
// http.Client attaches cookies before the transport runs, so without this a
// replay would resend the expired credential.
func (t *Transport) refreshCookies(req *http.Request) {
	if t.jar == nil {
		return
	}
	req.Header.Del("Cookie")
	for _, c := range t.jar.Cookies(req.URL) {
		req.AddCookie(c)
	}
}

// prepareReplay returns the request to send first and a clone that can be
// sent again. A body without GetBody is buffered; the caller's request is
// never modified, so in that case the first send uses a buffered clone.
func prepareReplay(req *http.Request) (first, replay *http.Request, err error) {
	replay = req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return req, replay, nil
	}

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return req, nil, err
		}
		replay.Body = body
		return req, replay, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close() //nolint:errcheck // Consumed into data
	if err != nil {
		return nil, nil, fmt.Errorf("buffering request body: %w", err)
	}
	getBody := func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	first = req.Clone(req.Context())
	first.Body, _ = getBody()  //nolint:errcheck // Cannot fail
	replay.Body, _ = getBody() //nolint:errcheck // Cannot fail
	first.GetBody = getBody
	replay.GetBody = getBody
	return first, replay, nil
}

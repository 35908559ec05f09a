package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/auth"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/credstore"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/httpclient"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/config"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
)

// maxIdentityBody caps identity responses from the backend.
const maxIdentityBody = 1 << 20

// Options configure a Manager. Zero values fall back to the HMS defaults,
// except RenewalTimeout where zero means unbounded.
type Options struct {
	Endpoints      Endpoints
	LoginRoute     string
	RenewInterval  time.Duration
	RenewMargin    time.Duration
	RenewalTimeout time.Duration
	AccessCookie   string
	Degraded       *DegradedPolicy
	Navigator      Navigator
	Sink           EventSink
	Metrics        *Metrics
	Logger         *logging.Logger
}

// OptionsFromConfig maps the console configuration onto Options. Navigator,
// Sink, Metrics and Logger are left for the caller.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	policy, err := DegradedPolicyFromConfig(cfg.Session.Degraded)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Endpoints:      EndpointsFromConfig(cfg.API.Endpoints),
		LoginRoute:     cfg.Console.LoginRoute,
		RenewInterval:  cfg.Session.RenewInterval,
		RenewMargin:    cfg.Session.RenewMargin,
		RenewalTimeout: cfg.Session.RenewalTimeout,
		AccessCookie:   cfg.Session.AccessCookie,
		Degraded:       policy,
	}, nil
}

func (o *Options) applyDefaults() {
	if o.Endpoints == (Endpoints{}) {
		o.Endpoints = DefaultEndpoints()
	}
	if o.LoginRoute == "" {
		o.LoginRoute = "/login"
	}
	if o.RenewInterval <= 0 {
		o.RenewInterval = 14 * time.Minute
	}
	if o.AccessCookie == "" {
		o.AccessCookie = "access_token"
	}
	if o.Degraded == nil {
		o.Degraded = NewDegradedPolicy(DefaultDegradedRules()...)
	}
	if o.Navigator == nil {
		o.Navigator = nopNavigator{}
	}
	if o.Sink == nil {
		o.Sink = EventSinkFunc(func(Event) {})
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
}

// Manager owns the console's identity.
//
// State machine:
//
//	Uninitialized -> Hydrating -> {Authenticated, Anonymous}
//	Authenticated <-> Renewing
//	Authenticated/Renewing -> Anonymous (logout or fatal failure)
//	Anonymous -> Authenticated (login)
//
// The identity is either complete or absent; accessors return copies.
type Manager struct {
	opts       Options
	client     *httpclient.Client
	store      credstore.Store
	classifier Classifier
	coord      *Coordinator
	lifecycle  *Lifecycle
	events     broadcaster
	logger     *logging.Logger
	verified   chan struct{}

	// storeMu orders writes to store against clear.
	storeMu sync.Mutex

	mu         sync.Mutex
	state      State
	ident      *auth.Identity
	gen        uint64 // bumped by clear
	redirected bool
	renewer    *renewer
	closed     bool
}

// NewManager wires a Manager to client and store and installs the session
// Transport on client.
func NewManager(client *httpclient.Client, store credstore.Store, opts Options) *Manager {
	opts.applyDefaults()

	m := &Manager{
		opts:       opts,
		client:     client,
		store:      store,
		classifier: NewClassifier(opts.Endpoints),
		lifecycle:  NewLifecycle(),
		logger:     opts.Logger.With("component", "session"),
		verified:   make(chan struct{}),
	}
	m.coord = NewCoordinator(m.renewCall,
		WithRenewalTimeout(opts.RenewalTimeout),
		WithCoordinatorMetrics(opts.Metrics),
		WithCycleHooks(CycleHooks{
			OnStart:  m.onRenewalStart,
			OnSettle: m.onRenewalSettled,
		}),
	)

	client.Use(func(next http.RoundTripper) http.RoundTripper {
		return NewTransport(next, TransportConfig{
			Jar:        client.HTTP().Jar,
			Classifier: m.classifier,
			Policy:     opts.Degraded,
			Coord:      m.coord,
			Metrics:    opts.Metrics,
			Logger:     opts.Logger,
		})
	})
	return m
}

// Boot hydrates the session. It runs once per Manager; later calls return
// immediately.
//
// On the login route the session becomes Anonymous without touching the
// network. Otherwise a stored identity is adopted optimistically and verified
// in the background; Verified is closed when that check ends.
func (m *Manager) Boot(ctx context.Context, route string) {
	if !m.lifecycle.Begin() {
		return
	}
	m.setState(StateHydrating)

	if m.isLoginRoute(route) {
		m.logger.Debug("boot on login route, skipping verification", "route", route)
		m.finishBoot(nil)
		close(m.verified)
		return
	}

	ident, ok := m.store.Load()
	if !ok {
		m.finishBoot(nil)
		close(m.verified)
		return
	}

	m.finishBoot(ident)
	go func() {
		defer close(m.verified)
		if _, err := m.Verify(context.WithoutCancel(ctx)); err != nil {
			m.logger.Info("boot verification failed", "error", err)
		}
	}()
}

func (m *Manager) finishBoot(ident *auth.Identity) {
	if ident != nil {
		m.adopt(ident)
	} else {
		m.setState(StateAnonymous)
	}
	m.lifecycle.Finish()
	m.emit(EventHydrated, nil)
}

func (m *Manager) isLoginRoute(route string) bool {
	login := strings.TrimSuffix(m.opts.LoginRoute, "/")
	route, _, _ = strings.Cut(route, "?")
	route = strings.TrimSuffix(route, "/")
	return route == login || strings.HasPrefix(route, login+"/")
}

// Verify asks the identity provider who is logged in.
//
//   - 2xx: the returned identity replaces the current one and is persisted.
//   - 401: one renewal (joining any in flight), then one retry. A 401 or 403
//     on the retry is fatal.
//   - 403: fatal.
//   - anything else: returned, with no change to the session.
//
// A result that arrives after the session was cleared is dropped and
// ErrSessionEnded returned.
func (m *Manager) Verify(ctx context.Context) (*auth.Identity, error) {
	gen := m.generation()
	ident, err := m.fetchIdentity(ctx)
	if err == nil {
		return m.acceptVerified(ident, gen)
	}

	var se *Error
	if !errors.As(err, &se) {
		return nil, err
	}

	switch {
	case se.Status == http.StatusUnauthorized && !Retried(ctx):
		if err := m.coord.Await(ctx); err != nil {
			return nil, err
		}
		return m.verifyRetry(WithRetried(ctx), gen)
	case se.Status == http.StatusUnauthorized, se.Class == AuthInvalid:
		return nil, m.fatal(se, gen)
	default:
		return nil, se
	}
}

func (m *Manager) verifyRetry(ctx context.Context, gen uint64) (*auth.Identity, error) {
	ident, err := m.fetchIdentity(ctx)
	if err == nil {
		return m.acceptVerified(ident, gen)
	}

	var se *Error
	if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
		return nil, m.fatal(se, gen)
	}
	return nil, err
}

func (m *Manager) acceptVerified(ident *auth.Identity, gen uint64) (*auth.Identity, error) {
	if !m.adoptAt(ident, gen) {
		m.logger.Debug("dropping verification result for a cleared session", "user_id", ident.ID)
		return nil, fmt.Errorf("verify: %w", ErrSessionEnded)
	}
	m.persist(ident, gen)
	m.emit(EventVerified, nil)
	return ident.Clone(), nil
}

// fatal promotes a failure to AuthInvalid and ends the session, unless the
// session the request belonged to has already been cleared.
func (m *Manager) fatal(se *Error, gen uint64) error {
	fatal := &Error{Class: AuthInvalid, Op: se.Op, Endpoint: se.Endpoint, Status: se.Status, Err: se.Err}
	if m.generation() == gen {
		m.forceLogout(fatal)
	}
	return fatal
}

func (m *Manager) fetchIdentity(ctx context.Context) (*auth.Identity, error) {
	resp, err := m.send(ctx, http.MethodGet, m.opts.Endpoints.Me, nil, "verify")
	if err != nil {
		return nil, err
	}
	return m.readIdentity(resp, "verify")
}

// send issues a request and classifies transport errors.
func (m *Manager) send(ctx context.Context, method, path string, body any, op string) (*http.Response, error) {
	req, err := m.client.NewRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &Error{Class: m.classifier.Classify(Failure{Path: req.URL.Path, Err: err}), Op: op, Endpoint: path, Err: err}
	}
	return resp, nil
}

// readIdentity decodes a 2xx identity response or classifies the failure.
func (m *Manager) readIdentity(resp *http.Response, op string) (*auth.Identity, error) {
	defer resp.Body.Close()
	path := resp.Request.URL.Path

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityBody))
	if err != nil {
		return nil, &Error{Class: Transient, Op: op, Endpoint: path, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		ident, err := auth.DecodeIdentity(data)
		if err != nil {
			return nil, &Error{Class: Retryable, Op: op, Endpoint: path, Status: resp.StatusCode, Err: fmt.Errorf("%w: %w", ErrBadIdentity, err)}
		}
		return ident, nil
	}

	class := m.classifier.Classify(Failure{Path: path, Status: resp.StatusCode})
	return nil, &Error{Class: class, Op: op, Endpoint: path, Status: resp.StatusCode,
		Err: &httpclient.StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}}
}

// renewCall is the Coordinator's RenewFunc.
func (m *Manager) renewCall(ctx context.Context) error {
	resp, err := m.send(ctx, http.MethodPost, m.opts.Endpoints.Refresh, struct{}{}, "renew")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for keep-alive

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	return &Error{
		Class:    m.classifier.Classify(Failure{Path: resp.Request.URL.Path, Status: resp.StatusCode}),
		Op:       "renew",
		Endpoint: resp.Request.URL.Path,
		Status:   resp.StatusCode,
		Err:      ErrRenewalRejected,
	}
}

func (m *Manager) onRenewalStart(bool) {
	m.mu.Lock()
	if m.state == StateAuthenticated {
		m.state = StateRenewing
	}
	m.mu.Unlock()
}

func (m *Manager) onRenewalSettled(res CycleResult) {
	m.mu.Lock()
	if m.state == StateRenewing {
		m.state = StateAuthenticated
	}
	m.mu.Unlock()

	if res.Err == nil {
		m.emit(EventRenewed, func(e *Event) {
			e.Reactive, e.Waiters, e.Duration = res.Reactive, res.Waiters, res.Duration
		})
		return
	}

	m.emit(EventRenewalFailed, func(e *Event) {
		e.Reactive, e.Waiters, e.Duration = res.Reactive, res.Waiters, res.Duration
		e.Error = res.Err.Error()
		if c, ok := ClassOf(res.Err); ok {
			e.Class = c.String()
		}
	})

	// Proactive renewal is best effort; only a request-driven cycle may end
	// the session.
	if res.Reactive && IsFatal(res.Err) {
		m.forceLogout(res.Err)
		return
	}
	m.logger.Debug("renewal failed, session kept", "error", res.Err, "reactive", res.Reactive)
}

// Login submits credentials and adopts the returned identity. Backends that
// answer login without an identity body are asked via the verify endpoint.
func (m *Manager) Login(ctx context.Context, username, password string) (*auth.Identity, error) {
	creds := struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{username, password}

	gen := m.generation()
	resp, err := m.send(ctx, http.MethodPost, m.opts.Endpoints.Login, creds, "login")
	if err != nil {
		return nil, err
	}

	ident, err := m.readIdentity(resp, "login")
	if err != nil {
		var se *Error
		switch {
		case !errors.As(err, &se):
			return nil, err
		case se.Status >= 200 && se.Status <= 299:
			if ident, err = m.fetchIdentity(ctx); err != nil {
				return nil, err
			}
		case se.Status == http.StatusBadRequest || se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden:
			se.Err = fmt.Errorf("%w: %w", ErrInvalidCredential, se.Err)
			return nil, se
		default:
			return nil, se
		}
	}

	if !m.adoptAt(ident, gen) {
		m.logger.Debug("dropping login result for a cleared session", "user_id", ident.ID)
		return nil, fmt.Errorf("login: %w", ErrSessionEnded)
	}
	m.persist(ident, gen)
	m.emit(EventLogin, nil)
	m.logger.Info("logged in", "user_id", ident.ID, "role", ident.Role)
	return ident.Clone(), nil
}

// Logout ends the session. The server call is best effort; local state is
// always cleared. The returned error reports only the server call.
func (m *Manager) Logout(ctx context.Context) error {
	var serverErr error
	resp, err := m.send(ctx, http.MethodPost, m.opts.Endpoints.Logout, struct{}{}, "logout")
	if err != nil {
		serverErr = err
	} else {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for keep-alive
		resp.Body.Close()                     //nolint:errcheck // Nothing to report
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serverErr = &httpclient.StatusError{Status: resp.StatusCode}
		}
	}
	if serverErr != nil {
		m.logger.Debug("server-side logout failed", "error", serverErr)
	}

	prev := m.clear(true)
	m.emitFor(EventLogout, prev, nil)
	m.logger.Info("logged out")
	return serverErr
}

// forceLogout clears the session after a fatal failure and redirects to the
// login surface once per session.
func (m *Manager) forceLogout(cause error) {
	m.mu.Lock()
	redirect := !m.redirected
	m.redirected = true
	m.mu.Unlock()

	prev := m.clear(true)
	m.emitFor(EventForcedLogout, prev, func(e *Event) {
		e.Error = cause.Error()
		e.Class = AuthInvalid.String()
	})

	if redirect {
		m.opts.Metrics.observeForcedLogout()
		m.logger.Warn("session invalid, redirecting to login", "error", cause)
		m.opts.Navigator.HardRedirect(m.opts.LoginRoute)
	}
}

// HandleStoreChange applies an identity change made by another console
// process sharing the credential store.
func (m *Manager) HandleStoreChange(c credstore.Change) {
	if c.Identity == nil {
		prev := m.clear(false)
		if prev != nil {
			m.emitFor(EventExternalChange, prev, nil)
			m.logger.Info("identity cleared by another console")
		}
		return
	}

	m.mu.Lock()
	same := m.ident.Equal(c.Identity)
	m.mu.Unlock()
	if same {
		return
	}
	m.adopt(c.Identity)
	m.emit(EventExternalChange, nil)
	m.logger.Info("identity changed by another console", "user_id", c.Identity.ID)
}

// adopt installs ident and makes sure the renewer runs.
func (m *Manager) adopt(ident *auth.Identity) {
	m.mu.Lock()
	m.install(ident)
	m.mu.Unlock()
	m.opts.Metrics.setAuthenticated(true)
}

// adoptAt installs ident only if the session has not been cleared since gen
// was read.
func (m *Manager) adoptAt(ident *auth.Identity, gen uint64) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.install(ident)
	m.mu.Unlock()
	m.opts.Metrics.setAuthenticated(true)
	return true
}

// install requires m.mu.
func (m *Manager) install(ident *auth.Identity) {
	m.ident = ident.Clone()
	if m.state != StateRenewing {
		m.state = StateAuthenticated
	}
	m.redirected = false
	if m.renewer == nil && !m.closed {
		m.renewer = startRenewer(m.nextRenewal, m.coord.Renew, m.logger)
	}
}

// persist saves ident unless the session was cleared since gen was read.
func (m *Manager) persist(ident *auth.Identity, gen uint64) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	if m.generation() != gen {
		return
	}
	if err := m.store.Save(*ident); err != nil {
		m.logger.Warn("persisting identity failed", "error", err)
	}
}

// clear drops the identity, renewer and cookies, and optionally the stored
// record. It returns the identity that was held.
func (m *Manager) clear(clearStore bool) *auth.Identity {
	m.mu.Lock()
	prev := m.ident
	r := m.renewer
	m.ident = nil
	m.renewer = nil
	m.state = StateAnonymous
	m.gen++
	m.mu.Unlock()

	if r != nil {
		r.stop()
	}
	if clearStore {
		m.storeMu.Lock()
		if err := m.store.Clear(); err != nil {
			m.logger.Warn("clearing stored identity failed", "error", err)
		}
		m.storeMu.Unlock()
	}
	m.client.ResetCookies()
	m.opts.Metrics.setAuthenticated(false)
	return prev
}

// nextRenewal schedules proactive renewal ahead of the access credential's
// expiry when it can be read, and on the fixed interval otherwise.
func (m *Manager) nextRenewal() time.Duration {
	if raw := m.client.Cookie(m.opts.AccessCookie); raw != "" {
		if left, err := auth.TokenLifetime(raw, time.Now()); err == nil {
			return max(left-m.opts.RenewMargin, minRenewDelay)
		}
	}
	return m.opts.RenewInterval
}

func (m *Manager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Identity returns a copy of the current identity.
func (m *Manager) Identity() (*auth.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ident == nil {
		return nil, false
	}
	return m.ident.Clone(), true
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Lifecycle returns the boot state machine.
func (m *Manager) Lifecycle() *Lifecycle { return m.lifecycle }

// Ready is closed once Boot has finished hydrating.
func (m *Manager) Ready() <-chan struct{} { return m.lifecycle.Ready() }

// Verified is closed once the verification started by Boot has finished,
// or immediately after Boot when there was nothing to verify.
func (m *Manager) Verified() <-chan struct{} { return m.verified }

// Client returns the HTTP client carrying the session. Business calls made
// through it get renewal and degraded-resource handling.
func (m *Manager) Client() *httpclient.Client { return m.client }

// Coordinator exposes renewal statistics.
func (m *Manager) Coordinator() *Coordinator { return m.coord }

// Subscribe returns a channel of session events and a function that ends
// the subscription.
func (m *Manager) Subscribe() (<-chan Event, func()) { return m.events.subscribe() }

// Close stops background renewal and ends all subscriptions. The identity
// and store are left as they are.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	r := m.renewer
	m.renewer = nil
	m.mu.Unlock()

	if r != nil {
		r.stop()
	}
	m.events.close()
}

func (m *Manager) emit(t EventType, mutate func(*Event)) {
	m.mu.Lock()
	ident := m.ident.Clone()
	m.mu.Unlock()
	m.emitFor(t, ident, mutate)
}

func (m *Manager) emitFor(t EventType, ident *auth.Identity, mutate func(*Event)) {
	e := newEvent(t, m.State(), ident)
	if mutate != nil {
		mutate(&e)
	}
	m.opts.Sink.HandleSessionEvent(e)
	m.events.publish(e)
}

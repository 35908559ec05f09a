package session

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/auth"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/credstore"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/httpclient"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/config"
)

const (
	testUsername = "amina"
	testPassword = "correct horse"
)

// logEntry is one request seen by the fake identity provider.
type logEntry struct {
	Method string
	Path   string
	Status int
}

// fakeIdP is an HMS backend with cookie sessions. Business routes accept
// only the current access token; /auth/refresh rotates it.
type fakeIdP struct {
	srv  *httptest.Server
	user auth.Identity

	mu       sync.Mutex
	access   string
	refresh  string
	log      []logEntry
	meScript []int // statuses /auth/me answers with before falling back to normal behaviour

	refreshStatus int    // non-zero: answer /auth/refresh with this status
	refreshDrop   bool   // drop the connection on /auth/refresh
	beforeRefresh func() // runs before /auth/refresh answers
	beforeMe      func() // runs before /auth/me answers
	loginNoBody   bool   // answer login with 204 and no identity
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	tenant := auth.ID("3")
	f := &fakeIdP{
		user: auth.Identity{ID: "1", Name: "Amina", Role: auth.RoleTenantOwner, TenantID: &tenant},
	}

	r := chi.NewRouter()
	r.Use(f.record)
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", f.handleLogin)
		r.Post("/auth/refresh", f.handleRefresh)
		r.Get("/auth/me", f.handleMe)
		r.Post("/auth/logout", f.handleLogout)

		r.Get("/semesters", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		})
		r.Get("/reports", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		})
		r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		})
		r.Get("/always-401", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		})
		r.Get("/rooms", f.business(func(w http.ResponseWriter, _ *http.Request) {
			writeTestJSON(w, []map[string]int{{"id": 1}, {"id": 2}})
		}))
		r.Post("/payments", f.business(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeTestJSON(w, body)
		}))
	})

	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIdP) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		f.mu.Lock()
		f.log = append(f.log, logEntry{Method: r.Method, Path: r.URL.Path, Status: ww.Status()})
		f.mu.Unlock()
	})
}

func (f *fakeIdP) business(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !f.validAccess(r) {
			http.Error(w, `{"error":"token expired"}`, http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (f *fakeIdP) validAccess(r *http.Request) bool {
	c, err := r.Cookie("access_token")
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return c.Value == f.access
}

func (f *fakeIdP) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}
	if creds.Username != testUsername || creds.Password != testPassword {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}
	f.setTokens(w)

	f.mu.Lock()
	noBody := f.loginNoBody
	f.mu.Unlock()
	if noBody {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeTestJSON(w, map[string]any{"user": f.user})
}

func (f *fakeIdP) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	hook, status, drop := f.beforeRefresh, f.refreshStatus, f.refreshDrop
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if drop {
		hijackAndClose(w)
		return
	}
	if status != 0 {
		http.Error(w, `{"error":"refresh rejected"}`, status)
		return
	}

	c, err := r.Cookie("refresh_token")
	f.mu.Lock()
	valid := err == nil && c.Value == f.refresh
	f.mu.Unlock()
	if !valid {
		http.Error(w, `{"error":"invalid refresh token"}`, http.StatusForbidden)
		return
	}
	f.setTokens(w)
	writeTestJSON(w, map[string]string{"message": "refreshed"})
}

func (f *fakeIdP) handleMe(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	hook := f.beforeMe
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	var scripted int
	if len(f.meScript) > 0 {
		scripted, f.meScript = f.meScript[0], f.meScript[1:]
	}
	f.mu.Unlock()

	if scripted != 0 && scripted != http.StatusOK {
		http.Error(w, `{"error":"scripted"}`, scripted)
		return
	}
	if scripted == 0 && !f.validAccess(r) {
		http.Error(w, `{"error":"token expired"}`, http.StatusUnauthorized)
		return
	}
	writeTestJSON(w, f.user)
}

func (f *fakeIdP) handleLogout(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.access, f.refresh = "revoked-"+uuid.NewString(), "revoked-"+uuid.NewString()
	f.mu.Unlock()
	writeTestJSON(w, map[string]string{"message": "logged out"})
}

// setTokens issues a fresh token pair as cookies.
func (f *fakeIdP) setTokens(w http.ResponseWriter) {
	access, refresh := f.issue()
	http.SetCookie(w, &http.Cookie{Name: "access_token", Value: access, Path: "/", HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: refresh, Path: "/", HttpOnly: true})
}

// issue rotates the valid token pair and returns it.
func (f *fakeIdP) issue() (access, refresh string) {
	claims := auth.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   string(f.user.ID),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: f.user.Role,
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("idp-secret"))
	if err != nil {
		panic(err)
	}
	refresh = uuid.NewString()

	f.mu.Lock()
	f.access, f.refresh = access, refresh
	f.mu.Unlock()
	return access, refresh
}

// seedSession gives client a valid session, as if logged in earlier.
func (f *fakeIdP) seedSession(client *httpclient.Client) {
	access, refresh := f.issue()
	client.HTTP().Jar.SetCookies(client.BaseURL(), []*http.Cookie{
		{Name: "access_token", Value: access, Path: "/"},
		{Name: "refresh_token", Value: refresh, Path: "/"},
	})
}

// expireAccess invalidates the current access token; the refresh token stays valid.
func (f *fakeIdP) expireAccess() {
	f.mu.Lock()
	f.access = "expired-" + uuid.NewString()
	f.mu.Unlock()
}

func (f *fakeIdP) set(fn func(f *fakeIdP)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeIdP) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.log {
		if e.Method == method && e.Path == path {
			n++
		}
	}
	return n
}

func (f *fakeIdP) entries() []logEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logEntry(nil), f.log...)
}

func hijackAndClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("response writer cannot hijack")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	conn.(*net.TCPConn).SetLinger(0) //nolint:errcheck // Force RST
	conn.Close()                     //nolint:errcheck // Dropped on purpose
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck // Test handler
}

// recordingNavigator records hard redirects.
type recordingNavigator struct {
	mu     sync.Mutex
	routes []string
}

func (n *recordingNavigator) HardRedirect(route string) {
	n.mu.Lock()
	n.routes = append(n.routes, route)
	n.mu.Unlock()
}

func (n *recordingNavigator) redirects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.routes...)
}

// testEnv is a Manager talking to a fake identity provider.
type testEnv struct {
	idp    *fakeIdP
	client *httpclient.Client
	store  *credstore.MemoryStore
	nav    *recordingNavigator
	mgr    *Manager
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	idp := newFakeIdP(t)

	client, err := httpclient.New(config.APIConfig{
		BaseURL:   idp.srv.URL + "/api",
		Timeout:   10 * time.Second,
		UserAgent: "hmsconsole-test",
	})
	if err != nil {
		t.Fatalf("httpclient.New() error = %v", err)
	}

	env := &testEnv{
		idp:    idp,
		client: client,
		store:  credstore.NewMemoryStore(),
		nav:    &recordingNavigator{},
	}
	opts := Options{
		LoginRoute:     "/login",
		RenewInterval:  time.Hour,
		RenewMargin:    time.Minute,
		RenewalTimeout: 5 * time.Second,
		Navigator:      env.nav,
	}
	if mutate != nil {
		mutate(&opts)
	}
	env.mgr = NewManager(client, env.store, opts)
	t.Cleanup(env.mgr.Close)
	return env
}

func (e *testEnv) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	req, err := e.client.NewRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	return e.mgr.Client().Do(req)
}

// login establishes a session through the manager.
func (e *testEnv) login(t *testing.T) {
	t.Helper()
	if _, err := e.mgr.Login(t.Context(), testUsername, testPassword); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(cond func() bool, within time.Duration) bool {
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/auth"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/credstore"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/config"
)

// storedOwner is a minimal record, without display name, kept between runs.
func storedOwner() auth.Identity {
	return auth.Identity{ID: "1", Role: auth.RoleTenantOwner}
}

func saveIdentity(t *testing.T, store credstore.Store, ident auth.Identity) {
	t.Helper()
	if err := store.Save(ident); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func TestManager_BootVerifyRenewsOnceAndReplacesIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	saveIdentity(t, env.store, storedOwner())
	env.idp.seedSession(env.client)
	env.idp.expireAccess()

	env.mgr.Boot(t.Context(), "/owner")

	// Optimistic adoption happens before verification completes.
	if ident, ok := env.mgr.Identity(); !ok || ident.ID != "1" {
		t.Fatalf("Identity() after Boot = %+v, %v", ident, ok)
	}
	waitClosed(t, env.mgr.Ready(), "ready")
	waitClosed(t, env.mgr.Verified(), "verification")

	if got := env.idp.count(http.MethodPost, "/api/auth/refresh"); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if got := env.idp.count(http.MethodGet, "/api/auth/me"); got != 2 {
		t.Errorf("verify calls = %d, want 2", got)
	}

	ident, ok := env.mgr.Identity()
	if !ok || !ident.Equal(&env.idp.user) {
		t.Errorf("Identity() = %+v, want %+v", ident, env.idp.user)
	}
	stored, ok := env.store.Load()
	if !ok || !stored.Equal(&env.idp.user) {
		t.Errorf("stored identity = %+v, want %+v", stored, env.idp.user)
	}
	if len(env.nav.redirects()) != 0 {
		t.Errorf("redirects = %v, want none", env.nav.redirects())
	}
}

func TestManager_BootIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	saveIdentity(t, env.store, storedOwner())
	env.idp.seedSession(env.client)

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() { env.mgr.Boot(t.Context(), "/owner") })
	}
	wg.Wait()
	waitClosed(t, env.mgr.Verified(), "verification")
	env.mgr.Boot(t.Context(), "/owner")

	if got := env.idp.count(http.MethodGet, "/api/auth/me"); got != 1 {
		t.Errorf("verify calls = %d, want 1", got)
	}
	if env.mgr.Lifecycle().Phase() != PhaseReady {
		t.Errorf("phase = %s, want ready", env.mgr.Lifecycle().Phase())
	}
	if env.mgr.State() != StateAuthenticated {
		t.Errorf("state = %s, want authenticated", env.mgr.State())
	}
}

func TestManager_BootWithoutVerification(t *testing.T) {
	tests := []struct {
		name   string
		stored bool
		route  string
	}{
		{name: "login route", stored: true, route: "/login"},
		{name: "login route with query", stored: true, route: "/login?next=%2Fowner"},
		{name: "nothing stored", stored: false, route: "/owner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			if tt.stored {
				saveIdentity(t, env.store, storedOwner())
			}

			env.mgr.Boot(t.Context(), tt.route)
			waitClosed(t, env.mgr.Verified(), "verification")

			if env.mgr.State() != StateAnonymous {
				t.Errorf("state = %s, want anonymous", env.mgr.State())
			}
			if n := len(env.idp.entries()); n != 0 {
				t.Errorf("network calls = %d, want 0", n)
			}
			if _, ok := env.mgr.Identity(); ok {
				t.Error("identity adopted")
			}
		})
	}
}

func TestManager_BootDropsCorruptRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.SetRaw([]byte(`{"name":"no id"}`))

	env.mgr.Boot(t.Context(), "/owner")
	waitClosed(t, env.mgr.Verified(), "verification")

	if env.mgr.State() != StateAnonymous {
		t.Errorf("state = %s, want anonymous", env.mgr.State())
	}
	if env.store.Raw() != nil {
		t.Errorf("corrupt record kept: %q", env.store.Raw())
	}
}

func TestManager_VerifyOutcomes(t *testing.T) {
	tests := []struct {
		name         string
		script       []int
		wantFatal    bool
		wantRefresh  int
		wantVerifies int
	}{
		{name: "forbidden is fatal", script: []int{403}, wantFatal: true, wantVerifies: 1},
		{name: "server error keeps session", script: []int{503}, wantVerifies: 1},
		{name: "second 401 is fatal", script: []int{401, 401}, wantFatal: true, wantRefresh: 1, wantVerifies: 2},
		{name: "403 after renewal is fatal", script: []int{401, 403}, wantFatal: true, wantRefresh: 1, wantVerifies: 2},
		{name: "server error after renewal keeps session", script: []int{401, 500}, wantRefresh: 1, wantVerifies: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			saveIdentity(t, env.store, storedOwner())
			env.idp.seedSession(env.client)
			env.idp.set(func(f *fakeIdP) { f.meScript = tt.script })

			env.mgr.Boot(t.Context(), "/owner")
			waitClosed(t, env.mgr.Verified(), "verification")

			if got := env.idp.count(http.MethodPost, "/api/auth/refresh"); got != tt.wantRefresh {
				t.Errorf("refresh calls = %d, want %d", got, tt.wantRefresh)
			}
			if got := env.idp.count(http.MethodGet, "/api/auth/me"); got != tt.wantVerifies {
				t.Errorf("verify calls = %d, want %d", got, tt.wantVerifies)
			}

			_, held := env.mgr.Identity()
			_, stored := env.store.Load()
			redirects := env.nav.redirects()
			if tt.wantFatal {
				if held || stored {
					t.Errorf("identity held=%v stored=%v after fatal verify", held, stored)
				}
				if len(redirects) != 1 || redirects[0] != "/login" {
					t.Errorf("redirects = %v, want [/login]", redirects)
				}
				return
			}
			if !held || !stored {
				t.Errorf("identity held=%v stored=%v, want kept", held, stored)
			}
			if len(redirects) != 0 {
				t.Errorf("redirects = %v, want none", redirects)
			}
		})
	}
}

func TestManager_VerifyErrorClasses(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t)
	env.idp.set(func(f *fakeIdP) { f.meScript = []int{500} })

	_, err := env.mgr.Verify(t.Context())
	if !errors.Is(err, ErrTransient) {
		t.Errorf("Verify() error = %v, want transient", err)
	}
	if env.mgr.State() != StateAuthenticated {
		t.Errorf("state = %s, want authenticated", env.mgr.State())
	}

	env.idp.set(func(f *fakeIdP) { f.meScript = []int{403} })
	_, err = env.mgr.Verify(t.Context())
	if !IsFatal(err) {
		t.Errorf("Verify() error = %v, want fatal", err)
	}
}

func TestManager_Login(t *testing.T) {
	tests := []struct {
		name     string
		password string
		noBody   bool
		wantErr  error
	}{
		{name: "identity in body", password: testPassword},
		{name: "identity fetched after login", password: testPassword, noBody: true},
		{name: "wrong password", password: "hunter2", wantErr: ErrInvalidCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.idp.set(func(f *fakeIdP) { f.loginNoBody = tt.noBody })
			events, unsubscribe := env.mgr.Subscribe()
			defer unsubscribe()

			ident, err := env.mgr.Login(t.Context(), testUsername, tt.password)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Login() error = %v, want %v", err, tt.wantErr)
				}
				if _, ok := env.mgr.Identity(); ok {
					t.Error("identity adopted after failed login")
				}
				return
			}
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}

			if !ident.Equal(&env.idp.user) {
				t.Errorf("Login() = %+v, want %+v", ident, env.idp.user)
			}
			if env.mgr.State() != StateAuthenticated {
				t.Errorf("state = %s, want authenticated", env.mgr.State())
			}
			if stored, ok := env.store.Load(); !ok || !stored.Equal(ident) {
				t.Errorf("stored = %+v, %v", stored, ok)
			}
			wantMe := 0
			if tt.noBody {
				wantMe = 1
			}
			if got := env.idp.count(http.MethodGet, "/api/auth/me"); got != wantMe {
				t.Errorf("verify calls = %d, want %d", got, wantMe)
			}

			select {
			case e := <-events:
				if e.Type != EventLogin || e.UserID != "1" || e.Role != auth.RoleTenantOwner || e.TenantID != "3" {
					t.Errorf("event = %+v", e)
				}
			case <-time.After(time.Second):
				t.Error("no login event")
			}
		})
	}
}

func TestManager_Logout(t *testing.T) {
	t.Run("clears everything", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.login(t)

		if err := env.mgr.Logout(t.Context()); err != nil {
			t.Fatalf("Logout() error = %v", err)
		}
		if got := env.idp.count(http.MethodPost, "/api/auth/logout"); got != 1 {
			t.Errorf("logout calls = %d, want 1", got)
		}
		assertLoggedOut(t, env)
		if len(env.nav.redirects()) != 0 {
			t.Errorf("redirects = %v, want none", env.nav.redirects())
		}
	})

	t.Run("server unreachable", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.login(t)
		env.idp.srv.Close()

		if err := env.mgr.Logout(t.Context()); err == nil {
			t.Error("Logout() error = nil, want server failure reported")
		}
		assertLoggedOut(t, env)
	})
}

func TestManager_LogoutWinsOverRequestInFlight(t *testing.T) {
	tests := []struct {
		name      string
		answer    int
		wantEnded bool
		setup     func(t *testing.T, env *testEnv)
		request   func(ctx context.Context, env *testEnv) error
	}{
		{
			name:   "boot verification answering 200",
			answer: http.StatusOK,
			setup: func(t *testing.T, env *testEnv) {
				saveIdentity(t, env.store, storedOwner())
				env.idp.seedSession(env.client)
			},
			request: func(ctx context.Context, env *testEnv) error {
				env.mgr.Boot(ctx, "/owner")
				<-env.mgr.Verified()
				return nil
			},
		},
		{
			name:      "verify answering 200",
			answer:    http.StatusOK,
			wantEnded: true,
			setup:     func(t *testing.T, env *testEnv) { env.login(t) },
			request: func(ctx context.Context, env *testEnv) error {
				_, err := env.mgr.Verify(ctx)
				return err
			},
		},
		{
			name:   "verify answering 403",
			answer: http.StatusForbidden,
			setup:  func(t *testing.T, env *testEnv) { env.login(t) },
			request: func(ctx context.Context, env *testEnv) error {
				_, err := env.mgr.Verify(ctx)
				return err
			},
		},
		{
			name:      "login fetching identity",
			answer:    http.StatusOK,
			wantEnded: true,
			setup: func(t *testing.T, env *testEnv) {
				env.idp.set(func(f *fakeIdP) { f.loginNoBody = true })
			},
			request: func(ctx context.Context, env *testEnv) error {
				_, err := env.mgr.Login(ctx, testUsername, testPassword)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			tt.setup(t, env)

			entered := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			env.idp.set(func(f *fakeIdP) {
				f.meScript = []int{tt.answer}
				f.beforeMe = func() {
					once.Do(func() { close(entered) })
					<-release
				}
			})

			done := make(chan error, 1)
			go func() { done <- tt.request(t.Context(), env) }()
			waitClosed(t, entered, "identity request")

			if err := env.mgr.Logout(t.Context()); err != nil {
				t.Fatalf("Logout() error = %v", err)
			}
			close(release)

			var err error
			select {
			case err = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("request did not return")
			}
			if tt.wantEnded && !errors.Is(err, ErrSessionEnded) {
				t.Errorf("error = %v, want ErrSessionEnded", err)
			}

			assertLoggedOut(t, env)
			if len(env.nav.redirects()) != 0 {
				t.Errorf("redirects = %v, want none", env.nav.redirects())
			}
		})
	}
}

func assertLoggedOut(t *testing.T, env *testEnv) {
	t.Helper()
	if _, ok := env.mgr.Identity(); ok {
		t.Error("identity held after logout")
	}
	if _, ok := env.store.Load(); ok {
		t.Error("identity stored after logout")
	}
	if env.mgr.State() != StateAnonymous {
		t.Errorf("state = %s, want anonymous", env.mgr.State())
	}
	if env.client.Cookie("access_token") != "" {
		t.Error("cookies kept after logout")
	}
}

func TestManager_ProactiveRenewal(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.RenewInterval = 20 * time.Millisecond
		o.AccessCookie = "hms_no_such_cookie"
	})
	env.login(t)

	if !eventually(func() bool { return env.idp.count(http.MethodPost, "/api/auth/refresh") >= 2 }, 5*time.Second) {
		t.Fatal("proactive renewal did not run")
	}

	if err := env.mgr.Logout(t.Context()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	after := env.idp.count(http.MethodPost, "/api/auth/refresh")
	time.Sleep(100 * time.Millisecond)
	if got := env.idp.count(http.MethodPost, "/api/auth/refresh"); got != after {
		t.Errorf("renewals after logout = %d, want none", got-after)
	}
}

func TestManager_ProactiveFailureKeepsSession(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.RenewInterval = 20 * time.Millisecond
		o.AccessCookie = "hms_no_such_cookie"
	})
	env.login(t)
	env.idp.set(func(f *fakeIdP) { f.refreshStatus = http.StatusForbidden })

	if !eventually(func() bool { return env.idp.count(http.MethodPost, "/api/auth/refresh") >= 3 }, 5*time.Second) {
		t.Fatal("proactive renewal did not run")
	}
	if _, ok := env.mgr.Identity(); !ok {
		t.Error("proactive failure ended the session")
	}
	if len(env.nav.redirects()) != 0 {
		t.Errorf("redirects = %v, want none", env.nav.redirects())
	}
}

func TestManager_NextRenewalFollowsTokenExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	if got := env.mgr.nextRenewal(); got != time.Hour {
		t.Errorf("nextRenewal() without cookie = %v, want interval", got)
	}

	env.login(t)
	got := env.mgr.nextRenewal()
	if got < 58*time.Minute || got > 59*time.Minute {
		t.Errorf("nextRenewal() = %v, want token lifetime minus margin", got)
	}

	env.client.HTTP().Jar.SetCookies(env.client.BaseURL(), []*http.Cookie{
		{Name: "access_token", Value: "not-a-jwt", Path: "/"},
	})
	if got := env.mgr.nextRenewal(); got != time.Hour {
		t.Errorf("nextRenewal() with opaque cookie = %v, want interval", got)
	}
}

func TestManager_HandleStoreChange(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t)
	events, unsubscribe := env.mgr.Subscribe()
	defer unsubscribe()

	staff := auth.Identity{ID: "7", Role: auth.RoleTenantStaff}
	env.mgr.HandleStoreChange(credstore.Change{Identity: &staff})
	if ident, _ := env.mgr.Identity(); !ident.Equal(&staff) {
		t.Errorf("Identity() = %+v, want %+v", ident, staff)
	}

	env.mgr.HandleStoreChange(credstore.Change{Identity: &staff})
	env.mgr.HandleStoreChange(credstore.Change{})
	if env.mgr.State() != StateAnonymous {
		t.Errorf("state = %s, want anonymous", env.mgr.State())
	}
	if len(env.nav.redirects()) != 0 {
		t.Errorf("redirects = %v, want none", env.nav.redirects())
	}

	var got []EventType
	for len(got) < 2 {
		select {
		case e := <-events:
			got = append(got, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("events = %v, want two external changes", got)
		}
	}
	select {
	case e := <-events:
		t.Errorf("unexpected event %+v", e)
	default:
	}
	for _, typ := range got {
		if typ != EventExternalChange {
			t.Errorf("events = %v, want external changes only", got)
		}
	}
}

func TestManager_SinkReceivesEvents(t *testing.T) {
	var (
		mu  sync.Mutex
		got []Event
	)
	sink := EventSinkFunc(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	env := newTestEnv(t, func(o *Options) { o.Sink = sink })
	env.login(t)
	env.idp.expireAccess()

	resp, err := env.do(t.Context(), http.MethodGet, "/rooms", nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0].Type != EventLogin || got[1].Type != EventRenewed {
		t.Fatalf("events = %+v, want login then renewed", got)
	}
	if !got[1].Reactive || got[1].Waiters != 1 || got[1].ID == "" {
		t.Errorf("renewed event = %+v", got[1])
	}
}

func TestManager_ForcedLogoutMetric(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	env := newTestEnv(t, func(o *Options) { o.Metrics = metrics })
	env.login(t)
	env.idp.expireAccess()
	env.idp.set(func(f *fakeIdP) { f.refreshStatus = http.StatusForbidden })

	if _, err := env.do(t.Context(), http.MethodGet, "/rooms", nil); !IsFatal(err) {
		t.Fatalf("Do() error = %v, want fatal", err)
	}
	if !eventually(func() bool { return testutil.ToFloat64(metrics.forcedLogouts) == 1 }, time.Second) {
		t.Errorf("forced logouts = %v, want 1", testutil.ToFloat64(metrics.forcedLogouts))
	}
	if got := testutil.ToFloat64(metrics.authenticated); got != 0 {
		t.Errorf("authenticated = %v, want 0", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Console.LoginRoute = "/signin"
	cfg.Session.RenewInterval = 10 * time.Minute
	cfg.Session.RenewMargin = 30 * time.Second
	cfg.Session.AccessCookie = "hms_access"
	cfg.Session.Degraded = []config.DegradedRuleConfig{{Fragment: "/semesters", Neutral: "empty_list"}}

	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("OptionsFromConfig() error = %v", err)
	}
	if opts.LoginRoute != "/signin" || opts.RenewInterval != 10*time.Minute || opts.AccessCookie != "hms_access" {
		t.Errorf("OptionsFromConfig() = %+v", opts)
	}
	if len(opts.Degraded.Rules()) != 1 {
		t.Errorf("degraded rules = %v", opts.Degraded.Rules())
	}

	cfg.Session.Degraded = []config.DegradedRuleConfig{{Fragment: "/x", Neutral: "zero"}}
	if _, err := OptionsFromConfig(cfg); err == nil {
		t.Error("OptionsFromConfig() accepted unknown neutral value")
	}
}

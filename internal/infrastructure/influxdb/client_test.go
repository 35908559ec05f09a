package influxdb_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/config"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	srv *httptest.Server

	mu         sync.Mutex
	lines      []string
	query      string
	writeCode  int
	pingStatus int
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{pingStatus: http.StatusNoContent}
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		status := f.pingStatus
		f.mu.Unlock()
		w.WriteHeader(status)
	})
	mux.HandleFunc("/api/v2/write", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
		f.mu.Lock()
		defer f.mu.Unlock()
		f.query = r.URL.RawQuery
		if f.writeCode != 0 {
			http.Error(w, `{"code":"invalid","message":"rejected"}`, f.writeCode)
			return
		}
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "hms-test-token",
		Org:           "hms",
		Bucket:        "console",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect(t *testing.T) {
	fake := newFakeInflux(t)

	tests := []struct {
		name    string
		mutate  func(*config.InfluxDBConfig)
		ping    int
		wantErr error
	}{
		{name: "healthy", ping: http.StatusNoContent},
		{name: "default batch settings", mutate: func(c *config.InfluxDBConfig) { c.BatchSize, c.FlushInterval = 0, -1 }, ping: http.StatusNoContent},
		{name: "disabled", mutate: func(c *config.InfluxDBConfig) { c.Enabled = false }, wantErr: influxdb.ErrDisabled},
		{name: "unreachable", mutate: func(c *config.InfluxDBConfig) { c.URL = "http://127.0.0.1:1" }, wantErr: influxdb.ErrConnectionFailed},
		{name: "unhealthy", ping: http.StatusServiceUnavailable, wantErr: influxdb.ErrConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake.mu.Lock()
			fake.pingStatus = tt.ping
			fake.mu.Unlock()

			cfg := testConfig(fake.srv.URL)
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			client, err := influxdb.Connect(t.Context(), cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Connect() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			defer client.Close()
			if !client.IsConnected() {
				t.Error("IsConnected() = false after Connect()")
			}
		})
	}
}

func TestWritePoint(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := influxdb.Connect(t.Context(), testConfig(fake.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WritePoint("session_events",
		map[string]string{"client": "frontdesk-01", "type": "login"},
		map[string]any{"user_id": "1"})
	client.WritePointWithTime("session_renewals",
		map[string]string{"trigger": "reactive"},
		map[string]any{"waiters": 5},
		time.Unix(1_700_000_000, 0))
	client.WritePoint("empty", nil, nil)
	client.Flush()

	lines := fake.written()
	if len(lines) != 2 {
		t.Fatalf("lines = %q, want 2", lines)
	}
	if !strings.HasPrefix(lines[0], "session_events,client=frontdesk-01,type=login user_id=\"1\"") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "session_renewals,trigger=reactive waiters=5i 1700000000000000000" {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(fake.query, "bucket=console") || !strings.Contains(fake.query, "org=hms") {
		t.Errorf("write query = %q", fake.query)
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := influxdb.Connect(t.Context(), testConfig(fake.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errs := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	fake.mu.Lock()
	fake.writeCode = http.StatusBadRequest
	fake.mu.Unlock()

	client.WritePoint("session_events", map[string]string{"type": "login"}, map[string]any{"n": 1})
	client.Flush()

	select {
	case err := <-errs:
		if err == nil {
			t.Error("callback received nil error")
		}
	case <-time.After(5 * time.Second):
		t.Error("write error not reported")
	}
}

func TestHealthCheck(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := influxdb.Connect(t.Context(), testConfig(fake.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	fake.mu.Lock()
	fake.pingStatus = http.StatusServiceUnavailable
	fake.mu.Unlock()
	if err := client.HealthCheck(t.Context()); err == nil {
		t.Error("HealthCheck() on unhealthy server = nil")
	}

	client.Close()
	if err := client.HealthCheck(t.Context()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
}

func TestCloseTwice(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := influxdb.Connect(t.Context(), testConfig(fake.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	client.Flush()
	client.WritePoint("after_close", nil, map[string]any{"n": 1})

	var nilClient *influxdb.Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
}

package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/auth"
)

// healthCheckTimeout bounds each component check.
const healthCheckTimeout = 3 * time.Second

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleSession)
			r.Post("/verify", s.handleVerify)
			r.Post("/logout", s.handleLogout)
			r.Get("/events", s.handleWebSocket)
			r.Get("/audit", s.handleAudit)
		})
	})

	return r
}

// ComponentHealth is the result of one component check.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version"`
	Session    string                     `json:"session"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// handleHealth answers 200 when every component is healthy and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Session: s.session.State().String(),
	}

	if len(s.checks) > 0 {
		resp.Components = make(map[string]ComponentHealth, len(s.checks))
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := s.checks[name].HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Status = "degraded"
				resp.Components[name] = ComponentHealth{Status: "error", Error: err.Error()}
				continue
			}
			resp.Components[name] = ComponentHealth{Status: "ok"}
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// RenewalStatus describes the renewal coordinator.
type RenewalStatus struct {
	InFlight bool  `json:"in_flight"`
	Waiting  int   `json:"waiting"`
	Cycles   int64 `json:"cycles"`
}

// SessionResponse is the body of GET /api/v1/session.
type SessionResponse struct {
	State         string         `json:"state"`
	Authenticated bool           `json:"authenticated"`
	Identity      *auth.Identity `json:"identity,omitempty"`
	Renewal       RenewalStatus  `json:"renewal"`
}

func (s *Server) sessionSnapshot() SessionResponse {
	state := s.session.State()
	ident, ok := s.session.Identity()
	coord := s.session.Coordinator()
	resp := SessionResponse{
		State:         state.String(),
		Authenticated: ok,
		Renewal: RenewalStatus{
			InFlight: coord.InFlight(),
			Waiting:  coord.Waiting(),
			Cycles:   coord.Renewals(),
		},
	}
	if ok {
		resp.Identity = ident
	}
	return resp
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionSnapshot())
}

// handleVerify re-checks the identity with the backend. Without a session
// there is nothing to verify.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session.Identity(); !ok {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "no active session")
		return
	}
	if _, err := s.session.Verify(r.Context()); err != nil {
		s.logger.Info("verification requested through status API failed", "error", err)
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionSnapshot())
}

// LogoutResponse is the body of POST /api/v1/session/logout. The local
// session is always cleared; ServerError reports a failed backend call.
type LogoutResponse struct {
	Status      string `json:"status"`
	ServerError string `json:"server_error,omitempty"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	resp := LogoutResponse{Status: "logged_out"}
	if err := s.session.Logout(r.Context()); err != nil {
		resp.ServerError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/audit"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/auth"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/config"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/session"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// SessionService is the part of session.Manager the status API uses.
type SessionService interface {
	Identity() (*auth.Identity, bool)
	State() session.State
	Verify(ctx context.Context) (*auth.Identity, error)
	Logout(ctx context.Context) error
	Subscribe() (<-chan session.Event, func())
	Coordinator() *session.Coordinator
}

// AuditLister pages through the session audit trail.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// HealthChecker is implemented by the console's infrastructure clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the status server.
type Deps struct {
	Config   config.StatusConfig
	Logger   *logging.Logger
	Session  SessionService
	Checks   map[string]HealthChecker // optional, keyed by component name
	Audit    AuditLister              // optional; nil disables the audit endpoint
	Gatherer prometheus.Gatherer      // nil means the default registry
	Version  string
}

// Server is the local status API.
type Server struct {
	cfg       config.StatusConfig
	logger    *logging.Logger
	session   SessionService
	checks    map[string]HealthChecker
	audit     AuditLister
	gatherer  prometheus.Gatherer
	version   string
	startTime time.Time

	hub    *Hub
	server *http.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	addr net.Addr
}

// New creates a status server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session service is required")
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger.With("component", "api"),
		session:   deps.Session,
		checks:    deps.Checks,
		audit:     deps.Audit,
		gatherer:  gatherer,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Config.WebSocket, deps.Logger),
	}, nil
}

// Start binds the listener, starts relaying session events to WebSocket
// clients and serves in the background. Bind errors are returned.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening for status API: %w", err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(srvCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.relayEvents(srvCtx)
	}()

	go func() {
		s.logger.Info("status API listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status API error", "error", err)
		}
	}()

	return nil
}

// relayEvents forwards session events to the WebSocket hub until ctx ends.
func (s *Server) relayEvents(ctx context.Context) {
	events, unsubscribe := s.session.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.hub.Broadcast(string(e.Type), e)
		}
	}
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts the server down.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("status API shutting down")
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutting down status API: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("status API not started")
	}
	return nil
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/smartlock-core/internal/auth"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/logging"
	"github.com/nerrad567/smartlock-core/internal/liveness"
	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every dependency reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger

	Locks   *lock.Registry
	Tracker *liveness.Tracker
	Guard   *liveness.Guard
	Logs    locklog.Store
	Auth    *auth.Service
	Users   auth.UserRepository

	// Hub is shared with the journal so it receives log entries. When nil
	// the server creates its own.
	Hub *Hub

	// Gatherer serves /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Health lists named dependencies reported on /health.
	Health map[string]HealthChecker

	Version string
}

// Server is the HTTP API server for smartlockd.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	metrics  config.MetricsConfig
	logger   *logging.Logger
	locks    *lock.Registry
	tracker  *liveness.Tracker
	guard    *liveness.Guard
	logs     locklog.Store
	auth     *auth.Service
	users    auth.UserRepository
	hub      *Hub
	gatherer prometheus.Gatherer
	health   map[string]HealthChecker
	version  string
	tickets  *ticketStore

	startTime time.Time
	now       func() time.Time

	server *http.Server
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Locks == nil {
		return nil, fmt.Errorf("lock registry is required")
	}
	if deps.Tracker == nil || deps.Guard == nil {
		return nil, fmt.Errorf("liveness tracker and guard are required")
	}
	if deps.Logs == nil {
		return nil, fmt.Errorf("log store is required")
	}
	if deps.Auth == nil || deps.Users == nil {
		return nil, fmt.Errorf("auth service and user repository are required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		locks:     deps.Locks,
		tracker:   deps.Tracker,
		guard:     deps.Guard,
		logs:      deps.Logs,
		auth:      deps.Auth,
		users:     deps.Users,
		hub:       deps.Hub,
		gatherer:  deps.Gatherer,
		health:    deps.Health,
		version:   deps.Version,
		tickets:   newTicketStore(),
		startTime: time.Now(),
		now:       time.Now,
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger, deps.Locks)
	}

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, then launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.pruneTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

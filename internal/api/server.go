package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/simpit-core/internal/bridge"
	"github.com/nerrad567/simpit-core/internal/infrastructure/config"
	"github.com/nerrad567/simpit-core/internal/infrastructure/logging"
	"github.com/nerrad567/simpit-core/internal/recorder"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthSource supplies health snapshots. *bridge.HealthReporter implements it.
type HealthSource interface {
	Snapshot() bridge.HealthMessage
}

// AddressStore serves the address journal. *recorder.Recorder implements it.
type AddressStore interface {
	List(ctx context.Context, limit int) ([]recorder.AddressRecord, error)
	Get(ctx context.Context, address uint16) (recorder.AddressRecord, error)
	Count(ctx context.Context) (int, error)
	Stats() recorder.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger

	// Optional. A nil field disables the endpoints that need it.
	Health    HealthSource
	Addresses AddressStore
	Metrics   http.Handler
	Hub       *Hub

	// Counters are extra named counters reported by /api/v1/stats, such as
	// publisher and command sender totals.
	Counters map[string]func() uint64

	Version string
}

// Server is the panel's HTTP status server.
//
// It is created with New, started with Start and stopped with Close.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	health    HealthSource
	addresses AddressStore
	metrics   http.Handler
	hub       *Hub
	ownsHub   bool
	counters  map[string]func() uint64
	version   string
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		health:    deps.Health,
		addresses: deps.Addresses,
		metrics:   deps.Metrics,
		hub:       deps.Hub,
		counters:  deps.Counters,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.Logger)
		s.ownsHub = true
	}
	return s, nil
}

// Hub returns the WebSocket hub, for wiring a FeedListener.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in a background goroutine.
//
// Binding happens before Start returns, so a port already in use is
// reported here rather than logged later.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(context.Background())
	if s.ownsHub {
		go s.hub.Run(srvCtx)
	}

	s.listener = ln
	s.done = make(chan struct{})
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())

	srv, done := s.server, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete. WebSocket
// connections are hijacked and closed through the hub.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, done, cancel := s.server, s.done, s.cancel
	s.server, s.cancel = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	if cancel != nil {
		cancel()
	}
	if !s.ownsHub {
		s.hub.closeAll()
	}

	ctx, stop := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer stop()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	<-done
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

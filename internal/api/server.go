package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	riobridge "github.com/nerrad567/gray-logic-rio/internal/bridges/rio"
	"github.com/nerrad567/gray-logic-rio/internal/history"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/logging"
	rioclient "github.com/nerrad567/gray-logic-rio/internal/rio"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the part of the MQTT bridge the API uses.
type Bridge interface {
	Devices() []riobridge.DeviceInfo
	Device(id string) (riobridge.DeviceInfo, bool)
	Status() riobridge.Status
	Execute(ctx context.Context, cmd riobridge.CommandMessage) (string, error)
}

// Controller is the part of the RIO client the API uses.
type Controller interface {
	GetVariable(ctx context.Context, deviceID, key string) (string, error)
	SetVariable(ctx context.Context, deviceID, key, value string) (string, error)
	SendEvent(ctx context.Context, deviceID, event string, args ...string) (string, error)
	Snapshot(deviceID string) map[string]string
	IsConnected() bool
	Version() string
	Stats() rioclient.Stats
}

var (
	_ Bridge     = (*riobridge.Bridge)(nil)
	_ Controller = (*rioclient.Client)(nil)
)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Bridge     Bridge
	Controller Controller
	History    history.Repository // optional
	Hub        *Hub               // optional; created when nil
	Version    string
}

// Server is the HTTP API server of the RIO bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	bridge     Bridge
	controller Controller
	history    history.Repository
	version    string
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, bridge, controller)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		bridge:     deps.Bridge,
		controller: deps.Controller,
		history:    deps.History,
		version:    deps.Version,
		hub:        hub,
	}, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub's lifetime
//
// Returns:
//   - error: Always nil; listener errors are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
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

// Package server provides the WebSocket gateway: it upgrades client
// connections, registers them with the stream manager, and services the
// client control protocol (stream tasks, acquisition runs, recording,
// delivery settings).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/X9X0/LabLink-sub003/errors"
	"github.com/X9X0/LabLink-sub003/metric"
	"github.com/X9X0/LabLink-sub003/stream"
)

// Config holds the gateway's listen and timeout settings
type Config struct {
	Host         string
	Port         int
	Path         string
	WriteTimeout time.Duration
}

// DefaultConfig returns production defaults for the gateway
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         8080,
		Path:         "/ws",
		WriteTimeout: 10 * time.Second,
	}
}

// Server is the WebSocket gateway. One read loop runs per client; outbound
// delivery is owned by the stream manager's send loops.
type Server struct {
	cfg     Config
	manager *stream.Manager
	source  SampleSource
	logger  *slog.Logger
	metrics *metric.Metrics

	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader

	sessionsMu sync.Mutex
	sessions   map[string]*clientSession

	// Lifecycle management
	running     atomic.Bool
	lifecycleMu sync.Mutex
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// NewServer creates a gateway bound to the given stream manager. A nil
// source falls back to simulated instrument data.
func NewServer(cfg Config, manager *stream.Manager, source SampleSource, logger *slog.Logger, registry *metric.MetricsRegistry) (*Server, error) {
	if manager == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "NewServer", "nil stream manager")
	}
	if cfg.Path == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "NewServer", "empty WebSocket path")
	}
	if source == nil {
		source = NewSimulatedSource()
	}
	if logger == nil {
		logger = slog.Default()
	}

	var metrics *metric.Metrics
	if registry != nil {
		metrics = registry.CoreMetrics()
	}

	return &Server{
		cfg:     cfg,
		manager: manager,
		source:  source,
		logger:  logger.With("component", "ws-gateway"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Lab deployments front this with their own origin policy
				return true
			},
		},
		sessions: make(map[string]*clientSession),
	}, nil
}

// Start binds the listener and begins serving. Returns once the listener is
// bound; serving continues on a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start gateway")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Server", "Start", "context already cancelled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealthz)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", "bind "+addr)
	}

	s.listener = listener
	s.httpServer = &http.Server{Handler: mux}
	s.shutdown = make(chan struct{})
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway serve failed", "error", err)
		}
	}()

	s.logger.Info("gateway started", "addr", listener.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the bound listen address, usable once Start has returned
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains the gateway: stops accepting, cancels every client's tasks,
// and waits up to timeout for read loops to exit. The stream manager is
// shut down by the caller, not here.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	close(s.shutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("gateway shutdown error", "error", err)
	}

	s.sessionsMu.Lock()
	sessions := make([]*clientSession, 0, len(s.sessions))
	for _, cs := range s.sessions {
		sessions = append(sessions, cs)
	}
	s.sessionsMu.Unlock()

	for _, cs := range sessions {
		cs.stopAll()
		s.manager.Disconnect(cs.connID)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("gateway goroutines did not exit within timeout")
	}

	s.logger.Info("gateway stopped")
	return nil
}

// handleWebSocket upgrades one client and runs its read loop
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.running.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordError("ws-gateway", "upgrade")
		}
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	transport := newWSTransport(wsConn, s.cfg.WriteTimeout)
	metadata := map[string]any{
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.UserAgent(),
	}

	conn, err := s.manager.Connect(transport, "", metadata)
	if err != nil {
		s.logger.Warn("connection rejected", "remote", r.RemoteAddr, "error", err)
		_ = transport.Close()
		return
	}

	cs := newClientSession(conn.ID())
	s.sessionsMu.Lock()
	s.sessions[cs.connID] = cs
	s.sessionsMu.Unlock()

	s.wg.Add(1)
	go s.readLoop(wsConn, cs)
}

// readLoop consumes control messages from one client until the connection
// drops or the gateway stops.
func (s *Server) readLoop(wsConn *websocket.Conn, cs *clientSession) {
	defer s.wg.Done()
	defer func() {
		cs.stopAll()
		s.manager.Disconnect(cs.connID)

		s.sessionsMu.Lock()
		delete(s.sessions, cs.connID)
		s.sessionsMu.Unlock()
	}()

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		s.handleControl(cs, data)
	}
}

// handleHealthz reports liveness and connection count
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.running.Load() {
		status = "stopping"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":             status,
		"active_connections": len(s.manager.AllConnections()),
	})
}

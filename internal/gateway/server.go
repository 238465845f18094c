// Package gateway exposes the runtime's external HTTP surface: task
// submission, task status, inbound webhooks, and a control-plane
// websocket, alongside health and Prometheus metrics endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/internal/checkpoint"
	"github.com/nexus-run/nexus-core/internal/scheduler"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// Submitter is the RunLoop's single entry point, narrowed so the
// gateway depends on a capability rather than a concrete type.
type Submitter interface {
	Submit(ctx context.Context, inbound corekit.InboundMessage) error
}

// Config configures the HTTP server's listen address and auth.
type Config struct {
	Host string
	Port int
	// AuthSecret, when non-empty, requires a valid HMAC-signed bearer
	// JWT on every task/webhook/control-plane request. Empty disables
	// auth entirely.
	AuthSecret string
}

// Server is the gateway's HTTP API surface.
type Server struct {
	config      Config
	logger      *slog.Logger
	submitter   Submitter
	tasks       scheduler.Store
	checkpoints checkpoint.Store
	registry    *channels.Registry

	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time
}

// New builds a Server. checkpoints and registry may be nil; endpoints
// that need them report unavailable rather than panicking.
func New(config Config, submitter Submitter, tasks scheduler.Store, checkpoints checkpoint.Store, registry *channels.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:      config,
		logger:      logger,
		submitter:   submitter,
		tasks:       tasks,
		checkpoints: checkpoints,
		registry:    registry,
	}
}

// Start builds the route table, binds a listener, and serves in the
// background until Stop is called or the process exits.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/tasks", authMiddleware(s.config.AuthSecret, http.HandlerFunc(s.handleTasks)))
	mux.Handle("/tasks/", authMiddleware(s.config.AuthSecret, http.HandlerFunc(s.handleTaskByID)))
	mux.Handle("/webhook/", authMiddleware(s.config.AuthSecret, http.HandlerFunc(s.handleWebhook)))
	mux.Handle("/ws", authMiddleware(s.config.AuthSecret, s.newControlPlane()))

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", addr)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if s.checkpoints != nil {
		if _, err := s.checkpoints.List(r.Context(), "__health__"); err != nil {
			status["checkpoint_store"] = "degraded"
		} else {
			status["checkpoint_store"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, status)
}

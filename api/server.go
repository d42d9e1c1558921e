package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/jcmrest/jcmrest/core"
	"github.com/jcmrest/jcmrest/platform"
	"github.com/jcmrest/jcmrest/telemetry"
)

// Server is the HTTP front of a platform.
type Server struct {
	config  *core.Config
	handler http.Handler
	logger  core.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer builds the route table and middleware chain for p.
func NewServer(p *platform.Platform, logger core.Logger) *Server {
	cfg := p.Config()
	logger = core.WithComponent(logger, "framework/api")

	mux := http.NewServeMux()
	NewHandler(p, logger).RegisterRoutes(mux)

	handler := core.Chain(mux,
		telemetry.TracingMiddlewareWithConfig(cfg.Name, &telemetry.TracingMiddlewareConfig{
			ExcludedPaths: []string{"/health"},
		}),
		core.RecoveryMiddleware(logger),
		core.RequestIDMiddleware(),
		core.LoggingMiddleware(logger, cfg.Development.Enabled),
		core.CORSMiddleware(&cfg.HTTP.CORS),
	)

	return &Server{config: cfg, handler: handler, logger: logger}
}

// Handler returns the full handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.ListenAddress())
	if err != nil {
		return core.NewFrameworkError("api.ListenAndServe", "http", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a graceful stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return core.NewFrameworkError("api.Serve", "http", core.ErrAlreadyStarted)
	}
	s.server = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.config.HTTP.ReadTimeout,
		WriteTimeout:   s.config.HTTP.WriteTimeout,
		IdleTimeout:    s.config.HTTP.IdleTimeout,
		MaxHeaderBytes: s.config.HTTP.MaxHeaderBytes,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", map[string]interface{}{
		"address": ln.Addr().String(),
	})

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones, bounded
// by the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if s.config.HTTP.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.HTTP.ShutdownTimeout)
		defer cancel()
	}
	return srv.Shutdown(ctx)
}

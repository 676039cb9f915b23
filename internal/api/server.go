package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/config"
)

// Server wraps the HTTP server with graceful lifecycle management.
type Server struct {
	server       *http.Server
	addr         string
	shutdownOnce sync.Once
}

// NewServer creates the API HTTP server over the given dependencies. The
// server is created in a stopped state; call Start to begin serving.
//
// The JWT secret is required here: without one the bearer middleware would
// verify tokens against an empty key, so a missing secret is fatal before
// the listener ever opens.
//
// Read and idle timeouts are deliberately generous because uploads and
// downloads stream multi-gigabyte bodies.
func NewServer(cfg config.APIConfig, deps Deps) (*Server, error) {
	if deps.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}
	addr := cfg.Addr()
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		addr: addr,
	}, nil
}

// Start starts the server and blocks until the context is cancelled or the
// listener fails. Cancellation triggers graceful shutdown bounded by
// shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", "error", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

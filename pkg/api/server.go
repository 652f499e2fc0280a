// Package api serves the daemon's HTTP/JSON control surface: session
// control, searches, transfers, upload queue state, VPN status, and the
// websocket event stream.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/peerdaemon/peerd/internal/logger"
)

// Server is the API HTTP server. It is created stopped; call Start to serve.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates the API server.
//
// Defaults are applied here so a directly constructed server works in tests
// without going through config loading.
func NewServer(config Config, deps Dependencies) *Server {
	config.applyDefaults()

	server := &http.Server{
		Addr:        net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:     NewRouter(config, deps),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return &Server{
		server: server,
		config: config,
	}
}

// Start serves requests and blocks until the context is cancelled or the
// listener fails. Cancellation triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", logger.KeyAddress, s.server.Addr)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// The cancelled ctx would abort the shutdown immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop gracefully shuts the server down. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.Err(err))
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.config.Port
}

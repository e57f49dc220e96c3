// Package api provides the HTTP server that exposes the RapidPro connector to
// reporting hosts and manages saved data sources.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/RunPipe/internal/connector"
	"github.com/BTreeMap/RunPipe/internal/rapidpro"
	"github.com/BTreeMap/RunPipe/internal/store"
)

// Default server configuration
const (
	// DefaultServerAddr is the listen address used when none is configured.
	DefaultServerAddr = ":8080"
	// DefaultShutdownTimeout bounds how long in-flight requests may take to finish.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout guards against slow clients.
	DefaultReadHeaderTimeout = 10 * time.Second
	// MaxRequestBodyBytes caps JSON request bodies.
	MaxRequestBodyBytes = 1 << 20
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

// Server holds the connector and the source store used by the handlers.
type Server struct {
	conn            connector.Connector
	st              store.Store
	addr            string
	shutdownTimeout time.Duration
	now             func() time.Time
}

// NewServer creates a server around an existing connector and store.
func NewServer(conn connector.Connector, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultServerAddr, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		conn:            conn,
		st:              st,
		addr:            cfg.Addr,
		shutdownTimeout: cfg.ShutdownTimeout,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth-type", s.authTypeHandler)
	mux.HandleFunc("/config", s.configHandler)
	mux.HandleFunc("/schema", s.schemaHandler)
	mux.HandleFunc("/data", s.dataHandler)
	mux.HandleFunc("/sources", s.sourcesHandler)
	mux.HandleFunc("/sources/", s.sourcesHandler)
	mux.HandleFunc("/pulls", s.pullsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Start: listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server.Start: listener failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Server.Start: shutting down", "timeout", s.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Start: graceful shutdown failed", "error", err)
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("Server.Start: stopped")
	return nil
}

// Run builds the RapidPro client, the store and the server from their options
// and serves until ctx is canceled. The store is closed on return.
func Run(ctx context.Context, clientOpts []rapidpro.Option, storeOpts []store.Option, apiOpts []Option) error {
	st, err := store.Open(storeOpts...)
	if err != nil {
		slog.Error("api.Run: failed to open store", "error", err)
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	conn := connector.NewRapidPro(rapidpro.NewClient(clientOpts...))
	return NewServer(conn, st, apiOpts...).Start(ctx)
}

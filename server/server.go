// Package server assembles the store, router and middleware into a
// running HTTP server.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stevemurr/json-db-serve/handler"
	"github.com/stevemurr/json-db-serve/store"
)

// Config holds everything needed to start a server.
type Config struct {
	DBPath      string
	Host        string
	Port        int
	Backend     string
	CORSOrigins []string
	BodyLimit   int64

	// MetricsAddr serves Prometheus metrics on a separate listener when
	// non-empty.
	MetricsAddr string

	ShutdownTimeout time.Duration
}

// Server is one store behind one HTTP listener.
type Server struct {
	cfg     Config
	logger  *zap.Logger
	store   store.Store
	handler http.Handler
}

// New opens the store and builds the handler chain. The store is not read
// until the first request.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	s, err := store.New(cfg.Backend, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, logger, store.WithMetrics(s, cfg.Backend)), nil
}

// NewWithStore is New with a caller-provided store.
func NewWithStore(cfg Config, logger *zap.Logger, s store.Store) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	h := handler.New(s, handler.Options{
		Logger:    logger,
		BodyLimit: cfg.BodyLimit,
	})
	var chain http.Handler = h
	chain = handler.Logging(chain, logger)
	chain = handler.Metrics(chain)
	chain = handler.CORS(chain, cfg.CORSOrigins)

	return &Server{cfg: cfg, logger: logger, store: s, handler: chain}
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr is the configured host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", s.Addr())
	}
	return ln, nil
}

// Run binds the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves requests on ln until ctx is cancelled, then shuts down
// gracefully and closes the store.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	var metricsSrv *http.Server
	if s.cfg.MetricsAddr != "" {
		mln, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			ln.Close()
			return errors.Wrapf(err, "listen on %s", s.cfg.MetricsAddr)
		}
		metricsSrv = &http.Server{
			Handler:           MetricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.Serve(mln); err != nil && err != http.ErrServerClosed {
				s.logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		s.logger.Info("metrics listening", zap.String("addr", mln.Addr().String()))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info(fmt.Sprintf("json-db-serve running on http://%s", ln.Addr()))
	s.logger.Info(fmt.Sprintf("DB: %s", s.cfg.DBPath), zap.String("backend", backendName(s.cfg.Backend)))

	var serveErr error
	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			serveErr = err
		}
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = errors.Wrap(err, "shutdown")
		}
	}

	if metricsSrv != nil {
		metricsSrv.Close()
	}
	if err := s.store.Close(); err != nil && serveErr == nil {
		serveErr = errors.Wrap(err, "close store")
	}
	return serveErr
}

// MetricsHandler exposes the process metrics in Prometheus text format.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		metrics.WritePrometheus(w, true)
	})
	return mux
}

func backendName(b string) string {
	if b == "" {
		return "json"
	}
	return b
}

// Package server exposes a limiter over HTTP: a rate-limited demo endpoint,
// an admin API for entities, health and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/codetesla51/entitylimit/limiter"
	"github.com/codetesla51/entitylimit/middleware"
)

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	// Options applied to the rate-limited routes.
	RateLimit []middleware.Option
}

type Server struct {
	cfg      Config
	limiter  *limiter.Limiter
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	router   chi.Router
}

func New(cfg Config, l *limiter.Limiter, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		limiter:  l,
		gatherer: gatherer,
		logger:   logger,
		router:   chi.NewRouter(),
	}
	s.router.Use(chimw.Recoverer)
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/entities", func(r chi.Router) {
		r.Get("/", s.handleListEntities)
		r.Post("/", s.handleRegisterEntity)
		r.Get("/{id}", s.handleGetEntity)
		r.Delete("/{id}", s.handleRemoveEntity)
		r.Post("/{id}/check", s.handleCheckEntity)
	})

	opts := append([]middleware.Option{middleware.WithLogger(s.logger)}, s.cfg.RateLimit...)
	s.router.With(middleware.RateLimit(s.limiter, opts...)).Get("/", s.handleHello)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// Package server exposes window storage state, the running pipeline,
// health and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/pipeline"
	"github.com/tarungka/wirestream/internal/storage"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	Port string `koanf:"port"`
}

type Server struct {
	port   string
	store  storage.Storage
	task   *pipeline.Task
	logger zerolog.Logger
	router chi.Router
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTask exposes the stages of task under /pipeline.
func WithTask(task *pipeline.Task) Option {
	return func(s *Server) { s.task = task }
}

// New builds the router. store may be nil, the storage routes then answer
// 404.
func New(c *Config, store storage.Storage, opts ...Option) *Server {
	s := &Server{
		port:   c.Port,
		store:  store,
		logger: logger.Component(logger.GetLogger("wirestream"), "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.port == "" {
		s.port = "8080"
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(s.logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/health"))
	router.Use(middleware.CleanPath)

	router.Handle("/metrics", promhttp.Handler())
	if s.store != nil {
		router.Mount("/storage", StorageRouter(s.store))
	}
	if s.task != nil {
		router.Mount("/pipeline", PipelineRouter(s.task))
	}
	s.router = router
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Msgf("Running the web server on port: %s", s.port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve on %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown web server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("Web server stopped")
	return nil
}

// requestLogger logs each request through zerolog once it completed.
func requestLogger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				l.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("request_id", middleware.GetReqID(r.Context())).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("elapsed", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

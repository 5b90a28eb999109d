package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/newsflux/pkg/cache"
	"github.com/umputun/newsflux/pkg/domain"
	"github.com/umputun/newsflux/pkg/queue"
)

//go:generate moq -out mocks/config.go -pkg mocks -skip-ensure -fmt goimports . ConfigProvider
//go:generate moq -out mocks/jobs.go -pkg mocks -skip-ensure -fmt goimports . JobQueue
//go:generate moq -out mocks/cache.go -pkg mocks -skip-ensure -fmt goimports . CacheControl
//go:generate moq -out mocks/articles.go -pkg mocks -skip-ensure -fmt goimports . ArticleStore

// Server represents HTTP server instance
type Server struct {
	config   ConfigProvider
	jobs     JobQueue
	cache    CacheControl
	articles ArticleStore
	version  string
	debug    bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// JobQueue is the queue surface exposed over the API
type JobQueue interface {
	Enqueue(ctx context.Context, units []domain.WorkUnit, opts ...queue.Options) (domain.JobRecord, error)
	GetStatus(jobID string) (domain.JobRecord, error)
	Cancel(jobID string) error
	Stats(ctx context.Context) queue.Stats
}

// CacheControl is the cache surface exposed over the API
type CacheControl interface {
	Stats() cache.Stats
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	BreakerState() cache.BreakerState
	ResetBreaker()
}

// ArticleStore provides read-only article info for the status endpoint
type ArticleStore interface {
	CountByCategory(ctx context.Context) (map[string]int, error)
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
	DefaultSources() []domain.Source
}

// New initializes a new server instance
func New(cfg ConfigProvider, jobs JobQueue, cacheCtl CacheControl, articles ArticleStore, version string, debug bool) *Server {
	s := &Server{
		config:   cfg,
		jobs:     jobs,
		cache:    cacheCtl,
		articles: articles,
		version:  version,
		debug:    debug,
		router:   routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	lgr.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		lgr.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("newsflux", "umputun", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("POST /batch", s.enqueueBatchHandler)
		r.HandleFunc("GET /jobs/{id}", s.jobStatusHandler)
		r.HandleFunc("DELETE /jobs/{id}", s.cancelJobHandler)
		r.HandleFunc("GET /queue/stats", s.queueStatsHandler)
		r.HandleFunc("GET /cache/stats", s.cacheStatsHandler)
		r.HandleFunc("DELETE /cache", s.invalidateCacheHandler)
		r.HandleFunc("GET /cache/breaker", s.breakerStateHandler)
		r.HandleFunc("DELETE /cache/breaker", s.resetBreakerHandler)
	})

	s.router.HandleFunc("GET /status", s.statusHandler)
}

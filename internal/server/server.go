// Package server exposes the agent's HTTP surface: health, collected
// stats, metrics with LOS scores, and task inspection/control.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/liquidity-sentinel/internal/chain"
	"github.com/aristath/liquidity-sentinel/internal/collector"
	"github.com/aristath/liquidity-sentinel/internal/tasks"
)

// Config holds server configuration.
type Config struct {
	Log       zerolog.Logger
	Port      int
	DataDir   string
	Collector *collector.Collector
	Tasks     *tasks.Store
	Runner    *tasks.Runner
	Chains    []*chain.Spec
}

// Server is the agent's HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	dataDir   string
	collector *collector.Collector
	tasks     *tasks.Store
	runner    *tasks.Runner
	chains    []*chain.Spec
	taskHub   *TaskHub
	started   time.Time
}

// New creates the HTTP server and its routes.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		dataDir:   cfg.DataDir,
		collector: cfg.Collector,
		tasks:     cfg.Tasks,
		runner:    cfg.Runner,
		chains:    cfg.Chains,
		taskHub:   NewTaskHub(cfg.Log),
		started:   time.Now().UTC(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// TaskHub returns the websocket hub for task transitions.
func (s *Server) TaskHub() *TaskHub {
	return s.taskHub
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/rates", s.handleRates)
	s.router.Get("/pool-prices", s.handlePoolPrices)
	s.router.Get("/metrics", s.handleMetrics)
	s.router.Get("/system", s.handleSystem)

	s.router.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleTasks)
		r.Get("/active", s.handleActiveTasks)
		r.Get("/{id}", s.handleTask)
		r.Post("/{name}/start", s.handleForceStart)
	})

	s.router.Get("/ws/tasks", s.taskHub.Handle)
}

// Start blocks serving HTTP until shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	s.taskHub.Close()
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

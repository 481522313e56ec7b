package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pingup-app/eventd/internal/api/handler"
	mw "github.com/pingup-app/eventd/internal/api/middleware"
	"github.com/pingup-app/eventd/internal/live"
	"github.com/pingup-app/eventd/internal/task"
)

type Server struct {
	router     chi.Router
	logger     zerolog.Logger
	pool       *pgxpool.Pool
	dispatcher handler.Dispatcher
	publisher  handler.Publisher
	registry   *live.Registry
	store      task.Store
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, dispatcher handler.Dispatcher, publisher handler.Publisher, registry *live.Registry, store task.Store) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger,
		pool:       pool,
		dispatcher: dispatcher,
		publisher:  publisher,
		registry:   registry,
		store:      store,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		events := handler.NewEvents(s.dispatcher, s.publisher)
		r.Post("/events", events.Publish)

		liveHandler := handler.NewLive(s.registry)
		r.Get("/ws/{userID}", liveHandler.Connect)

		tasks := handler.NewTasks(s.store)
		r.Get("/tasks", tasks.List)
		r.Get("/tasks/{id}", tasks.Get)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

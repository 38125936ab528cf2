// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/okian/starkpi/internal/adapters/mq/queue"
	"github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/internal/domain/types"
	"github.com/okian/starkpi/internal/report"
	"github.com/okian/starkpi/pkg/logger"
)

const requestTimeout = 60 * time.Second

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	StatsProvider
	Pinger

	// Submit queues a run. coalesced is true when an identical request was
	// already waiting.
	Submit(ctx context.Context, trigger string) (r queue.Request, coalesced bool, err error)

	Runs(ctx context.Context, limit int) ([]model.RunSummary, error)
	LatestRun(ctx context.Context) (model.RunSummary, error)
	RunByID(ctx context.Context, runID string) (model.RunSummary, error)

	KPIs(ctx context.Context, f model.KPIFilter) ([]model.KPIView, error)

	Report(ctx context.Context, from, to string) (report.Summary, error)
	ReportLastDays(ctx context.Context, n int) (report.Summary, error)
}

// Server wires HTTP routes for the read API and run triggers.
type Server struct {
	router *chi.Mux
	logger logger.Logger

	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	runsHandler    *RunsHandler
	kpisHandler    *KPIsHandler
	reportsHandler *ReportsHandler
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger.Nop(),
		healthHandler:  NewHealthHandler(deps),
		statsHandler:   NewStatsHandler(deps),
		runsHandler:    NewRunsHandler(deps),
		kpisHandler:    NewKPIsHandler(deps),
		reportsHandler: NewReportsHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(requestTimeout))
	s.router.Use(MetricsMiddleware)

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/metrics", s.healthHandler.HandleMetrics)
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.runsHandler.HandleList)
		r.Post("/", s.runsHandler.HandleSubmit)
		// Must precede {runID}.
		r.Get("/latest", s.runsHandler.HandleLatest)
		r.Get("/{runID}", s.runsHandler.HandleGet)
	})

	r.Get("/kpis", s.kpisHandler.HandleList)
	r.Get("/reports/summary", s.reportsHandler.HandleSummary)
}

// Router exposes the router so callers can mount extra routes.
func (s *Server) Router() chi.Router { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

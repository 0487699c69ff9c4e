// Package api exposes sync triggers and dashboards over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cloudydaiyz/stringplay-core/internal/engine"
	"github.com/cloudydaiyz/stringplay-core/internal/logging"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
)

// Syncer is the engine surface the API drives.
type Syncer interface {
	Sync(ctx context.Context, troupeID string) (*engine.Report, error)
	Dashboard(ctx context.Context, troupeID string) (*model.Dashboard, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	syncer Syncer
	health Pinger
	log    zerolog.Logger
}

// NewServer creates an API server.
func NewServer(syncer Syncer, health Pinger) *Server {
	return &Server{
		syncer: syncer,
		health: health,
		log:    logging.Component("api"),
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/troupes/{troupeID}", func(r chi.Router) {
		r.Post("/sync", s.handleSync)
		r.Get("/dashboard", s.handleDashboard)
	})
	return r
}

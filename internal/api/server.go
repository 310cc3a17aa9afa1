// Package api is the HTTP surface of the restore service. It translates
// requests into orchestrator and store calls and structured errors into
// status codes; no restore logic lives here.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"dbvault/internal/adapter"
	"dbvault/internal/config"
	"dbvault/internal/execution"
	"dbvault/internal/logger"
	"dbvault/internal/metrics"
	"dbvault/internal/restore"
	"dbvault/internal/secrets"
)

// RestoreStarter accepts restore submissions. The orchestrator satisfies
// it; tests swap in a fake.
type RestoreStarter interface {
	Start(ctx context.Context, req restore.Request) (*execution.Execution, error)
}

// Deps wires the server's collaborators
type Deps struct {
	Restores   RestoreStarter
	Executions *execution.Store
	Store      *config.Store
	Registry   *adapter.Registry
	Keeper     *secrets.Keeper
	Metrics    *metrics.Metrics
	Log        logger.Logger
}

// Server is the HTTP API
type Server struct {
	restores RestoreStarter
	execs    *execution.Store
	store    *config.Store
	reg      *adapter.Registry
	keeper   *secrets.Keeper
	metrics  *metrics.Metrics
	log      logger.Logger
	validate *validator.Validate
}

// NewServer builds the API server
func NewServer(d Deps) *Server {
	return &Server{
		restores: d.Restores,
		execs:    d.Executions,
		store:    d.Store,
		reg:      d.Registry,
		keeper:   d.Keeper,
		metrics:  d.Metrics,
		log:      d.Log,
		validate: validator.New(),
	}
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/restores", s.handleStartRestore)
		r.Get("/executions", s.handleListExecutions)
		r.Get("/executions/{id}", s.handleGetExecution)
		r.Get("/adapters", s.handleListAdapters)
		r.Post("/adapters/{id}/test", s.handleTestAdapter)
	})

	return r
}

// logRequests writes one structured line per request through the
// service logger instead of chi's stdlib logger.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Millisecond).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

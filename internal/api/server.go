// Package api exposes the analysis pipeline, the Gmail mail source and run
// history over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/sub-zapper/internal/mailsource"
	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 32 << 20

// Analyzer runs and records an analysis. *runner.Runner satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, source string, emails []model.EmailRecord) (*model.Run, error)
}

// Deps are the collaborators the server routes to. Source, Runs and Gatherer
// may be nil; the matching routes then answer 503 (or are omitted for
// /metrics).
type Deps struct {
	Analyzer Analyzer
	Source   mailsource.Source
	Runs     store.Store
	Gatherer prometheus.Gatherer
	Now      func() time.Time
}

// Server holds HTTP handlers.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Server{deps: deps}
}

// Router builds the chi router with CORS, request ids and panic recovery.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"authorization", "x-client-info", "apikey", "content-type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze-emails", s.handleAnalyze)
		r.Post("/fetch-gmail", s.handleFetchGmail)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/renewals", s.handleRenewals)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

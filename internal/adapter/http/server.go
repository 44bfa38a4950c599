package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

// Detector runs one detector over every site of a variable.
type Detector interface {
	Detect(ctx context.Context, d domain.Detector, variable string, r domain.DateRange) (domain.Run, error)
}

// SiteInspector exposes the per-site drill-down views.
type SiteInspector interface {
	ClusterSite(ctx context.Context, site domain.SiteID, variable string, r domain.DateRange) ([]domain.ClusterPoint, error)
	ScoreSite(ctx context.Context, d domain.Detector, site domain.SiteID, variable string, r domain.DateRange) (domain.Verdict, []domain.PointScore, error)
}

// RunLookup returns the most recent recorded run of a detector and variable.
type RunLookup interface {
	LatestRun(ctx context.Context, d domain.Detector, variable string) (domain.Run, error)
}

// Deps groups the collaborators the API routes call into.
type Deps struct {
	Ready    sharedobs.ReadinessChecker
	Detector Detector
	Sites    SiteInspector
	Runs     RunLookup
}

// Server exposes the outlier API alongside health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the health routes and the /v1 API.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.logRequests)
		r.Get("/outliers", s.handleOutliers)
		r.Get("/runs/latest", s.handleLatestRun)
		r.Get("/sites/{siteID}/clusters", s.handleClusters)
		r.Get("/sites/{siteID}/scores", s.handleScores)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

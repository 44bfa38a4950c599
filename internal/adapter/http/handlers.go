package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

var errMissingVariable = errors.New("variable is required")

type runResponse struct {
	RunID      string           `json:"run_id"`
	Detector   domain.Detector  `json:"detector"`
	Variable   string           `json:"variable"`
	StartDate  string           `json:"start_date,omitempty"`
	EndDate    string           `json:"end_date,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	DurationMS int64            `json:"duration_ms"`
	Flagged    int              `json:"flagged"`
	Verdicts   []domain.Verdict `json:"verdicts"`
}

func newRunResponse(run domain.Run) runResponse {
	resp := runResponse{
		RunID:      run.ID.String(),
		Detector:   run.Detector,
		Variable:   run.Variable,
		StartedAt:  run.StartedAt,
		DurationMS: run.Duration().Milliseconds(),
		Flagged:    run.Flagged(),
		Verdicts:   run.Verdicts,
	}
	if !run.Range.Start.IsZero() {
		resp.StartDate = run.Range.Start.Format(domain.DateLayout)
	}
	if !run.Range.End.IsZero() {
		resp.EndDate = run.Range.End.Format(domain.DateLayout)
	}
	if resp.Verdicts == nil {
		resp.Verdicts = []domain.Verdict{}
	}
	return resp
}

type scoresResponse struct {
	Verdict domain.Verdict      `json:"verdict"`
	Points  []domain.PointScore `json:"points"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleOutliers(w http.ResponseWriter, r *http.Request) {
	d, variable, rng, err := detectorQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	run, err := s.deps.Detector.Detect(r.Context(), d, variable, rng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("sort") == "site" {
		verdicts := append([]domain.Verdict(nil), run.Verdicts...)
		domain.SortVerdicts(verdicts)
		run.Verdicts = verdicts
	}
	render.JSON(w, r, newRunResponse(run))
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d, err := domain.ParseDetector(q.Get("detector"))
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	variable := q.Get("variable")
	if variable == "" {
		s.writeError(w, r, badRequest(errMissingVariable))
		return
	}

	run, err := s.deps.Runs.LatestRun(r.Context(), d, variable)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, newRunResponse(run))
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	site := domain.SiteID(chi.URLParam(r, "siteID"))
	q := r.URL.Query()
	variable := q.Get("variable")
	if variable == "" {
		s.writeError(w, r, badRequest(errMissingVariable))
		return
	}
	rng, err := domain.NewDateRange(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	points, err := s.deps.Sites.ClusterSite(r.Context(), site, variable, rng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if points == nil {
		points = []domain.ClusterPoint{}
	}
	render.JSON(w, r, points)
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	site := domain.SiteID(chi.URLParam(r, "siteID"))
	d, variable, rng, err := detectorQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if d == domain.DetectorDBSCAN {
		s.writeError(w, r, badRequest(fmt.Errorf("detector %q has no per-row scores", d)))
		return
	}

	v, points, err := s.deps.Sites.ScoreSite(r.Context(), d, site, variable, rng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if points == nil {
		points = []domain.PointScore{}
	}
	render.JSON(w, r, scoresResponse{Verdict: v, Points: points})
}

func detectorQuery(r *http.Request) (domain.Detector, string, domain.DateRange, error) {
	q := r.URL.Query()
	d, err := domain.ParseDetector(q.Get("detector"))
	if err != nil {
		return "", "", domain.DateRange{}, badRequest(err)
	}
	variable := q.Get("variable")
	if variable == "" {
		return "", "", domain.DateRange{}, badRequest(errMissingVariable)
	}
	rng, err := domain.NewDateRange(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		return "", "", domain.DateRange{}, err
	}
	return d, variable, rng, nil
}

type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return requestError{err: err} }

func statusFor(err error) int {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr), errors.Is(err, domain.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSiteNotFound), errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("api request failed", "path", r.URL.Path, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

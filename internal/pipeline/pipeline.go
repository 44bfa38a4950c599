package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/allison-weber/EPAnomoly/internal/detect"
	"github.com/allison-weber/EPAnomoly/internal/domain"
	"github.com/allison-weber/EPAnomoly/internal/observability"
)

// Store reads and writes the partitioned per-site series.
type Store interface {
	Variables(ctx context.Context, freq domain.Frequency) ([]string, error)
	Sites(ctx context.Context, freq domain.Frequency, variable string) ([]domain.SiteID, error)
	LoadDaily(ctx context.Context, site domain.SiteID, variable string) (domain.DailySeries, error)
	LoadHourly(ctx context.Context, site domain.SiteID, variable string) (domain.HourlySeries, error)
	LoadCombined(ctx context.Context, variable string) ([]domain.SiteObservation, error)
	// UpdateDaily rewrites one stored daily series with the result of update.
	// The stored copy is read and written under one lock.
	UpdateDaily(ctx context.Context, site domain.SiteID, variable string, update func(domain.DailySeries) (domain.DailySeries, bool)) error
}

// VerdictSink receives every completed detection run.
type VerdictSink interface {
	Name() string
	PublishRun(ctx context.Context, run domain.Run) error
}

// Detector produces a verdict table for one detector and variable.
type Detector interface {
	Detect(ctx context.Context, d domain.Detector, variable string, r domain.DateRange) (domain.Run, error)
}

// Engine runs the detectors over every site of a variable.
type Engine struct {
	store   Store
	pool    *Pool
	params  domain.Params
	sinks   []VerdictSink
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	latest map[runKey]domain.Run
}

type runKey struct {
	detector domain.Detector
	variable string
}

// New creates an Engine. Sinks are optional.
func New(store Store, pool *Pool, params domain.Params, logger *slog.Logger, metrics *observability.Metrics, sinks ...VerdictSink) *Engine {
	metrics.PoolWorkers.Set(float64(pool.Workers()))
	return &Engine{
		store:   store,
		pool:    pool,
		params:  params,
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		latest:  make(map[runKey]domain.Run),
	}
}

// Params returns the detector parameters the engine was built with.
func (e *Engine) Params() domain.Params { return e.params }

// CheckReadiness returns nil once the store lists at least one daily variable.
func (e *Engine) CheckReadiness(ctx context.Context) error {
	vars, err := e.store.Variables(ctx, domain.Daily)
	if err != nil {
		return fmt.Errorf("list variables: %w", err)
	}
	if len(vars) == 0 {
		return errors.New("store has no daily variables yet")
	}
	return nil
}

// Detect runs one detector across every site of variable and delivers the
// finished run to the configured sinks. Only an invalid range or a store
// failure is returned; per-site problems become "Insufficient data" verdicts.
func (e *Engine) Detect(ctx context.Context, d domain.Detector, variable string, r domain.DateRange) (domain.Run, error) {
	if err := r.Validate(); err != nil {
		return domain.Run{}, err
	}

	run := domain.NewRun(d, variable, r)
	var (
		verdicts []domain.Verdict
		err      error
	)
	switch d {
	case domain.DetectorDailySpline:
		verdicts, err = e.DetectDailySpline(ctx, variable, r)
	case domain.DetectorHourlySpline:
		verdicts, err = e.DetectHourlySpline(ctx, variable, r)
	case domain.DetectorDBSCAN:
		verdicts, err = e.DetectDensity(ctx, variable, r)
	default:
		return domain.Run{}, fmt.Errorf("unknown detector %q", d)
	}
	if err != nil {
		return domain.Run{}, err
	}
	run = run.Finish(verdicts)

	e.metrics.RunDuration.WithLabelValues(string(d)).Observe(run.Duration().Seconds())
	e.logger.Info("detection run finished",
		"run_id", run.ID,
		"detector", d,
		"variable", variable,
		"range", r.String(),
		"sites", len(verdicts),
		"flagged", run.Flagged(),
		"duration", run.Duration(),
	)

	e.mu.Lock()
	e.latest[runKey{d, variable}] = run
	e.mu.Unlock()

	e.publish(ctx, run)
	return run, nil
}

// LatestRun returns the most recent run this engine completed for the
// detector and variable.
func (e *Engine) LatestRun(_ context.Context, d domain.Detector, variable string) (domain.Run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	run, ok := e.latest[runKey{d, variable}]
	if !ok {
		return domain.Run{}, fmt.Errorf("%w: %s %s", domain.ErrRunNotFound, d, variable)
	}
	return run, nil
}

// DetectDailySpline scores every site with the daily spline detector.
func (e *Engine) DetectDailySpline(ctx context.Context, variable string, r domain.DateRange) ([]domain.Verdict, error) {
	return e.detectSites(ctx, domain.DetectorDailySpline, variable, func(ctx context.Context, site domain.SiteID) domain.Verdict {
		s, err := e.dailyWithResiduals(ctx, site, variable)
		if err != nil {
			e.logger.Warn("load daily series failed", "site_id", site, "variable", variable, "error", err)
			return domain.Insufficient(site, domain.DetectorDailySpline)
		}
		v, _ := detect.DailySpline(r.FilterDaily(s), e.params)
		return v
	})
}

// DetectHourlySpline scores every site with the hourly spline detector.
func (e *Engine) DetectHourlySpline(ctx context.Context, variable string, r domain.DateRange) ([]domain.Verdict, error) {
	return e.detectSites(ctx, domain.DetectorHourlySpline, variable, func(ctx context.Context, site domain.SiteID) domain.Verdict {
		s, err := e.dailyWithHourlyMSE(ctx, site, variable)
		if err != nil {
			e.logger.Warn("load hourly series failed", "site_id", site, "variable", variable, "error", err)
			return domain.Insufficient(site, domain.DetectorHourlySpline)
		}
		v, _ := detect.HourlySpline(r.FilterDaily(s), e.params)
		return v
	})
}

// DetectDensity clusters every site of the combined per-variable dataset.
func (e *Engine) DetectDensity(ctx context.Context, variable string, r domain.DateRange) ([]domain.Verdict, error) {
	rows, err := e.store.LoadCombined(ctx, variable)
	if err != nil {
		return nil, fmt.Errorf("load combined %s: %w", variable, err)
	}
	groups := domain.PartitionBySite(r.FilterSite(rows))
	bySite := make(map[domain.SiteID][]float64, len(groups))
	sites := make([]domain.SiteID, len(groups))
	for i, g := range groups {
		bySite[g.Site] = g.Values()
		sites[i] = g.Site
	}

	return e.dispatch(ctx, domain.DetectorDBSCAN, sites, func(_ context.Context, site domain.SiteID) domain.Verdict {
		return detect.Density(site, bySite[site], e.params)
	})
}

// ClusterSite returns the cluster label of every reading of one site.
func (e *Engine) ClusterSite(ctx context.Context, site domain.SiteID, variable string, r domain.DateRange) ([]domain.ClusterPoint, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	rows, err := e.store.LoadCombined(ctx, variable)
	if err != nil {
		return nil, fmt.Errorf("load combined %s: %w", variable, err)
	}
	for _, g := range domain.PartitionBySite(r.FilterSite(rows)) {
		if g.Site == site {
			return detect.Clusters(g, e.params), nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", domain.ErrSiteNotFound, site, variable)
}

// ScoreSite returns the per-row spline scores of one site with its verdict.
func (e *Engine) ScoreSite(ctx context.Context, d domain.Detector, site domain.SiteID, variable string, r domain.DateRange) (domain.Verdict, []domain.PointScore, error) {
	if err := r.Validate(); err != nil {
		return domain.Verdict{}, nil, err
	}
	var (
		s   domain.DailySeries
		err error
	)
	switch d {
	case domain.DetectorDailySpline:
		s, err = e.dailyWithResiduals(ctx, site, variable)
	case domain.DetectorHourlySpline:
		s, err = e.dailyWithHourlyMSE(ctx, site, variable)
	default:
		return domain.Verdict{}, nil, fmt.Errorf("detector %q has no per-row scores", d)
	}
	if err != nil {
		return domain.Verdict{}, nil, fmt.Errorf("score site %s: %w", site, err)
	}

	s = r.FilterDaily(s)
	if d == domain.DetectorDailySpline {
		v, points := detect.DailySpline(s, e.params)
		return v, points, nil
	}
	v, points := detect.HourlySpline(s, e.params)
	return v, points, nil
}

func (e *Engine) detectSites(
	ctx context.Context,
	d domain.Detector,
	variable string,
	task func(context.Context, domain.SiteID) domain.Verdict,
) ([]domain.Verdict, error) {
	sites, err := e.store.Sites(ctx, domain.Daily, variable)
	if err != nil {
		return nil, fmt.Errorf("list sites for %s: %w", variable, err)
	}
	return e.dispatch(ctx, d, sites, task)
}

// dispatch runs task on the pool, timing each site and replacing a panic
// with an "Insufficient data" verdict.
func (e *Engine) dispatch(
	ctx context.Context,
	d domain.Detector,
	sites []domain.SiteID,
	task func(context.Context, domain.SiteID) domain.Verdict,
) ([]domain.Verdict, error) {
	timed := func(ctx context.Context, site domain.SiteID) domain.Verdict {
		start := time.Now()
		v := task(ctx, site)
		e.metrics.SiteDuration.WithLabelValues(string(d)).Observe(time.Since(start).Seconds())
		e.metrics.SitesScored.WithLabelValues(string(d), string(v.Status)).Inc()
		return v
	}
	fallback := func(site domain.SiteID) domain.Verdict {
		e.metrics.TaskPanics.WithLabelValues(string(d)).Inc()
		e.metrics.SitesScored.WithLabelValues(string(d), string(domain.StatusInsufficient)).Inc()
		return domain.Insufficient(site, d)
	}
	return Dispatch(ctx, e.pool, sites, timed, fallback)
}

func (e *Engine) publish(ctx context.Context, run domain.Run) {
	for _, sink := range e.sinks {
		if err := sink.PublishRun(ctx, run); err != nil {
			e.logger.Error("publish run failed", "sink", sink.Name(), "run_id", run.ID, "error", err)
			e.metrics.VerdictsPublished.WithLabelValues(sink.Name(), "error").Inc()
			continue
		}
		e.metrics.VerdictsPublished.WithLabelValues(sink.Name(), "success").Inc()
	}
}

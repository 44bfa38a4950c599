package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/allison-weber/EPAnomoly/internal/domain"
	"github.com/allison-weber/EPAnomoly/internal/spline"
)

// dailyWithResiduals loads a daily series and, when the residual column is
// absent, fits it and writes the result back through the store.
func (e *Engine) dailyWithResiduals(ctx context.Context, site domain.SiteID, variable string) (domain.DailySeries, error) {
	s, err := e.store.LoadDaily(ctx, site, variable)
	if err != nil {
		return domain.DailySeries{}, err
	}
	if s.HasResidual {
		return s, nil
	}
	return e.updateDaily(ctx, domain.Daily, site, variable, func(cur domain.DailySeries) (domain.DailySeries, bool) {
		if cur.HasResidual {
			return cur, false
		}
		return e.scoreDaily(cur), true
	})
}

// dailyWithHourlyMSE loads a daily series and, when the hourly MSE column is
// absent, computes it from the hourly series and writes it back.
func (e *Engine) dailyWithHourlyMSE(ctx context.Context, site domain.SiteID, variable string) (domain.DailySeries, error) {
	s, err := e.store.LoadDaily(ctx, site, variable)
	if err != nil {
		return domain.DailySeries{}, err
	}
	if s.HasHourlyMSE {
		return s, nil
	}
	hourly, err := e.store.LoadHourly(ctx, site, variable)
	if err != nil {
		return domain.DailySeries{}, fmt.Errorf("load hourly: %w", err)
	}
	mses := e.hourlyMSE(hourly)
	return e.updateDaily(ctx, domain.Hourly, site, variable, func(cur domain.DailySeries) (domain.DailySeries, bool) {
		if cur.HasHourlyMSE {
			return cur, false
		}
		return spline.MergeHourlyMSE(cur, mses), true
	})
}

func (e *Engine) scoreDaily(s domain.DailySeries) domain.DailySeries {
	scored, err := spline.ScoreDaily(s, e.params)
	if err != nil {
		e.metrics.DegradedFits.WithLabelValues(string(domain.Daily), degradeReason(err)).Inc()
		e.logger.Debug("daily fit degraded", "site_id", s.Site, "variable", s.Variable, "error", err)
	}
	return scored
}

func (e *Engine) hourlyMSE(hourly domain.HourlySeries) []domain.DayMSE {
	mses := spline.HourlyMSE(hourly, e.params)
	for _, m := range mses {
		switch {
		case domain.IsMissing(m.MSE):
			e.metrics.DegradedFits.WithLabelValues(string(domain.Hourly), "missing_day").Inc()
		case m.Canonical:
			e.metrics.HourlyDays.WithLabelValues("canonical").Inc()
		default:
			e.metrics.HourlyDays.WithLabelValues("rebuilt").Inc()
		}
	}
	return mses
}

// updateDaily applies score to the stored series under the store lock, so a
// concurrent update of the other derived column is merged instead of lost.
// A failed write only costs a refit on the next load, so it is logged and
// the scored series is still returned.
func (e *Engine) updateDaily(
	ctx context.Context,
	freq domain.Frequency,
	site domain.SiteID,
	variable string,
	score func(domain.DailySeries) (domain.DailySeries, bool),
) (domain.DailySeries, error) {
	var (
		out     domain.DailySeries
		loaded  bool
		changed bool
	)
	err := e.store.UpdateDaily(ctx, site, variable, func(cur domain.DailySeries) (domain.DailySeries, bool) {
		loaded = true
		out, changed = score(cur)
		return out, changed
	})
	switch {
	case !loaded && err != nil:
		return domain.DailySeries{}, err
	case !loaded:
		return domain.DailySeries{}, fmt.Errorf("%w: %s %s", domain.ErrSiteNotFound, site, variable)
	case !changed:
		return out, nil
	case err != nil:
		e.metrics.CacheWrites.WithLabelValues(string(freq), "error").Inc()
		e.logger.Warn("write-through save failed", "site_id", site, "variable", variable, "error", err)
		return out, nil
	}
	e.metrics.CacheWrites.WithLabelValues(string(freq), "success").Inc()
	return out, nil
}

// FitDaily recomputes the residual column of every site of variable.
func (e *Engine) FitDaily(ctx context.Context, variable string) ([]domain.FitOutcome, error) {
	return e.fitSites(ctx, variable, func(ctx context.Context, site domain.SiteID) domain.FitOutcome {
		scored, err := e.updateDaily(ctx, domain.Daily, site, variable, func(cur domain.DailySeries) (domain.DailySeries, bool) {
			return e.scoreDaily(cur.DropResidual()), true
		})
		if err != nil {
			return domain.FitOutcome{Site: site, Variable: variable, Err: err}
		}
		return outcome(scored, func(r domain.DailyObservation) float64 { return r.Residual })
	})
}

// FitHourly recomputes the hourly MSE column of every site of variable.
func (e *Engine) FitHourly(ctx context.Context, variable string) ([]domain.FitOutcome, error) {
	return e.fitSites(ctx, variable, func(ctx context.Context, site domain.SiteID) domain.FitOutcome {
		s, err := e.store.LoadDaily(ctx, site, variable)
		if err != nil {
			return domain.FitOutcome{Site: site, Variable: variable, Err: err}
		}
		hourly, err := e.store.LoadHourly(ctx, site, variable)
		if err != nil {
			return domain.FitOutcome{Site: site, Variable: variable, Rows: len(s.Rows), Err: fmt.Errorf("load hourly: %w", err)}
		}
		mses := e.hourlyMSE(hourly)
		merged, err := e.updateDaily(ctx, domain.Hourly, site, variable, func(cur domain.DailySeries) (domain.DailySeries, bool) {
			return spline.MergeHourlyMSE(cur, mses), true
		})
		if err != nil {
			return domain.FitOutcome{Site: site, Variable: variable, Rows: len(s.Rows), Err: err}
		}
		return outcome(merged, func(r domain.DailyObservation) float64 { return r.HourlyMSE })
	})
}

func (e *Engine) fitSites(
	ctx context.Context,
	variable string,
	task func(context.Context, domain.SiteID) domain.FitOutcome,
) ([]domain.FitOutcome, error) {
	sites, err := e.store.Sites(ctx, domain.Daily, variable)
	if err != nil {
		return nil, fmt.Errorf("list sites for %s: %w", variable, err)
	}
	fallback := func(site domain.SiteID) domain.FitOutcome {
		return domain.FitOutcome{Site: site, Variable: variable, Err: errors.New("fit panicked")}
	}
	return Dispatch(ctx, e.pool, sites, task, fallback)
}

func outcome(s domain.DailySeries, score func(domain.DailyObservation) float64) domain.FitOutcome {
	out := domain.FitOutcome{Site: s.Site, Variable: s.Variable, Rows: len(s.Rows)}
	for _, r := range s.Rows {
		if !domain.IsMissing(score(r)) {
			out.Scored++
		}
	}
	return out
}

func degradeReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, domain.ErrDegenerateBasis):
		return "degenerate_basis"
	case errors.Is(err, domain.ErrSingularFit):
		return "singular_fit"
	default:
		return "other"
	}
}

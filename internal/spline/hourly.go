package spline

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

// HourlyMSE fits one spline per calendar day and returns the mean squared
// error of each fit, ordered by date.
//
// A day with exactly p.HoursPerDay readings reuses a single basis built once
// per call. Shorter days get their own basis with at most
// p.HourlyMaxDegradedKnots knots. Missing readings are left out of the fit; a
// day with nothing to fit gets a missing MSE without affecting its neighbours.
func HourlyMSE(s domain.HourlySeries, p domain.Params) []domain.DayMSE {
	days := groupByDay(s.Normalize().Rows)
	if len(days) == 0 {
		return []domain.DayMSE{}
	}

	canonical, canonErr := Basis(Linspace(0, 1, p.HoursPerDay), Linspace(0, 1, p.HourlyKnots), p.Degree)
	if canonErr == nil {
		canonical = TrimBasis(canonical)
	}

	out := make([]domain.DayMSE, 0, len(days))
	for _, d := range days {
		res := domain.DayMSE{Date: d.date, MSE: domain.Missing()}
		idx := validIndex(d.values)
		if len(idx) == 0 {
			out = append(out, res)
			continue
		}
		ys := gather(d.values, idx)

		var b *mat.Dense
		if len(d.values) == p.HoursPerDay {
			if canonErr != nil {
				out = append(out, res)
				continue
			}
			b = selectRows(canonical, idx)
			res.Canonical = true
		} else {
			x := gather(Linspace(0, 1, len(d.values)), idx)
			knots := min(p.HourlyMaxDegradedKnots, len(idx)/2)
			full, err := Basis(x, Linspace(0, 1, knots), p.Degree)
			if err != nil {
				out = append(out, res)
				continue
			}
			b = TrimBasis(full)
		}

		fit, err := Project(b, ys, p.PinvRcond)
		if err != nil {
			res.Canonical = false
			out = append(out, res)
			continue
		}
		res.MSE = meanSquaredError(ys, fit)
		out = append(out, res)
	}
	return out
}

// MergeHourlyMSE left-joins per-day MSE onto a daily series. Days absent from
// mses get a missing value.
func MergeHourlyMSE(daily domain.DailySeries, mses []domain.DayMSE) domain.DailySeries {
	byDate := make(map[string]float64, len(mses))
	for _, m := range mses {
		byDate[m.Date.Format(domain.DateLayout)] = m.MSE
	}
	out := daily.Clone()
	for i, r := range out.Rows {
		if v, ok := byDate[r.Date.Format(domain.DateLayout)]; ok {
			out.Rows[i].HourlyMSE = v
		} else {
			out.Rows[i].HourlyMSE = domain.Missing()
		}
	}
	out.HasHourlyMSE = true
	return out
}

type dayValues struct {
	date   time.Time
	values []float64
}

func groupByDay(rows []domain.HourlyObservation) []dayValues {
	var days []dayValues
	for _, r := range rows {
		if n := len(days); n == 0 || !days[n-1].date.Equal(r.Date) {
			days = append(days, dayValues{date: r.Date})
		}
		last := &days[len(days)-1]
		last.values = append(last.values, r.Value)
	}
	return days
}

func meanSquaredError(y, fit []float64) float64 {
	var sum float64
	for i := range y {
		d := y[i] - fit[i]
		sum += d * d
	}
	return sum / float64(len(y))
}

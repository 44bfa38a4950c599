package spline

import (
	"fmt"
	"math"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

// DailyResiduals fits one spline through a whole daily series and returns
// |y - fit| per row.
//
// Rows are placed evenly on [0, 1] by position. Missing values keep their
// position but are left out of the fit and get a missing residual. When no
// value is present, the basis is degenerate, or the fit fails, every residual
// is missing and the cause is returned alongside.
func DailyResiduals(values []float64, p domain.Params) ([]float64, error) {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out, nil
	}
	for i := range out {
		out[i] = domain.Missing()
	}

	x := Linspace(0, 1, len(values))
	idx := validIndex(values)
	if len(idx) == 0 {
		return out, fmt.Errorf("%w: no values to fit among %d rows", domain.ErrInsufficientData, len(values))
	}
	xs, ys := gather(x, idx), gather(values, idx)

	numKnots := p.DailyKnots
	if numKnots == 0 {
		numKnots = len(idx) / 4
	}
	b, err := Basis(xs, Linspace(0, 1, numKnots), p.Degree)
	if err != nil {
		return out, err
	}
	fit, err := Project(TrimBasis(b), ys, p.PinvRcond)
	if err != nil {
		return out, err
	}
	for k, i := range idx {
		out[i] = math.Abs(ys[k] - fit[k])
	}
	return out, nil
}

// ScoreDaily returns a copy of s with the residual column filled in.
// The error reports why the residuals are all missing, if they are.
func ScoreDaily(s domain.DailySeries, p domain.Params) (domain.DailySeries, error) {
	out := s.Clone()
	res, err := DailyResiduals(out.Values(), p)
	for i := range out.Rows {
		out.Rows[i].Residual = res[i]
	}
	out.HasResidual = true
	return out, err
}

func validIndex(values []float64) []int {
	idx := make([]int, 0, len(values))
	for i, v := range values {
		if !domain.IsMissing(v) && !math.IsInf(v, 0) {
			idx = append(idx, i)
		}
	}
	return idx
}

func gather(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = v[i]
	}
	return out
}

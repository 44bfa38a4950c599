// Package detect turns per-site scores into outlier verdicts.
//
// Every function here is pure: it reads one site's data and returns one
// verdict, so callers may run sites concurrently without coordination.
package detect

import (
	"math"

	"github.com/allison-weber/EPAnomoly/internal/cluster"
	"github.com/allison-weber/EPAnomoly/internal/domain"
)

// DailySpline flags a site whose daily spline residuals contain a z-score
// above p.DailyCriticalZ. The series must already carry residuals.
func DailySpline(s domain.DailySeries, p domain.Params) (domain.Verdict, []domain.PointScore) {
	if !s.HasResidual {
		return domain.Insufficient(s.Site, domain.DetectorDailySpline), nil
	}
	return splineVerdict(s, domain.DetectorDailySpline, p.DailyCriticalZ, p.MinPointsSpline,
		func(r domain.DailyObservation) float64 { return r.Residual })
}

// HourlySpline flags a site whose per-day hourly fit errors contain a
// z-score above p.HourlyCriticalZ. The series must already carry the MSE
// column.
func HourlySpline(s domain.DailySeries, p domain.Params) (domain.Verdict, []domain.PointScore) {
	if !s.HasHourlyMSE {
		return domain.Insufficient(s.Site, domain.DetectorHourlySpline), nil
	}
	return splineVerdict(s, domain.DetectorHourlySpline, p.HourlyCriticalZ, p.MinPointsSpline,
		func(r domain.DailyObservation) float64 { return r.HourlyMSE })
}

func splineVerdict(
	s domain.DailySeries,
	d domain.Detector,
	critical float64,
	minPoints int,
	score func(domain.DailyObservation) float64,
) (domain.Verdict, []domain.PointScore) {
	if len(s.Rows) <= minPoints {
		return domain.Insufficient(s.Site, d), nil
	}

	scores := make([]float64, len(s.Rows))
	for i, r := range s.Rows {
		scores[i] = score(r)
	}
	z, ok := ZScores(scores)
	if !ok {
		return domain.Insufficient(s.Site, d), nil
	}

	points := make([]domain.PointScore, len(s.Rows))
	flagged := false
	for i, r := range s.Rows {
		out := isFinite(z[i]) && z[i] > critical
		flagged = flagged || out
		points[i] = domain.PointScore{
			Date:    r.Date,
			Value:   r.Value,
			Score:   scores[i],
			ZScore:  z[i],
			Outlier: out,
		}
	}
	if flagged {
		return domain.Flagged(s.Site, d), points
	}
	return domain.Clean(s.Site, d), points
}

// ZScores standardizes v with its mean and sample standard deviation,
// ignoring missing entries. It reports false when fewer than two entries
// are present. A zero deviation yields non-finite scores.
func ZScores(v []float64) ([]float64, bool) {
	var n int
	var sum float64
	for _, x := range v {
		if isFinite(x) {
			n++
			sum += x
		}
	}
	if n < 2 {
		return nil, false
	}
	mean := sum / float64(n)
	var ss float64
	for _, x := range v {
		if isFinite(x) {
			ss += (x - mean) * (x - mean)
		}
	}
	std := math.Sqrt(ss / float64(n-1))

	out := make([]float64, len(v))
	for i, x := range v {
		if !isFinite(x) {
			out[i] = domain.Missing()
			continue
		}
		out[i] = (x - mean) / std
	}
	return out, true
}

// Density flags a site when any of its readings fails to join a dense
// cluster after per-site min-max scaling.
func Density(site domain.SiteID, values []float64, p domain.Params) domain.Verdict {
	valid := finiteValues(values)
	if len(valid) <= p.MinPointsDensity {
		return domain.Insufficient(site, domain.DetectorDBSCAN)
	}
	_, labels := label(valid, p)
	for _, l := range labels {
		if l == domain.Noise {
			return domain.Flagged(site, domain.DetectorDBSCAN)
		}
	}
	return domain.Clean(site, domain.DetectorDBSCAN)
}

// Clusters returns the cluster label of every non-missing reading of a site.
func Clusters(g domain.SiteGroup, p domain.Params) []domain.ClusterPoint {
	rows := make([]domain.SiteObservation, 0, len(g.Rows))
	for _, r := range g.Rows {
		if isFinite(r.Value) {
			rows = append(rows, r)
		}
	}
	values := make([]float64, len(rows))
	for i, r := range rows {
		values[i] = r.Value
	}
	scaled, labels := label(values, p)

	out := make([]domain.ClusterPoint, len(rows))
	for i, r := range rows {
		out[i] = domain.ClusterPoint{Date: r.Date, Value: r.Value, Scaled: scaled[i], Label: labels[i]}
	}
	return out
}

func label(values []float64, p domain.Params) ([]float64, []int) {
	scaled := cluster.MinMaxScale(values, p.ScaleDecimals)
	return scaled, cluster.DBSCAN(scaled, p.Eps, p.MinSamples)
}

func finiteValues(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if isFinite(v) {
			out = append(out, v)
		}
	}
	return out
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

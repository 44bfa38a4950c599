package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Detector names one of the three outlier detectors.
type Detector string

const (
	DetectorDailySpline  Detector = "daily-spline"
	DetectorHourlySpline Detector = "hourly-spline"
	DetectorDBSCAN       Detector = "dbscan"
)

// Detectors lists every detector in display order.
var Detectors = []Detector{DetectorDailySpline, DetectorHourlySpline, DetectorDBSCAN}

// ParseDetector accepts the canonical name or the dashboard model label.
func ParseDetector(s string) (Detector, error) {
	switch s {
	case string(DetectorDailySpline), "B-Spline MSE (daily)":
		return DetectorDailySpline, nil
	case string(DetectorHourlySpline), "B-Spline MSE (hourly)":
		return DetectorHourlySpline, nil
	case string(DetectorDBSCAN), "DBSCAN":
		return DetectorDBSCAN, nil
	default:
		return "", fmt.Errorf("unknown detector %q", s)
	}
}

// OutlierFlag is the non-zero outlier value the detector reports.
func (d Detector) OutlierFlag() int {
	if d == DetectorDBSCAN {
		return -1
	}
	return 1
}

// StatusColumn is the human-readable column name the dashboard colors by.
func (d Detector) StatusColumn() string {
	switch d {
	case DetectorDailySpline:
		return "Daily spline anomaly detected?"
	case DetectorHourlySpline:
		return "Hourly spline anomaly detected?"
	case DetectorDBSCAN:
		return "DBSCAN anomaly detected?"
	default:
		return "Anomaly detected?"
	}
}

// Status is the human-readable verdict label.
type Status string

const (
	StatusYes          Status = "Yes"
	StatusNo           Status = "No"
	StatusInsufficient Status = "Insufficient data"
)

// Verdict is the per-site outlier record every detector produces.
type Verdict struct {
	Site     SiteID
	Detector Detector
	Outlier  int
	Status   Status
}

// Flagged builds the verdict for a site with at least one anomaly.
func Flagged(site SiteID, d Detector) Verdict {
	return Verdict{Site: site, Detector: d, Outlier: d.OutlierFlag(), Status: StatusYes}
}

// Clean builds the verdict for a site scored without anomalies.
func Clean(site SiteID, d Detector) Verdict {
	return Verdict{Site: site, Detector: d, Status: StatusNo}
}

// Insufficient builds the verdict for a site that could not be scored.
func Insufficient(site SiteID, d Detector) Verdict {
	return Verdict{Site: site, Detector: d, Status: StatusInsufficient}
}

// MarshalJSON emits the dashboard row shape:
// {"site_id": ..., "outlier": ..., "<detector status column>": ...}.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		ColumnSiteID:             v.Site,
		"outlier":                v.Outlier,
		v.Detector.StatusColumn(): v.Status,
	})
}

// UnmarshalJSON accepts the dashboard row shape for any detector column.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode verdict: %w", err)
	}
	var out Verdict
	if b, ok := raw[ColumnSiteID]; ok {
		if err := json.Unmarshal(b, &out.Site); err != nil {
			return fmt.Errorf("decode verdict site_id: %w", err)
		}
	}
	if b, ok := raw["outlier"]; ok {
		if err := json.Unmarshal(b, &out.Outlier); err != nil {
			return fmt.Errorf("decode verdict outlier: %w", err)
		}
	}
	for _, d := range Detectors {
		if b, ok := raw[d.StatusColumn()]; ok {
			out.Detector = d
			if err := json.Unmarshal(b, &out.Status); err != nil {
				return fmt.Errorf("decode verdict status: %w", err)
			}
			break
		}
	}
	*v = out
	return nil
}

// SortVerdicts orders verdicts by site id in place.
func SortVerdicts(vs []Verdict) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].Site < vs[j].Site })
}

// PointScore annotates one row of a site series with its spline score.
type PointScore struct {
	Date    time.Time `json:"date"`
	Value   float64   `json:"value"`
	Score   float64   `json:"score"`
	ZScore  float64   `json:"zscore"`
	Outlier bool      `json:"outlier"`
}

// MarshalJSON writes missing values as null.
func (p PointScore) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date    string   `json:"date"`
		Value   *float64 `json:"value"`
		Score   *float64 `json:"score"`
		ZScore  *float64 `json:"zscore"`
		Outlier bool     `json:"outlier"`
	}{
		Date:    p.Date.Format(DateLayout),
		Value:   nullable(p.Value),
		Score:   nullable(p.Score),
		ZScore:  nullable(p.ZScore),
		Outlier: p.Outlier,
	})
}

func nullable(v float64) *float64 {
	if IsMissing(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Noise is the cluster label for points that did not join any dense cluster.
const Noise = -1

// ClusterPoint is the per-point cluster assignment used for chart overlays.
type ClusterPoint struct {
	Date   time.Time `json:"date"`
	Value  float64   `json:"value"`
	Scaled float64   `json:"scaled"`
	Label  int       `json:"cluster"`
}

// Anomalous reports whether the point received the noise label.
func (p ClusterPoint) Anomalous() bool { return p.Label == Noise }

// MarshalJSON writes the date as "YYYY-MM-DD".
func (p ClusterPoint) MarshalJSON() ([]byte, error) {
	type alias ClusterPoint
	return json.Marshal(struct {
		Date string `json:"date"`
		alias
	}{
		Date:  p.Date.Format(DateLayout),
		alias: alias(p),
	})
}

package domain

import (
	"math"
	"sort"
	"time"
)

// Column names used by the partitioned store.
const (
	ColumnDate          = "Date Local"
	ColumnTime          = "Time Local"
	ColumnSiteID        = "site_id"
	ColumnResidual      = "daily_spline_residual"
	ColumnHourlyMSE     = "hourly_spline_mse"
	ColumnAQI           = "AQI"
	ColumnArithmeticAvg = "Arithmetic Mean"
)

// DateLayout is the calendar date format of "Date Local".
const DateLayout = "2006-01-02"

// Frequency distinguishes the daily and hourly partitions.
type Frequency string

const (
	Daily  Frequency = "daily"
	Hourly Frequency = "hourly"
)

// SiteID identifies a physical sensor location by its state/county/site key.
type SiteID string

// Missing is the in-memory marker for a missing value.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is a missing value.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// DailyObservation is one day of a site-variable series.
type DailyObservation struct {
	Date      time.Time
	Value     float64
	Residual  float64
	HourlyMSE float64
}

// DailySeries is the full daily history of one variable at one site.
// Rows are ordered by date with unique dates.
type DailySeries struct {
	Site     SiteID
	Variable string
	Rows     []DailyObservation

	// HasResidual and HasHourlyMSE report whether the derived columns are
	// present on the stored series.
	HasResidual  bool
	HasHourlyMSE bool
}

// Values returns the observed values in row order.
func (s DailySeries) Values() []float64 {
	out := make([]float64, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r.Value
	}
	return out
}

// Clone returns a deep copy of the series.
func (s DailySeries) Clone() DailySeries {
	c := s
	c.Rows = append([]DailyObservation(nil), s.Rows...)
	return c
}

// DropResidual clears the cached residual column.
func (s DailySeries) DropResidual() DailySeries {
	c := s.Clone()
	for i := range c.Rows {
		c.Rows[i].Residual = Missing()
	}
	c.HasResidual = false
	return c
}

// DropHourlyMSE clears the cached hourly MSE column.
func (s DailySeries) DropHourlyMSE() DailySeries {
	c := s.Clone()
	for i := range c.Rows {
		c.Rows[i].HourlyMSE = Missing()
	}
	c.HasHourlyMSE = false
	return c
}

// Normalize sorts rows by date and keeps the first row of any duplicated date.
func (s DailySeries) Normalize() DailySeries {
	c := s.Clone()
	sort.SliceStable(c.Rows, func(i, j int) bool { return c.Rows[i].Date.Before(c.Rows[j].Date) })
	out := c.Rows[:0]
	for i, r := range c.Rows {
		if i > 0 && r.Date.Equal(out[len(out)-1].Date) {
			continue
		}
		out = append(out, r)
	}
	c.Rows = out
	return c
}

// HourlyObservation is one hourly reading.
type HourlyObservation struct {
	Date      time.Time
	TimeOfDay string
	Value     float64
}

// HourlySeries is the full hourly history of one variable at one site.
// Rows are ordered by (Date, TimeOfDay) and the pairs are unique.
type HourlySeries struct {
	Site     SiteID
	Variable string
	Rows     []HourlyObservation
}

// Normalize sorts rows by date and time and keeps the first row of any
// duplicated (date, time) pair.
func (s HourlySeries) Normalize() HourlySeries {
	c := s
	c.Rows = append([]HourlyObservation(nil), s.Rows...)
	sort.SliceStable(c.Rows, func(i, j int) bool {
		if !c.Rows[i].Date.Equal(c.Rows[j].Date) {
			return c.Rows[i].Date.Before(c.Rows[j].Date)
		}
		return c.Rows[i].TimeOfDay < c.Rows[j].TimeOfDay
	})
	out := c.Rows[:0]
	for i, r := range c.Rows {
		if i > 0 {
			prev := out[len(out)-1]
			if r.Date.Equal(prev.Date) && r.TimeOfDay == prev.TimeOfDay {
				continue
			}
		}
		out = append(out, r)
	}
	c.Rows = out
	return c
}

// SiteObservation is one row of a combined per-variable dataset.
type SiteObservation struct {
	Site  SiteID
	Date  time.Time
	Value float64
}

// SiteGroup is the slice of a combined dataset belonging to one site.
type SiteGroup struct {
	Site SiteID
	Rows []SiteObservation
}

// PartitionBySite splits a combined dataset into independent per-site groups.
// Groups appear in order of each site's first row; rows keep their order.
func PartitionBySite(rows []SiteObservation) []SiteGroup {
	index := make(map[SiteID]int)
	var groups []SiteGroup
	for _, r := range rows {
		i, ok := index[r.Site]
		if !ok {
			i = len(groups)
			index[r.Site] = i
			groups = append(groups, SiteGroup{Site: r.Site})
		}
		groups[i].Rows = append(groups[i].Rows, r)
	}
	return groups
}

// Values returns the group's values in row order.
func (g SiteGroup) Values() []float64 {
	out := make([]float64, len(g.Rows))
	for i, r := range g.Rows {
		out[i] = r.Value
	}
	return out
}

// DayMSE is the hourly spline fit error for one calendar day.
type DayMSE struct {
	Date time.Time
	MSE  float64

	// Canonical reports whether the day was fit with the shared full-day basis.
	Canonical bool
}

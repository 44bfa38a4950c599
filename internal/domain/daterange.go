package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRange reports a caller-supplied date range that is inverted or
// unparseable. It is the only error the engine surfaces to callers.
var ErrInvalidRange = errors.New("invalid date range")

// DateRange is an optional, inclusive calendar range. A zero bound is open.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange parses "YYYY-MM-DD" bounds; empty strings leave a bound open.
func NewDateRange(start, end string) (DateRange, error) {
	var r DateRange
	var err error
	if r.Start, err = parseBound(start); err != nil {
		return DateRange{}, fmt.Errorf("%w: start_date: %w", ErrInvalidRange, err)
	}
	if r.End, err = parseBound(end); err != nil {
		return DateRange{}, fmt.Errorf("%w: end_date: %w", ErrInvalidRange, err)
	}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate fails with ErrInvalidRange when Start is after End.
func (r DateRange) Validate() error {
	if !r.Start.IsZero() && !r.End.IsZero() && r.Start.After(r.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange,
			r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return nil
}

// IsOpen reports whether neither bound is set.
func (r DateRange) IsOpen() bool { return r.Start.IsZero() && r.End.IsZero() }

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d time.Time) bool {
	if !r.Start.IsZero() && d.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && d.After(r.End) {
		return false
	}
	return true
}

// String renders the range as "start..end" with empty open bounds.
func (r DateRange) String() string {
	return formatBound(r.Start) + ".." + formatBound(r.End)
}

// FilterDaily keeps the rows of s inside the range.
func (r DateRange) FilterDaily(s DailySeries) DailySeries {
	if r.IsOpen() {
		return s
	}
	out := s
	out.Rows = nil
	for _, row := range s.Rows {
		if r.Contains(row.Date) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// FilterSite keeps the rows of a combined dataset inside the range.
func (r DateRange) FilterSite(rows []SiteObservation) []SiteObservation {
	if r.IsOpen() {
		return rows
	}
	out := make([]SiteObservation, 0, len(rows))
	for _, row := range rows {
		if r.Contains(row.Date) {
			out = append(out, row)
		}
	}
	return out
}

func parseBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return ParseDate(s)
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

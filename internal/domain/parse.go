package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

var (
	// timeOfDayRe matches AQS "Time Local" values, e.g. "07:00" or "7:00".
	timeOfDayRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

	errEmptyDate = errors.New("empty date")
)

// ParseDate parses an AQS "Date Local" string into UTC midnight.
// A trailing time component ("2024-04-26 00:00:00" or RFC 3339) is ignored.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmptyDate
	}
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// ParseValue parses a numeric cell. Empty cells and the common missing
// sentinels ("NaN", "null", "NA") yield a missing value without error.
func ParseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "null", "na", "none":
		return Missing(), nil
	}
	v, err := cast.ToFloat64E(s)
	if err != nil {
		return Missing(), fmt.Errorf("parse value %q: %w", s, err)
	}
	return v, nil
}

// FormatValue renders a value cell; missing values become empty cells.
func FormatValue(v float64) string {
	if IsMissing(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseTimeOfDay normalizes an AQS "Time Local" string to zero-padded "HH:MM".
// Four-digit "HHMM" values are accepted as well.
func ParseTimeOfDay(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 && !strings.Contains(s, ":") {
		s = s[:2] + ":" + s[2:]
	}

	matches := timeOfDayRe.FindStringSubmatch(s)
	if len(matches) != 3 {
		return "", fmt.Errorf("parse time of day %q: want HH:MM", s)
	}

	hour, errH := strconv.Atoi(matches[1])
	mins, errM := strconv.Atoi(matches[2])
	if errH != nil || errM != nil || hour < 0 || hour > 23 || mins < 0 || mins > 59 {
		return "", fmt.Errorf("parse time of day %q: out of range", s)
	}
	return fmt.Sprintf("%02d:%02d", hour, mins), nil
}

// NewSiteID builds the site key from AQS state, county and site-number codes.
func NewSiteID(state, county, site string) SiteID {
	return SiteID(trimCode(state) + trimCode(county) + trimCode(site))
}

// ValueColumn is the combined-dataset column holding a variable's value.
func ValueColumn(variable string) string {
	if variable == ColumnAQI {
		return ColumnAQI
	}
	return ColumnArithmeticAvg
}

// trimCode drops leading zeros so "06" and "6" produce the same key, matching
// the integer-cast concatenation of the partitioner.
func trimCode(code string) string {
	code = strings.TrimSpace(code)
	trimmed := strings.TrimLeft(code, "0")
	if trimmed == "" && code != "" {
		return "0"
	}
	return trimmed
}

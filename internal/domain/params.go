package domain

import (
	"fmt"
	"runtime"

	"github.com/go-playground/validator/v10"
)

// Params holds every tunable of the detectors. It is passed explicitly into
// each detector call so callers can override any value per invocation.
type Params struct {
	// Degree is the polynomial degree of every spline fit.
	Degree int `toml:"degree" validate:"gte=1,lte=5"`
	// DailyKnots is the knot count of the daily fit; 0 means floor(n/4).
	DailyKnots int `toml:"daily_knots" validate:"gte=0"`
	// HourlyKnots is the knot count for a day with HoursPerDay readings.
	HourlyKnots int `toml:"hourly_knots" validate:"gte=2"`
	// HourlyMaxDegradedKnots caps the knot count of a day with missing hours.
	HourlyMaxDegradedKnots int `toml:"hourly_max_degraded_knots" validate:"gte=2"`
	// HoursPerDay is the reading count of a complete day.
	HoursPerDay int `toml:"hours_per_day" validate:"gte=1,lte=24"`

	// MinPointsSpline is the row count a series must exceed to be scored by a spline detector.
	MinPointsSpline int `toml:"min_points_spline" validate:"gte=2"`
	DailyCriticalZ  float64 `toml:"daily_critical_z" validate:"gt=0"`
	HourlyCriticalZ float64 `toml:"hourly_critical_z" validate:"gt=0"`

	// MinPointsDensity is the point count a series must exceed to be clustered.
	MinPointsDensity int     `toml:"min_points_density" validate:"gte=1"`
	Eps              float64 `toml:"eps" validate:"gt=0"`
	MinSamples       int     `toml:"min_samples" validate:"gte=1"`
	ScaleDecimals    int     `toml:"scale_decimals" validate:"gte=0,lte=12"`

	// PinvRcond is the relative singular value cutoff of the pseudo-inverse.
	PinvRcond float64 `toml:"pinv_rcond" validate:"gt=0,lt=1"`

	// Workers is the pool size; 0 picks WorkerCount(runtime.NumCPU()).
	Workers   int `toml:"workers" validate:"gte=0"`
	BatchSize int `toml:"batch_size" validate:"gte=1"`
}

// DefaultParams returns the values the dashboard has been calibrated against.
func DefaultParams() Params {
	return Params{
		Degree:                 3,
		DailyKnots:             0,
		HourlyKnots:            6,
		HourlyMaxDegradedKnots: 5,
		HoursPerDay:            24,
		MinPointsSpline:        20,
		DailyCriticalZ:         6,
		HourlyCriticalZ:        15,
		MinPointsDensity:       4,
		Eps:                    0.1,
		MinSamples:             3,
		ScaleDecimals:          2,
		PinvRcond:              1e-15,
		Workers:                0,
		BatchSize:              5,
	}
}

var validate = validator.New()

// Validate checks every field against its documented range.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid detector params: %w", err)
	}
	return nil
}

// PoolSize resolves the worker count for this host.
func (p Params) PoolSize() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return WorkerCount(runtime.NumCPU())
}

// WorkerCount leaves two cores free on hosts with more than four cores and
// uses every core otherwise.
func WorkerCount(numCPU int) int {
	if numCPU > 4 {
		return numCPU - 2
	}
	if numCPU < 1 {
		return 1
	}
	return numCPU
}

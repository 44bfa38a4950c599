package spline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

func cubic(x float64) float64 { return 1 + 2*x - 3*x*x + 0.5*x*x*x }

func TestLinspace(t *testing.T) {
	assert.Empty(t, Linspace(0, 1, 0))
	assert.Equal(t, []float64{0}, Linspace(0, 1, 1))
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, Linspace(0, 1, 5))
}

func TestBasis_ShapeAndPartitionOfUnity(t *testing.T) {
	x := Linspace(0, 1, 10)
	knots := Linspace(0, 1, 4)

	b, err := Basis(x, knots, 3)
	require.NoError(t, err)

	rows, cols := b.Dims()
	assert.Equal(t, 10, rows)
	assert.Equal(t, 4+3+1, cols)

	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			v := b.At(i, j)
			assert.GreaterOrEqual(t, v, 0.0, "row %d col %d", i, j)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-12, "row %d", i)
		assert.Zero(t, b.At(i, cols-1))
		assert.Zero(t, b.At(i, cols-2))
	}

	// Clamped ends: first and last genuine functions are 1 at the boundaries.
	assert.InDelta(t, 1.0, b.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, b.At(rows-1, cols-3), 1e-12)

	trimmed := TrimBasis(b)
	_, tc := trimmed.Dims()
	assert.Equal(t, cols-2, tc)
}

func TestBasis_Degenerate(t *testing.T) {
	tests := []struct {
		name   string
		x      []float64
		knots  []float64
		degree int
	}{
		{"no points", nil, []float64{0, 1}, 3},
		{"one knot", []float64{0, 0.5, 1}, []float64{0}, 3},
		{"negative degree", []float64{0, 1}, []float64{0, 1}, -1},
		{"unsorted points", []float64{0, 0.7, 0.5}, []float64{0, 1}, 3},
		{"repeated knot", []float64{0, 0.5, 1}, []float64{0, 0.5, 0.5, 1}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Basis(tt.x, tt.knots, tt.degree)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrDegenerateBasis)
		})
	}
}

func TestProject_FullRankIsIdentity(t *testing.T) {
	b := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 2, 0, 0, 0, 3})
	fit, err := Project(b, []float64{4, 5, 6}, 1e-15)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 5, 6}, fit, 1e-12)
}

func TestProject_NonFinite(t *testing.T) {
	b := mat.NewDense(2, 1, []float64{1, 1})
	_, err := Project(b, []float64{1, math.NaN()}, 1e-15)
	assert.ErrorIs(t, err, domain.ErrSingularFit)
}

func TestDailyResiduals_ReproducesCubic(t *testing.T) {
	x := Linspace(0, 1, 40)
	y := make([]float64, len(x))
	for i, xi := range x {
		y[i] = cubic(xi)
	}

	res, err := DailyResiduals(y, domain.DefaultParams())
	require.NoError(t, err)
	require.Len(t, res, len(y))
	for i, r := range res {
		assert.InDelta(t, 0, r, 1e-9, "row %d", i)
	}
}

func TestDailyResiduals_Empty(t *testing.T) {
	res, err := DailyResiduals(nil, domain.DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestDailyResiduals_DegenerateIsAllMissing(t *testing.T) {
	// floor(5/4) = 1 knot.
	res, err := DailyResiduals([]float64{1, 2, 3, 4, 5}, domain.DefaultParams())
	require.ErrorIs(t, err, domain.ErrDegenerateBasis)
	require.Len(t, res, 5)
	for _, r := range res {
		assert.True(t, domain.IsMissing(r))
	}
}

func TestDailyResiduals_AllMissingIsInsufficient(t *testing.T) {
	values := []float64{domain.Missing(), domain.Missing(), domain.Missing()}
	res, err := DailyResiduals(values, domain.DefaultParams())
	require.ErrorIs(t, err, domain.ErrInsufficientData)
	require.Len(t, res, 3)
	for _, r := range res {
		assert.True(t, domain.IsMissing(r))
	}
}

func TestDailyResiduals_DropsMissing(t *testing.T) {
	x := Linspace(0, 1, 40)
	y := make([]float64, len(x))
	for i, xi := range x {
		y[i] = cubic(xi)
	}
	y[3] = domain.Missing()
	y[17] = domain.Missing()

	res, err := DailyResiduals(y, domain.DefaultParams())
	require.NoError(t, err)
	for i, r := range res {
		if i == 3 || i == 17 {
			assert.True(t, domain.IsMissing(r), "row %d", i)
			continue
		}
		assert.InDelta(t, 0, r, 1e-9, "row %d", i)
	}
}

func TestDailyResiduals_NonNegative(t *testing.T) {
	y := make([]float64, 90)
	for i := range y {
		y[i] = 30 + 10*math.Sin(float64(i)/5) + float64(i%7)
	}

	res, err := DailyResiduals(y, domain.DefaultParams())
	require.NoError(t, err)
	for _, r := range res {
		assert.GreaterOrEqual(t, r, 0.0)
	}
}

func TestScoreDaily_Idempotent(t *testing.T) {
	s := domain.DailySeries{Site: "1", Variable: "AQI"}
	for i := 0; i < 60; i++ {
		s.Rows = append(s.Rows, domain.DailyObservation{
			Date:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Value: 40 + 5*math.Cos(float64(i)/3),
		})
	}

	first, err := ScoreDaily(s, domain.DefaultParams())
	require.NoError(t, err)
	second, err := ScoreDaily(first.DropResidual(), domain.DefaultParams())
	require.NoError(t, err)

	assert.True(t, first.HasResidual)
	for i := range first.Rows {
		assert.Equal(t, math.Float64bits(first.Rows[i].Residual), math.Float64bits(second.Rows[i].Residual), "row %d", i)
	}
}

func hourlyDay(date time.Time, n int, value func(i int) float64) []domain.HourlyObservation {
	rows := make([]domain.HourlyObservation, n)
	for i := range rows {
		rows[i] = domain.HourlyObservation{
			Date:      date,
			TimeOfDay: time.Date(0, 1, 1, i, 0, 0, 0, time.UTC).Format("15:04"),
			Value:     value(i),
		}
	}
	return rows
}

func TestHourlyMSE(t *testing.T) {
	d1 := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	d3 := d1.AddDate(0, 0, 2)
	d4 := d1.AddDate(0, 0, 3)

	smooth := func(i int) float64 { return cubic(float64(i) / 23) }
	noisy := func(i int) float64 { return float64(i%3) * 4 }

	var rows []domain.HourlyObservation
	rows = append(rows, hourlyDay(d1, 24, smooth)...)
	rows = append(rows, hourlyDay(d2, 10, noisy)...)
	rows = append(rows, hourlyDay(d3, 3, func(int) float64 { return domain.Missing() })...)
	rows = append(rows, hourlyDay(d4, 24, noisy)...)

	p := domain.DefaultParams()
	got := HourlyMSE(domain.HourlySeries{Site: "1", Variable: "CO", Rows: rows}, p)
	require.Len(t, got, 4)

	assert.True(t, got[0].Canonical)
	assert.InDelta(t, 0, got[0].MSE, 1e-18)

	assert.False(t, got[1].Canonical)
	assert.False(t, domain.IsMissing(got[1].MSE))
	assert.Greater(t, got[1].MSE, 0.0)

	assert.True(t, domain.IsMissing(got[2].MSE))
	assert.False(t, got[2].Canonical)

	assert.True(t, got[3].Canonical)
	assert.Greater(t, got[3].MSE, 0.0)

	// An empty day does not change its neighbours.
	alone := HourlyMSE(domain.HourlySeries{Rows: hourlyDay(d4, 24, noisy)}, p)
	require.Len(t, alone, 1)
	assert.Equal(t, math.Float64bits(alone[0].MSE), math.Float64bits(got[3].MSE))
}

func TestHourlyMSE_MissingHourKeepsCanonicalBasis(t *testing.T) {
	d := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := hourlyDay(d, 24, func(i int) float64 { return cubic(float64(i) / 23) })
	rows[5].Value = domain.Missing()

	got := HourlyMSE(domain.HourlySeries{Rows: rows}, domain.DefaultParams())
	require.Len(t, got, 1)
	assert.True(t, got[0].Canonical)
	assert.InDelta(t, 0, got[0].MSE, 1e-18)
}

func TestHourlyMSE_Empty(t *testing.T) {
	assert.Empty(t, HourlyMSE(domain.HourlySeries{}, domain.DefaultParams()))
}

func TestMergeHourlyMSE(t *testing.T) {
	d1 := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	daily := domain.DailySeries{Rows: []domain.DailyObservation{
		{Date: d1, Value: 1, HourlyMSE: domain.Missing()},
		{Date: d2, Value: 2, HourlyMSE: domain.Missing()},
	}}

	got := MergeHourlyMSE(daily, []domain.DayMSE{{Date: d1, MSE: 0.25}})

	assert.True(t, got.HasHourlyMSE)
	assert.InDelta(t, 0.25, got.Rows[0].HourlyMSE, 0)
	assert.True(t, domain.IsMissing(got.Rows[1].HourlyMSE))
	assert.False(t, daily.HasHourlyMSE)
}

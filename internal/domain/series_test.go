package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func TestDailySeries_Normalize(t *testing.T) {
	s := DailySeries{
		Site:     "1001",
		Variable: "AQI",
		Rows: []DailyObservation{
			{Date: day(3), Value: 30},
			{Date: day(1), Value: 10},
			{Date: day(2), Value: 20},
			{Date: day(1), Value: 99}, // duplicate date, dropped
		},
	}

	got := s.Normalize()

	require.Len(t, got.Rows, 3)
	assert.Equal(t, []float64{10, 20, 30}, got.Values())
	// Input is untouched.
	assert.Equal(t, 30.0, s.Rows[0].Value)
}

func TestDailySeries_DropResidual(t *testing.T) {
	s := DailySeries{
		Rows:        []DailyObservation{{Date: day(1), Value: 1, Residual: 0.5}},
		HasResidual: true,
	}

	got := s.DropResidual()

	assert.False(t, got.HasResidual)
	assert.True(t, IsMissing(got.Rows[0].Residual))
	assert.Equal(t, 0.5, s.Rows[0].Residual)
}

func TestHourlySeries_Normalize(t *testing.T) {
	s := HourlySeries{Rows: []HourlyObservation{
		{Date: day(2), TimeOfDay: "00:00", Value: 3},
		{Date: day(1), TimeOfDay: "01:00", Value: 2},
		{Date: day(1), TimeOfDay: "00:00", Value: 1},
		{Date: day(1), TimeOfDay: "01:00", Value: 9},
	}}

	got := s.Normalize()

	want := []HourlyObservation{
		{Date: day(1), TimeOfDay: "00:00", Value: 1},
		{Date: day(1), TimeOfDay: "01:00", Value: 2},
		{Date: day(2), TimeOfDay: "00:00", Value: 3},
	}
	if diff := cmp.Diff(want, got.Rows); diff != "" {
		t.Fatalf("normalized rows mismatch (-want +got):\n%s", diff)
	}
}

func TestPartitionBySite(t *testing.T) {
	rows := []SiteObservation{
		{Site: "b", Date: day(1), Value: 1},
		{Site: "a", Date: day(1), Value: 2},
		{Site: "b", Date: day(2), Value: 3},
		{Site: "c", Date: day(1), Value: 4},
		{Site: "a", Date: day(2), Value: 5},
	}

	groups := PartitionBySite(rows)

	require.Len(t, groups, 3)
	assert.Equal(t, SiteID("b"), groups[0].Site)
	assert.Equal(t, []float64{1, 3}, groups[0].Values())
	assert.Equal(t, SiteID("a"), groups[1].Site)
	assert.Equal(t, []float64{2, 5}, groups[1].Values())
	assert.Equal(t, SiteID("c"), groups[2].Site)

	total := 0
	for _, g := range groups {
		total += len(g.Rows)
	}
	assert.Equal(t, len(rows), total)
}

func TestPartitionBySite_Empty(t *testing.T) {
	assert.Empty(t, PartitionBySite(nil))
}

func TestDateRange(t *testing.T) {
	t.Run("open range contains everything", func(t *testing.T) {
		r, err := NewDateRange("", "")
		require.NoError(t, err)
		assert.True(t, r.IsOpen())
		assert.True(t, r.Contains(day(15)))
	})

	t.Run("inclusive bounds", func(t *testing.T) {
		r, err := NewDateRange("2024-01-02", "2024-01-04")
		require.NoError(t, err)
		assert.False(t, r.Contains(day(1)))
		assert.True(t, r.Contains(day(2)))
		assert.True(t, r.Contains(day(4)))
		assert.False(t, r.Contains(day(5)))
		assert.Equal(t, "2024-01-02..2024-01-04", r.String())
	})

	t.Run("single day", func(t *testing.T) {
		_, err := NewDateRange("2024-01-02", "2024-01-02")
		require.NoError(t, err)
	})

	t.Run("inverted range fails", func(t *testing.T) {
		_, err := NewDateRange("2024-02-01", "2024-01-01")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidRange))
	})

	t.Run("unparseable bound fails", func(t *testing.T) {
		_, err := NewDateRange("01/02/2024", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidRange)
		assert.Contains(t, err.Error(), "start_date")
	})

	t.Run("filter daily", func(t *testing.T) {
		r, err := NewDateRange("2024-01-02", "")
		require.NoError(t, err)
		s := DailySeries{Rows: []DailyObservation{{Date: day(1)}, {Date: day(2)}, {Date: day(3)}}}
		assert.Len(t, r.FilterDaily(s).Rows, 2)
		assert.Len(t, s.Rows, 3)
	})

	t.Run("filter site rows", func(t *testing.T) {
		r, err := NewDateRange("", "2024-01-01")
		require.NoError(t, err)
		rows := []SiteObservation{{Date: day(1)}, {Date: day(2)}}
		assert.Len(t, r.FilterSite(rows), 1)
	})
}

func TestRun(t *testing.T) {
	start := time.Date(2024, time.April, 26, 15, 0, 0, 0, time.UTC)
	fake := clockwork.NewFakeClockAt(start)
	SetClock(fake)
	t.Cleanup(func() { SetClock(nil) })

	run := NewRun(DetectorDBSCAN, "CO", DateRange{})
	assert.Equal(t, start, run.StartedAt)
	assert.NotEqual(t, [16]byte{}, [16]byte(run.ID))
	assert.Zero(t, run.Duration())

	fake.Advance(3 * time.Second)
	run = run.Finish([]Verdict{Flagged("1", DetectorDBSCAN), Clean("2", DetectorDBSCAN)})

	assert.Equal(t, 3*time.Second, run.Duration())
	assert.Equal(t, 1, run.Flagged())
}

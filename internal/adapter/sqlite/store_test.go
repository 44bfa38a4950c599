package sqlite

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fakeClock(t *testing.T) *clockwork.FakeClock {
	t.Helper()
	fake := clockwork.NewFakeClockAt(time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })
	return fake
}

func finishedRun(fake *clockwork.FakeClock, d domain.Detector, variable string, r domain.DateRange, verdicts ...domain.Verdict) domain.Run {
	run := domain.NewRun(d, variable, r)
	fake.Advance(1500 * time.Millisecond)
	return run.Finish(verdicts)
}

func TestStore_RoundTrip(t *testing.T) {
	fake := fakeClock(t)
	s := openTestStore(t)
	ctx := context.Background()

	r, err := domain.NewDateRange("2020-01-01", "2020-06-30")
	require.NoError(t, err)
	run := finishedRun(fake, domain.DetectorDailySpline, "AQI", r,
		domain.Clean("20", domain.DetectorDailySpline),
		domain.Flagged("10", domain.DetectorDailySpline),
		domain.Insufficient("30", domain.DetectorDailySpline),
	)
	require.NoError(t, s.PublishRun(ctx, run))

	got, err := s.LatestRun(ctx, domain.DetectorDailySpline, "AQI")
	require.NoError(t, err)

	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, run.Range, got.Range)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.True(t, run.FinishedAt.Equal(got.FinishedAt))
	assert.Equal(t, 1500*time.Millisecond, got.Duration())
	assert.Equal(t, run.Verdicts, got.Verdicts)
	assert.Equal(t, 1, got.Flagged())
}

func TestStore_LatestRunPicksNewest(t *testing.T) {
	fake := fakeClock(t)
	s := openTestStore(t)
	ctx := context.Background()

	first := finishedRun(fake, domain.DetectorDBSCAN, "CO", domain.DateRange{}, domain.Clean("1", domain.DetectorDBSCAN))
	second := finishedRun(fake, domain.DetectorDBSCAN, "CO", domain.DateRange{}, domain.Flagged("1", domain.DetectorDBSCAN))
	other := finishedRun(fake, domain.DetectorDBSCAN, "SO2", domain.DateRange{})
	for _, run := range []domain.Run{first, second, other} {
		require.NoError(t, s.PublishRun(ctx, run))
	}

	got, err := s.LatestRun(ctx, domain.DetectorDBSCAN, "CO")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.True(t, got.Range.IsOpen())
	require.Len(t, got.Verdicts, 1)
	assert.Equal(t, -1, got.Verdicts[0].Outlier)

	got, err = s.LatestRun(ctx, domain.DetectorDBSCAN, "SO2")
	require.NoError(t, err)
	assert.Empty(t, got.Verdicts)
}

func TestStore_LatestRunNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LatestRun(context.Background(), domain.DetectorHourlySpline, "NO2")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestStore_PrunesBeyondRetention(t *testing.T) {
	fake := fakeClock(t)
	s := openTestStore(t)
	s.keep = 2
	ctx := context.Background()

	var last domain.Run
	for range 4 {
		last = finishedRun(fake, domain.DetectorDailySpline, "AQI", domain.DateRange{}, domain.Clean("1", domain.DetectorDailySpline))
		require.NoError(t, s.PublishRun(ctx, last))
	}

	var runs, verdicts int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM runs").Scan(&runs))
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM verdicts").Scan(&verdicts))
	assert.Equal(t, 2, runs)
	assert.Equal(t, 2, verdicts)

	got, err := s.LatestRun(ctx, domain.DetectorDailySpline, "AQI")
	require.NoError(t, err)
	assert.Equal(t, last.ID, got.ID)
}

func TestOpen_ReappliesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	s, err := Open(ctx, path, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, slog.Default())
	require.NoError(t, err)
	defer s.Close()

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
	assert.Equal(t, "sqlite", s.Name())
}

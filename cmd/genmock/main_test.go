package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allison-weber/EPAnomoly/internal/adapter/filestore"
	"github.com/allison-weber/EPAnomoly/internal/domain"
)

func TestGenerate(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(fixedNow))
	t.Cleanup(func() { domain.SetClock(nil) })

	dir := t.TempDir()
	m, err := generate(options{
		out:        dir,
		sites:      3,
		days:       40,
		hourlyDays: 6,
		variables:  []string{"AQI", "CO"},
		spikeRate:  1,
		seed:       7,
	})
	require.NoError(t, err)

	require.Len(t, m.Sites, 3)
	assert.Len(t, m.Spikes, 6)

	ctx := context.Background()
	store := filestore.New(dir, slog.Default())

	vars, err := store.Variables(ctx, domain.Daily)
	require.NoError(t, err)
	assert.Equal(t, []string{"AQI", "CO"}, vars)

	sites, err := store.Sites(ctx, domain.Daily, "AQI")
	require.NoError(t, err)
	assert.ElementsMatch(t, m.Sites, sites)

	s, err := store.LoadDaily(ctx, m.Sites[0], "AQI")
	require.NoError(t, err)
	require.Len(t, s.Rows, 40)
	assert.Equal(t, "2024-04-27", s.Rows[39].Date.Format(domain.DateLayout))

	h, err := store.LoadHourly(ctx, m.Sites[0], "AQI")
	require.NoError(t, err)
	assert.NotEmpty(t, h.Rows)

	combined, err := store.LoadCombined(ctx, "CO")
	require.NoError(t, err)
	assert.NotEmpty(t, combined)
}

func TestGenerate_Reproducible(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(fixedNow))
	t.Cleanup(func() { domain.SetClock(nil) })

	opts := options{sites: 2, days: 30, hourlyDays: 2, variables: []string{"AQI"}, spikeRate: 0.5, seed: 3}
	opts.out = t.TempDir()
	a, err := generate(opts)
	require.NoError(t, err)
	opts.out = t.TempDir()
	b, err := generate(opts)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestGenerate_RejectsEmpty(t *testing.T) {
	_, err := generate(options{out: t.TempDir(), sites: 0, days: 10})
	require.Error(t, err)
}

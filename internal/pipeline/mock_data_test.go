package pipeline_test

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

// fakeStore is an in-memory pipeline.Store.
type fakeStore struct {
	mu       sync.Mutex
	daily    map[string]domain.DailySeries
	hourly   map[string]domain.HourlySeries
	combined map[string][]domain.SiteObservation
	saves    int
	panicOn  domain.SiteID
	saveErr  error

	// afterLoadDaily and afterLoadHourly run once a series has been read,
	// outside the lock.
	afterLoadDaily  func()
	afterLoadHourly func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		daily:    make(map[string]domain.DailySeries),
		hourly:   make(map[string]domain.HourlySeries),
		combined: make(map[string][]domain.SiteObservation),
	}
}

func key(site domain.SiteID, variable string) string {
	return string(site) + "/" + variable
}

func (f *fakeStore) addDaily(s domain.DailySeries) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.daily[key(s.Site, s.Variable)] = s
}

func (f *fakeStore) addHourly(s domain.HourlySeries) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hourly[key(s.Site, s.Variable)] = s
}

func (f *fakeStore) Variables(_ context.Context, freq domain.Frequency) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	add := func(v string) {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	if freq == domain.Hourly {
		for _, s := range f.hourly {
			add(s.Variable)
		}
	} else {
		for _, s := range f.daily {
			add(s.Variable)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (f *fakeStore) Sites(_ context.Context, _ domain.Frequency, variable string) ([]domain.SiteID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SiteID
	for _, s := range f.daily {
		if s.Variable == variable {
			out = append(out, s.Site)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (f *fakeStore) LoadDaily(_ context.Context, site domain.SiteID, variable string) (domain.DailySeries, error) {
	if site == f.panicOn {
		panic("corrupt series")
	}
	f.mu.Lock()
	s, ok := f.daily[key(site, variable)]
	f.mu.Unlock()
	if !ok {
		return domain.DailySeries{}, fmt.Errorf("%w: %s", domain.ErrSiteNotFound, site)
	}
	if f.afterLoadDaily != nil {
		f.afterLoadDaily()
	}
	return s.Clone(), nil
}

func (f *fakeStore) LoadHourly(_ context.Context, site domain.SiteID, variable string) (domain.HourlySeries, error) {
	f.mu.Lock()
	s, ok := f.hourly[key(site, variable)]
	f.mu.Unlock()
	if !ok {
		return domain.HourlySeries{}, fmt.Errorf("%w: %s", domain.ErrSiteNotFound, site)
	}
	if f.afterLoadHourly != nil {
		f.afterLoadHourly()
	}
	return s, nil
}

func (f *fakeStore) LoadCombined(_ context.Context, variable string) ([]domain.SiteObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.combined[variable], nil
}

func (f *fakeStore) UpdateDaily(
	_ context.Context,
	site domain.SiteID,
	variable string,
	update func(domain.DailySeries) (domain.DailySeries, bool),
) error {
	if site == f.panicOn {
		panic("corrupt series")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.daily[key(site, variable)]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSiteNotFound, site)
	}
	next, changed := update(cur.Clone())
	if !changed {
		return nil
	}
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.daily[key(site, variable)] = next.Clone()
	return nil
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeStore) stored(site domain.SiteID, variable string) domain.DailySeries {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.daily[key(site, variable)]
}

// --- series builders ---

var epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

func dailySeries(site domain.SiteID, variable string, values []float64) domain.DailySeries {
	s := domain.DailySeries{Site: site, Variable: variable}
	for i, v := range values {
		s.Rows = append(s.Rows, domain.DailyObservation{
			Date:      epoch.AddDate(0, 0, i),
			Value:     v,
			Residual:  domain.Missing(),
			HourlyMSE: domain.Missing(),
		})
	}
	return s
}

// spikeValues repeats a calm weekly pattern with one extreme reading at index 4.
func spikeValues(n int) []float64 {
	base := []float64{10, 12, 11, 13, 12, 11, 10, 13, 12, 11}
	values := make([]float64, n)
	for i := range values {
		values[i] = base[i%len(base)]
	}
	values[4] = 200
	return values
}

func smoothValues(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = 40 + 10*math.Sin(float64(i)/9) + float64(i%5)
	}
	return values
}

func hourlySeries(site domain.SiteID, variable string, days int) domain.HourlySeries {
	s := domain.HourlySeries{Site: site, Variable: variable}
	for d := 0; d < days; d++ {
		hours := 24
		if d%7 == 3 {
			hours = 12
		}
		for h := 0; h < hours; h++ {
			s.Rows = append(s.Rows, domain.HourlyObservation{
				Date:      epoch.AddDate(0, 0, d),
				TimeOfDay: fmt.Sprintf("%02d:00", h),
				Value:     20 + 5*math.Sin(float64(h)/4) + float64((h+d)%3),
			})
		}
	}
	return s
}

func combinedRows(site domain.SiteID, values []float64) []domain.SiteObservation {
	rows := make([]domain.SiteObservation, len(values))
	for i, v := range values {
		rows[i] = domain.SiteObservation{Site: site, Date: epoch.AddDate(0, 0, i), Value: v}
	}
	return rows
}

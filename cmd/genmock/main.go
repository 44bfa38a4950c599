// Command genmock writes a synthetic partitioned store with injected spikes
// for local runs of the detectors and for the integration suite.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -sites 12 -days 365 -variables AQI,CO
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/allison-weber/EPAnomoly/internal/adapter/filestore"
	"github.com/allison-weber/EPAnomoly/internal/domain"
)

// fixedNow anchors the generated calendar so output is reproducible.
var fixedNow = time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC)

type options struct {
	out        string
	sites      int
	days       int
	hourlyDays int
	variables  []string
	spikeRate  float64
	seed       uint64
}

// spike records one injected anomaly.
type spike struct {
	Site     domain.SiteID `json:"site_id"`
	Variable string        `json:"variable"`
	Date     string        `json:"date"`
	Value    float64       `json:"value"`
}

type manifest struct {
	Sites     []domain.SiteID `json:"sites"`
	Variables []string        `json:"variables"`
	Days      int             `json:"days"`
	Spikes    []spike         `json:"spikes"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var opts options
	var variables string
	flag.StringVar(&opts.out, "out", "", "root directory of the generated store")
	flag.IntVar(&opts.sites, "sites", 8, "number of sites")
	flag.IntVar(&opts.days, "days", 365, "days of daily data per site")
	flag.IntVar(&opts.hourlyDays, "hourly-days", 30, "days of hourly data per site")
	flag.StringVar(&variables, "variables", "AQI,CO", "comma-separated variable names")
	flag.Float64Var(&opts.spikeRate, "spike-rate", 0.25, "fraction of site series that receive one spike")
	flag.Uint64Var(&opts.seed, "seed", 1, "random seed")
	flag.Parse()

	if opts.out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	for _, v := range strings.Split(variables, ",") {
		if v = strings.TrimSpace(v); v != "" {
			opts.variables = append(opts.variables, v)
		}
	}

	domain.SetClock(clockwork.NewFakeClockAt(fixedNow))
	defer domain.SetClock(nil)

	m, err := generate(opts)
	if err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(opts.out, "manifest.json"), m); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	log.Printf("wrote %d sites x %d variables to %s", len(m.Sites), len(m.Variables), opts.out)

	printStats(m)
	return nil
}

// generate writes daily, hourly, and combined files for every site and
// variable and returns what it injected.
func generate(opts options) (manifest, error) {
	if opts.sites < 1 || opts.days < 1 {
		return manifest{}, fmt.Errorf("sites and days must be positive")
	}
	store := filestore.New(opts.out, slog.New(slog.DiscardHandler))
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))

	end := domain.Now().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -opts.days+1)

	m := manifest{Variables: opts.variables, Days: opts.days}
	for i := range opts.sites {
		m.Sites = append(m.Sites, domain.NewSiteID(
			fmt.Sprintf("%02d", 1+i%50),
			fmt.Sprintf("%03d", 1+2*i),
			fmt.Sprintf("%04d", 1000+i),
		))
	}

	for _, variable := range opts.variables {
		var combined []domain.SiteObservation
		for _, site := range m.Sites {
			level := 20 + 30*rng.Float64()
			daily := domain.DailySeries{Site: site, Variable: variable}
			for d := range opts.days {
				date := start.AddDate(0, 0, d)
				v := level + 0.3*level*math.Sin(2*math.Pi*float64(d)/365) + rng.NormFloat64()
				if rng.Float64() < 0.02 {
					v = domain.Missing()
				}
				daily.Rows = append(daily.Rows, domain.DailyObservation{
					Date: date, Value: round(v), Residual: domain.Missing(), HourlyMSE: domain.Missing(),
				})
			}
			if rng.Float64() < opts.spikeRate {
				idx := rng.IntN(opts.days)
				daily.Rows[idx].Value = round(level * 12)
				m.Spikes = append(m.Spikes, spike{
					Site: site, Variable: variable,
					Date:  daily.Rows[idx].Date.Format(domain.DateLayout),
					Value: daily.Rows[idx].Value,
				})
			}
			for _, r := range daily.Rows {
				if !domain.IsMissing(r.Value) {
					combined = append(combined, domain.SiteObservation{Site: site, Date: r.Date, Value: r.Value})
				}
			}
			if err := store.SaveDaily(context.Background(), daily); err != nil {
				return manifest{}, fmt.Errorf("save daily %s %s: %w", site, variable, err)
			}
			if err := store.SaveHourly(hourlySeries(rng, site, variable, end, opts.hourlyDays, level)); err != nil {
				return manifest{}, fmt.Errorf("save hourly %s %s: %w", site, variable, err)
			}
		}
		sort.SliceStable(combined, func(i, j int) bool { return combined[i].Date.Before(combined[j].Date) })
		if err := store.SaveCombined(variable, combined); err != nil {
			return manifest{}, fmt.Errorf("save combined %s: %w", variable, err)
		}
	}
	return m, nil
}

// hourlySeries builds days ending at end. Every fifth day is cut short and
// a few hours go missing so both hourly basis paths are exercised.
func hourlySeries(rng *rand.Rand, site domain.SiteID, variable string, end time.Time, days int, level float64) domain.HourlySeries {
	s := domain.HourlySeries{Site: site, Variable: variable}
	for d := range days {
		date := end.AddDate(0, 0, -days+1+d)
		hours := 24
		if d%5 == 2 {
			hours = 10 + rng.IntN(10)
		}
		for h := range hours {
			v := level + 0.2*level*math.Sin(2*math.Pi*float64(h)/24) + 0.5*rng.NormFloat64()
			if rng.Float64() < 0.01 {
				continue
			}
			s.Rows = append(s.Rows, domain.HourlyObservation{
				Date:      date,
				TimeOfDay: fmt.Sprintf("%02d:00", h),
				Value:     round(v),
			})
		}
	}
	return s
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(m manifest) {
	perVariable := map[string]int{}
	for _, s := range m.Spikes {
		perVariable[s.Variable]++
	}

	fmt.Println("\n=== Injected spikes ===")
	fmt.Printf("Sites: %d, days: %d\n", len(m.Sites), m.Days)
	for _, v := range m.Variables {
		fmt.Printf("  %-12s %d\n", v, perVariable[v])
	}
}

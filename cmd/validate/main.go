// Command validate checks the integrity invariants of a partitioned store:
// unique ascending dates per daily file, unique (date, time) pairs per
// hourly file, combined files that list exactly the per-site sites, and no
// temp files left behind by interrupted writes.
//
// Usage:
//
//	go run ./cmd/validate -data-dir data
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/allison-weber/EPAnomoly/internal/adapter/filestore"
	"github.com/allison-weber/EPAnomoly/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", "", "root of the partitioned store")
	flag.Parse()

	if *dataDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(context.Background(), *dataDir, os.Stdout); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context, dataDir string, out io.Writer) int {
	store := filestore.New(dataDir, slog.New(slog.DiscardHandler))

	fmt.Fprintln(out, "=== Partitioned Store Validation ===")
	fmt.Fprintln(out)

	dailyVars, err := store.Variables(ctx, domain.Daily)
	if err != nil {
		fmt.Fprintf(out, "FATAL: list daily variables: %v\n", err)
		return 1
	}
	hourlyVars, err := store.Variables(ctx, domain.Hourly)
	if err != nil {
		fmt.Fprintf(out, "FATAL: list hourly variables: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateDaily(ctx, store, dailyVars),
		validateHourly(ctx, store, hourlyVars),
		validateCombined(ctx, store, dailyVars),
		validateNoTempFiles(dataDir),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Variables: %d daily, %d hourly\n", len(dailyVars), len(hourlyVars))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

// ── Phases ──

func validateDaily(ctx context.Context, store *filestore.Store, variables []string) *phase {
	p := &phase{name: "Daily files: unique ascending dates"}
	for _, variable := range variables {
		sites, err := store.Sites(ctx, domain.Daily, variable)
		if err != nil {
			p.errorf("%s: list sites: %v", variable, err)
			continue
		}
		for _, site := range sites {
			path := store.DailyPath(site, variable)
			header, rows, err := loadCSV(path)
			if err != nil {
				p.errorf("%s: %v", path, err)
				continue
			}
			dateCol := slices.Index(header, domain.ColumnDate)
			if dateCol < 0 {
				p.errorf("%s: missing %q column", path, domain.ColumnDate)
				continue
			}
			derived := derivedColumns(header)

			prev := ""
			for i, row := range rows {
				line := i + 2
				date, err := domain.ParseDate(field(row, dateCol))
				if err != nil {
					p.errorf("%s:%d: %v", path, line, err)
					continue
				}
				key := date.Format(domain.DateLayout)
				if prev != "" && key <= prev {
					p.errorf("%s:%d: date %s not after %s", path, line, key, prev)
				}
				prev = key
				for _, col := range derived {
					if _, err := domain.ParseValue(field(row, col)); err != nil {
						p.errorf("%s:%d: %s: %v", path, line, header[col], err)
					}
				}
			}
		}
	}
	return p
}

func validateHourly(ctx context.Context, store *filestore.Store, variables []string) *phase {
	p := &phase{name: "Hourly files: unique (date, time) pairs"}
	for _, variable := range variables {
		sites, err := store.Sites(ctx, domain.Hourly, variable)
		if err != nil {
			p.errorf("%s: list sites: %v", variable, err)
			continue
		}
		for _, site := range sites {
			path := store.HourlyPath(site, variable)
			header, rows, err := loadCSV(path)
			if err != nil {
				p.errorf("%s: %v", path, err)
				continue
			}
			dateCol := slices.Index(header, domain.ColumnDate)
			timeCol := slices.Index(header, domain.ColumnTime)
			if dateCol < 0 || timeCol < 0 {
				p.errorf("%s: missing %q or %q column", path, domain.ColumnDate, domain.ColumnTime)
				continue
			}

			seen := make(map[string]int, len(rows))
			for i, row := range rows {
				line := i + 2
				date, err := domain.ParseDate(field(row, dateCol))
				if err != nil {
					p.errorf("%s:%d: %v", path, line, err)
					continue
				}
				tod, err := domain.ParseTimeOfDay(field(row, timeCol))
				if err != nil {
					p.errorf("%s:%d: %v", path, line, err)
					continue
				}
				key := date.Format(domain.DateLayout) + " " + tod
				if first, dup := seen[key]; dup {
					p.errorf("%s:%d: duplicate reading %s (first on line %d)", path, line, key, first)
					continue
				}
				seen[key] = line
			}
		}
	}
	return p
}

func validateCombined(ctx context.Context, store *filestore.Store, variables []string) *phase {
	p := &phase{name: "Combined files: site lists match per-site"}
	for _, variable := range variables {
		sites, err := store.Sites(ctx, domain.Daily, variable)
		if err != nil {
			p.errorf("%s: list sites: %v", variable, err)
			continue
		}
		rows, err := store.LoadCombined(ctx, variable)
		if err != nil {
			p.errorf("%s: %v", variable, err)
			continue
		}

		inCombined := map[domain.SiteID]bool{}
		seen := map[string]bool{}
		for _, r := range rows {
			inCombined[r.Site] = true
			key := string(r.Site) + "@" + r.Date.Format(domain.DateLayout)
			if seen[key] {
				p.errorf("%s: duplicate combined row for site %s on %s", variable, r.Site, r.Date.Format(domain.DateLayout))
			}
			seen[key] = true
		}
		for _, site := range sites {
			if !inCombined[site] {
				p.errorf("%s: site %s has a daily file but no combined rows", variable, site)
			}
			delete(inCombined, site)
		}
		extra := make([]string, 0, len(inCombined))
		for site := range inCombined {
			extra = append(extra, string(site))
		}
		slices.Sort(extra)
		for _, site := range extra {
			p.errorf("%s: site %s is in the combined file but has no daily file", variable, site)
		}
	}
	return p
}

func validateNoTempFiles(root string) *phase {
	p := &phase{name: "No leftover temp files"}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), ".") && strings.HasSuffix(d.Name(), ".tmp") {
			p.errorf("%s: interrupted write", path)
		}
		return nil
	})
	if err != nil {
		p.errorf("walk %s: %v", root, err)
	}
	return p
}

// ── Helpers ──

func loadCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("empty file")
	}
	header := all[0]
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	return header, all[1:], nil
}

func derivedColumns(header []string) []int {
	var cols []int
	for i, h := range header {
		if h == domain.ColumnResidual || h == domain.ColumnHourlyMSE {
			cols = append(cols, i)
		}
	}
	return cols
}

func field(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

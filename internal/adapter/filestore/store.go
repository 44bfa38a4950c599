// Package filestore reads and writes the partitioned per-site CSV layout:
//
//	<root>/daily/sites/<site_id>/<variable>.csv
//	<root>/hourly/sites/<site_id>/<variable>.csv
//	<root>/daily/<variable>/combined.csv
package filestore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

const (
	sitesDir     = "sites"
	combinedFile = "combined.csv"
	ext          = ".csv"

	lockRetryDelay = 25 * time.Millisecond
)

var errInvalidName = errors.New("invalid path component")

// Store is a pipeline.Store over a directory tree.
type Store struct {
	root   string
	logger *slog.Logger
}

// New returns a Store rooted at dir.
func New(dir string, logger *slog.Logger) *Store {
	return &Store{root: dir, logger: logger}
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Variables lists the variables that have at least one per-site file.
func (s *Store) Variables(_ context.Context, freq domain.Frequency) ([]string, error) {
	siteDirs, err := s.siteDirs(freq)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, dir := range siteDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ext) {
				continue
			}
			v := strings.TrimSuffix(name, ext)
			if !slices.Contains(out, v) {
				out = append(out, v)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

// Sites lists the sites with a file for variable, sorted by id.
func (s *Store) Sites(_ context.Context, freq domain.Frequency, variable string) ([]domain.SiteID, error) {
	if err := checkName(variable); err != nil {
		return nil, err
	}
	siteDirs, err := s.siteDirs(freq)
	if err != nil {
		return nil, err
	}
	var out []domain.SiteID
	for _, dir := range siteDirs {
		if _, err := os.Stat(filepath.Join(dir, variable+ext)); err == nil {
			out = append(out, domain.SiteID(filepath.Base(dir)))
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) siteDirs(freq domain.Frequency) ([]string, error) {
	base := filepath.Join(s.root, string(freq), sitesDir)
	entries, err := os.ReadDir(base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", base, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(base, e.Name()))
		}
	}
	return out, nil
}

// DailyPath is the per-site daily file of variable.
func (s *Store) DailyPath(site domain.SiteID, variable string) string {
	return filepath.Join(s.root, string(domain.Daily), sitesDir, string(site), variable+ext)
}

// HourlyPath is the per-site hourly file of variable.
func (s *Store) HourlyPath(site domain.SiteID, variable string) string {
	return filepath.Join(s.root, string(domain.Hourly), sitesDir, string(site), variable+ext)
}

// CombinedPath is the all-sites daily file of variable.
func (s *Store) CombinedPath(variable string) string {
	return filepath.Join(s.root, string(domain.Daily), variable, combinedFile)
}

// LoadDaily reads a daily series. Rows are sorted by date and only the first
// row of a repeated date is kept.
func (s *Store) LoadDaily(_ context.Context, site domain.SiteID, variable string) (domain.DailySeries, error) {
	if err := checkNames(string(site), variable); err != nil {
		return domain.DailySeries{}, err
	}
	path := s.DailyPath(site, variable)
	header, records, err := readCSV(path)
	if err != nil {
		return domain.DailySeries{}, notFound(err, site, variable)
	}

	cols := indexColumns(header)
	dateCol, ok := cols[domain.ColumnDate]
	if !ok {
		return domain.DailySeries{}, fmt.Errorf("%s: missing %q column", path, domain.ColumnDate)
	}
	valueCol := valueColumn(header, variable)
	if valueCol < 0 {
		return domain.DailySeries{}, fmt.Errorf("%s: no value column", path)
	}
	resCol, hasRes := cols[domain.ColumnResidual]
	mseCol, hasMSE := cols[domain.ColumnHourlyMSE]

	out := domain.DailySeries{Site: site, Variable: variable, HasResidual: hasRes, HasHourlyMSE: hasMSE}
	out.Rows = make([]domain.DailyObservation, 0, len(records))
	for i, rec := range records {
		date, err := domain.ParseDate(rec[dateCol])
		if err != nil {
			return domain.DailySeries{}, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		row := domain.DailyObservation{
			Date:      date,
			Value:     s.cell(path, i, rec, valueCol),
			Residual:  domain.Missing(),
			HourlyMSE: domain.Missing(),
		}
		if hasRes {
			row.Residual = s.cell(path, i, rec, resCol)
		}
		if hasMSE {
			row.HourlyMSE = s.cell(path, i, rec, mseCol)
		}
		out.Rows = append(out.Rows, row)
	}
	return out.Normalize(), nil
}

// LoadHourly reads an hourly series ordered by date and time.
func (s *Store) LoadHourly(_ context.Context, site domain.SiteID, variable string) (domain.HourlySeries, error) {
	if err := checkNames(string(site), variable); err != nil {
		return domain.HourlySeries{}, err
	}
	path := s.HourlyPath(site, variable)
	header, records, err := readCSV(path)
	if err != nil {
		return domain.HourlySeries{}, notFound(err, site, variable)
	}

	cols := indexColumns(header)
	dateCol, okDate := cols[domain.ColumnDate]
	timeCol, okTime := cols[domain.ColumnTime]
	if !okDate || !okTime {
		return domain.HourlySeries{}, fmt.Errorf("%s: missing %q or %q column", path, domain.ColumnDate, domain.ColumnTime)
	}
	valueCol := valueColumn(header, variable)
	if valueCol < 0 {
		return domain.HourlySeries{}, fmt.Errorf("%s: no value column", path)
	}

	out := domain.HourlySeries{Site: site, Variable: variable}
	out.Rows = make([]domain.HourlyObservation, 0, len(records))
	for i, rec := range records {
		date, err := domain.ParseDate(rec[dateCol])
		if err != nil {
			return domain.HourlySeries{}, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		tod, err := domain.ParseTimeOfDay(rec[timeCol])
		if err != nil {
			return domain.HourlySeries{}, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		out.Rows = append(out.Rows, domain.HourlyObservation{
			Date:      date,
			TimeOfDay: tod,
			Value:     s.cell(path, i, rec, valueCol),
		})
	}
	return out.Normalize(), nil
}

// LoadCombined reads the all-sites daily dataset of variable in file order.
func (s *Store) LoadCombined(_ context.Context, variable string) ([]domain.SiteObservation, error) {
	if err := checkName(variable); err != nil {
		return nil, err
	}
	path := s.CombinedPath(variable)
	header, records, err := readCSV(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no combined data for %s", domain.ErrSiteNotFound, variable)
		}
		return nil, err
	}

	cols := indexColumns(header)
	dateCol, okDate := cols[domain.ColumnDate]
	siteCol, okSite := cols[domain.ColumnSiteID]
	if !okDate || !okSite {
		return nil, fmt.Errorf("%s: missing %q or %q column", path, domain.ColumnDate, domain.ColumnSiteID)
	}
	valueCol, ok := cols[domain.ValueColumn(variable)]
	if !ok {
		valueCol = valueColumn(header, variable)
	}
	if valueCol < 0 {
		return nil, fmt.Errorf("%s: no value column", path)
	}

	out := make([]domain.SiteObservation, 0, len(records))
	for i, rec := range records {
		date, err := domain.ParseDate(rec[dateCol])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		out = append(out, domain.SiteObservation{
			Site:  domain.SiteID(strings.TrimSpace(rec[siteCol])),
			Date:  date,
			Value: s.cell(path, i, rec, valueCol),
		})
	}
	return out, nil
}

// SaveDaily replaces the per-site daily file of s. The write holds an
// exclusive lock on a sidecar lock file and lands through a rename, so a
// reader sees either the old file or the new one.
func (s *Store) SaveDaily(ctx context.Context, series domain.DailySeries) error {
	if err := checkNames(string(series.Site), series.Variable); err != nil {
		return err
	}
	path := s.DailyPath(series.Site, series.Variable)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create site dir: %w", err)
	}

	return s.withLock(ctx, path, func() error {
		return writeFileAtomic(path, func(w io.Writer) error {
			return encodeDaily(w, series)
		})
	})
}

// UpdateDaily reads the stored daily series of site and variable, hands it to
// update, and writes the result back when update reports a change. The file
// lock is held from the read to the rename, so updates of different derived
// columns never overwrite each other with stale copies.
//
// update is not called when the series cannot be read.
func (s *Store) UpdateDaily(
	ctx context.Context,
	site domain.SiteID,
	variable string,
	update func(domain.DailySeries) (domain.DailySeries, bool),
) error {
	if err := checkNames(string(site), variable); err != nil {
		return err
	}
	path := s.DailyPath(site, variable)
	if _, err := os.Stat(path); err != nil {
		return notFound(err, site, variable)
	}

	return s.withLock(ctx, path, func() error {
		cur, err := s.LoadDaily(ctx, site, variable)
		if err != nil {
			return err
		}
		next, changed := update(cur)
		if !changed {
			return nil
		}
		next.Site, next.Variable = site, variable
		return writeFileAtomic(path, func(w io.Writer) error {
			return encodeDaily(w, next)
		})
	})
}

// withLock runs fn while holding the sidecar lock of path.
func (s *Store) withLock(ctx context.Context, path string, fn func() error) error {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", path)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("release file lock failed", "path", path, "error", err)
		}
	}()
	return fn()
}

// SaveHourly writes a per-site hourly file. Used by tooling that builds stores.
func (s *Store) SaveHourly(series domain.HourlySeries) error {
	if err := checkNames(string(series.Site), series.Variable); err != nil {
		return err
	}
	path := s.HourlyPath(series.Site, series.Variable)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create site dir: %w", err)
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{domain.ColumnDate, domain.ColumnTime, series.Variable}); err != nil {
			return err
		}
		for _, r := range series.Rows {
			rec := []string{r.Date.Format(domain.DateLayout), r.TimeOfDay, domain.FormatValue(r.Value)}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// SaveCombined writes the all-sites daily file of variable.
func (s *Store) SaveCombined(variable string, rows []domain.SiteObservation) error {
	if err := checkName(variable); err != nil {
		return err
	}
	path := s.CombinedPath(variable)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create variable dir: %w", err)
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{domain.ColumnDate, domain.ColumnSiteID, domain.ValueColumn(variable)}); err != nil {
			return err
		}
		for _, r := range rows {
			rec := []string{r.Date.Format(domain.DateLayout), string(r.Site), domain.FormatValue(r.Value)}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func encodeDaily(w io.Writer, s domain.DailySeries) error {
	header := []string{domain.ColumnDate, s.Variable}
	if s.HasResidual {
		header = append(header, domain.ColumnResidual)
	}
	if s.HasHourlyMSE {
		header = append(header, domain.ColumnHourlyMSE)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range s.Rows {
		rec := []string{r.Date.Format(domain.DateLayout), domain.FormatValue(r.Value)}
		if s.HasResidual {
			rec = append(rec, domain.FormatValue(r.Residual))
		}
		if s.HasHourlyMSE {
			rec = append(rec, domain.FormatValue(r.HourlyMSE))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// cell parses one numeric cell; unparseable cells are logged and treated as missing.
func (s *Store) cell(path string, row int, rec []string, col int) float64 {
	if col >= len(rec) {
		return domain.Missing()
	}
	v, err := domain.ParseValue(rec[col])
	if err != nil {
		s.logger.Debug("unparseable cell treated as missing", "path", path, "row", row+2, "error", err)
	}
	return v
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("read %s: empty file", path)
	}
	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	return header, records[1:], nil
}

func indexColumns(header []string) map[string]int {
	out := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := out[h]; !dup {
			out[h] = i
		}
	}
	return out
}

// valueColumn finds the measurement column: the variable name, then the AQS
// value column, then the first column that is not a key or derived column.
func valueColumn(header []string, variable string) int {
	for _, name := range []string{variable, domain.ValueColumn(variable), domain.ColumnArithmeticAvg, domain.ColumnAQI} {
		if i := slices.Index(header, name); i >= 0 {
			return i
		}
	}
	for i, h := range header {
		switch h {
		case domain.ColumnDate, domain.ColumnTime, domain.ColumnSiteID, domain.ColumnResidual, domain.ColumnHourlyMSE:
			continue
		}
		return i
	}
	return -1
}

func notFound(err error, site domain.SiteID, variable string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s %s", domain.ErrSiteNotFound, site, variable)
	}
	return err
}

func checkNames(names ...string) error {
	for _, n := range names {
		if err := checkName(n); err != nil {
			return err
		}
	}
	return nil
}

func checkName(n string) error {
	if n == "" || n == "." || n == ".." || strings.ContainsAny(n, `/\`) || strings.ContainsRune(n, 0) {
		return fmt.Errorf("%w: %q", errInvalidName, n)
	}
	return nil
}

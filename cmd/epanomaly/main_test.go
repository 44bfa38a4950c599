package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/allison-weber/EPAnomoly/internal/adapter/filestore"
	"github.com/allison-weber/EPAnomoly/internal/domain"
)

var epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

func dailySeries(site domain.SiteID, values []float64) domain.DailySeries {
	s := domain.DailySeries{Site: site, Variable: "AQI"}
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

// seedStore writes one spiking site, one calm site, and a combined file.
func seedStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store := filestore.New(dir, slog.Default())
	ctx := context.Background()

	base := []float64{10, 12, 11, 13, 12, 11, 10, 13, 12, 11}
	spike := make([]float64, 120)
	calm := make([]float64, 120)
	for i := range spike {
		spike[i] = base[i%len(base)]
		calm[i] = base[i%len(base)]
	}
	spike[4] = 200
	calm[4] = 12

	require.NoError(t, store.SaveDaily(ctx, dailySeries("1001", spike)))
	require.NoError(t, store.SaveDaily(ctx, dailySeries("1002", calm)))

	var combined []domain.SiteObservation
	for i, v := range []float64{3, 4, 4, 6, 6, 6, 100} {
		combined = append(combined, domain.SiteObservation{Site: "1001", Date: epoch.AddDate(0, 0, i), Value: v})
	}
	require.NoError(t, store.SaveCombined("AQI", combined))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDetect_JSON(t *testing.T) {
	dir := seedStore(t)

	out, err := execute(t, "detect", "--data-dir", dir, "-v", "AQI", "-f", "json")
	require.NoError(t, err)

	var verdicts []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &verdicts))
	require.Len(t, verdicts, 2)
	assert.Equal(t, "1001", verdicts[0]["site_id"])
	assert.Equal(t, "Yes", verdicts[0]["Daily spline anomaly detected?"])
	assert.Equal(t, "1002", verdicts[1]["site_id"])
	assert.Equal(t, "No", verdicts[1]["Daily spline anomaly detected?"])
}

func TestDetect_Table(t *testing.T) {
	dir := seedStore(t)

	out, err := execute(t, "detect", "--data-dir", dir, "-v", "AQI", "-d", "DBSCAN")
	require.NoError(t, err)
	assert.Contains(t, out, "DBSCAN anomaly detected?")
	assert.Contains(t, out, "1 sites, 1 flagged")
}

func TestDetect_XLSX(t *testing.T) {
	dir := seedStore(t)
	path := filepath.Join(t.TempDir(), "verdicts.xlsx")

	out, err := execute(t, "detect", "--data-dir", dir, "-v", "AQI", "-f", "xlsx", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 verdicts")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(verdictSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"site_id", "outlier", "Daily spline anomaly detected?"}, rows[0])
	assert.Equal(t, []string{"1001", "1", "Yes"}, rows[1])

	meta, err := f.GetRows(runSheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"variable", "AQI"}, meta[2])
}

func TestDetect_Errors(t *testing.T) {
	dir := seedStore(t)

	_, err := execute(t, "detect", "--data-dir", dir, "-v", "AQI", "--start", "2021-01-01", "--end", "2020-01-01")
	require.ErrorIs(t, err, domain.ErrInvalidRange)

	_, err = execute(t, "detect", "--data-dir", dir, "-v", "AQI", "-d", "isolation-forest")
	require.Error(t, err)

	_, err = execute(t, "detect", "--data-dir", dir, "-v", "AQI", "-f", "xlsx")
	require.Error(t, err)

	_, err = execute(t, "detect", "--data-dir", dir)
	require.Error(t, err)
}

func TestFit_Daily(t *testing.T) {
	dir := seedStore(t)

	out, err := execute(t, "fit", "daily", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "2 series fit, 0 failed")

	store := filestore.New(dir, slog.Default())
	s, err := store.LoadDaily(context.Background(), "1001", "AQI")
	require.NoError(t, err)
	assert.True(t, s.HasResidual)
}

func TestFit_RejectsUnknownFrequency(t *testing.T) {
	_, err := execute(t, "fit", "weekly", "--data-dir", t.TempDir())
	require.Error(t, err)
}

func TestCluster(t *testing.T) {
	dir := seedStore(t)

	out, err := execute(t, "cluster", "--data-dir", dir, "-s", "1001", "-v", "AQI")
	require.NoError(t, err)
	assert.Contains(t, out, "noise")
	assert.Contains(t, out, "7 points, 1 noise")

	_, err = execute(t, "cluster", "--data-dir", dir, "-s", "9999", "-v", "AQI")
	require.ErrorIs(t, err, domain.ErrSiteNotFound)
}

func TestScores_JSON(t *testing.T) {
	dir := seedStore(t)

	out, err := execute(t, "scores", "--data-dir", dir, "-s", "1001", "-v", "AQI", "--json")
	require.NoError(t, err)

	var body struct {
		Verdict map[string]any   `json:"verdict"`
		Points  []map[string]any `json:"points"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "Yes", body.Verdict["Daily spline anomaly detected?"])
	require.Len(t, body.Points, 120)
	assert.Equal(t, true, body.Points[4]["outlier"])
}

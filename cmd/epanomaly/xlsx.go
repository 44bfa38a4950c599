package main

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

const (
	verdictSheet = "Verdicts"
	runSheet     = "Run"
)

// writeVerdictWorkbook saves the verdict table of run with a second sheet
// describing the run.
func writeVerdictWorkbook(path string, run domain.Run) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), verdictSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := []any{domain.ColumnSiteID, "outlier", run.Detector.StatusColumn()}
	if err := f.SetSheetRow(verdictSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, v := range run.Verdicts {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{string(v.Site), v.Outlier, string(v.Status)}
		if err := f.SetSheetRow(verdictSheet, cell, &row); err != nil {
			return fmt.Errorf("write verdict %s: %w", v.Site, err)
		}
	}
	if err := f.SetPanes(verdictSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.NewSheet(runSheet); err != nil {
		return fmt.Errorf("add run sheet: %w", err)
	}
	meta := [][]any{
		{"run_id", run.ID.String()},
		{"detector", string(run.Detector)},
		{"variable", run.Variable},
		{"range", run.Range.String()},
		{"started_at", run.StartedAt.UTC().Format("2006-01-02T15:04:05Z")},
		{"sites", len(run.Verdicts)},
		{"flagged", run.Flagged()},
	}
	for i, row := range meta {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(runSheet, cell, &row); err != nil {
			return fmt.Errorf("write run metadata: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

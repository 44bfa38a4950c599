package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatXLSX  = "xlsx"
)

func newDetectCommand(cc *commandContext) *cobra.Command {
	var (
		detector, variable string
		start, end         string
		format, output     string
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Produce the per-site verdict table of one detector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := domain.ParseDetector(detector)
			if err != nil {
				return err
			}
			r, err := domain.NewDateRange(start, end)
			if err != nil {
				return err
			}
			if format == formatXLSX && output == "" {
				return errors.New("--output is required for xlsx")
			}

			engine, err := cc.ensureEngine(cmd)
			if err != nil {
				return err
			}
			run, err := engine.Detect(cmd.Context(), d, variable, r)
			if err != nil {
				return err
			}
			domain.SortVerdicts(run.Verdicts)

			switch format {
			case formatJSON:
				return writeJSON(cmd, run.Verdicts)
			case formatXLSX:
				if err := writeVerdictWorkbook(output, run); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d verdicts to %s\n", len(run.Verdicts), output)
				return nil
			case formatTable:
				return writeVerdictTable(cmd, run)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}

	cmd.Flags().StringVarP(&detector, "detector", "d", string(domain.DetectorDailySpline), "daily-spline, hourly-spline, or dbscan")
	cmd.Flags().StringVarP(&variable, "variable", "v", "", "Variable to score")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json, xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file for xlsx")
	rangeFlags(cmd, &start, &end)
	_ = cmd.MarkFlagRequired("variable")
	return cmd
}

func writeVerdictTable(cmd *cobra.Command, run domain.Run) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	rows := make([][]string, len(run.Verdicts))
	for i, v := range run.Verdicts {
		rows[i] = []string{string(v.Site), strconv.Itoa(v.Outlier), statusText(v.Status, colorize)}
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Site", "Outlier", run.Detector.StatusColumn()},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft},
	))
	fmt.Fprintf(out, "%d sites, %d flagged (%s, %s)\n", len(run.Verdicts), run.Flagged(), run.Variable, run.Duration().Round(time.Millisecond))
	return nil
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

func newClusterCommand(cc *commandContext) *cobra.Command {
	var (
		site, variable string
		start, end     string
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Show the DBSCAN cluster label of every reading of one site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := domain.NewDateRange(start, end)
			if err != nil {
				return err
			}
			engine, err := cc.ensureEngine(cmd)
			if err != nil {
				return err
			}
			points, err := engine.ClusterSite(cmd.Context(), domain.SiteID(site), variable, r)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, points)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			rows := make([][]string, len(points))
			noise := 0
			for i, p := range points {
				label := strconv.Itoa(p.Label)
				if p.Anomalous() {
					label = highlight("noise", colorize)
					noise++
				}
				rows[i] = []string{
					p.Date.Format(domain.DateLayout),
					strconv.FormatFloat(p.Value, 'g', -1, 64),
					strconv.FormatFloat(p.Scaled, 'f', 2, 64),
					label,
				}
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Date", "Value", "Scaled", "Cluster"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "%d points, %d noise\n", len(points), noise)
			return nil
		},
	}

	cmd.Flags().StringVarP(&site, "site", "s", "", "Site id")
	cmd.Flags().StringVarP(&variable, "variable", "v", "", "Variable")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	rangeFlags(cmd, &start, &end)
	_ = cmd.MarkFlagRequired("site")
	_ = cmd.MarkFlagRequired("variable")
	return cmd
}

func newScoresCommand(cc *commandContext) *cobra.Command {
	var (
		detector, site, variable string
		start, end               string
		asJSON                   bool
	)

	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Show the spline score and z-score of every row of one site",
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
			engine, err := cc.ensureEngine(cmd)
			if err != nil {
				return err
			}
			verdict, points, err := engine.ScoreSite(cmd.Context(), d, domain.SiteID(site), variable, r)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, map[string]any{"verdict": verdict, "points": points})
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			rows := make([][]string, len(points))
			for i, p := range points {
				flag := ""
				if p.Outlier {
					flag = highlight("outlier", colorize)
				}
				rows[i] = []string{
					p.Date.Format(domain.DateLayout),
					formatScore(p.Value),
					formatScore(p.Score),
					formatScore(p.ZScore),
					flag,
				}
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Date", "Value", "Score", "Z", ""},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "%s: %s\n", d.StatusColumn(), statusText(verdict.Status, colorize))
			return nil
		},
	}

	cmd.Flags().StringVarP(&detector, "detector", "d", string(domain.DetectorDailySpline), "daily-spline or hourly-spline")
	cmd.Flags().StringVarP(&site, "site", "s", "", "Site id")
	cmd.Flags().StringVarP(&variable, "variable", "v", "", "Variable")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	rangeFlags(cmd, &start, &end)
	_ = cmd.MarkFlagRequired("site")
	_ = cmd.MarkFlagRequired("variable")
	return cmd
}

func formatScore(v float64) string {
	if domain.IsMissing(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

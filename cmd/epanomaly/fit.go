package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

func newFitCommand(cc *commandContext) *cobra.Command {
	var variables []string

	cmd := &cobra.Command{
		Use:       "fit daily|hourly",
		Short:     "Recompute and store spline scores for every site",
		Long:      "Recompute the daily residual or hourly MSE column of every site and write it back to the store.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"daily", "hourly"},
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := cc.ensureEngine(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			freq := domain.Frequency(args[0])

			if len(variables) == 0 {
				if variables, err = cc.store.Variables(ctx, freq); err != nil {
					return err
				}
			}

			var rows [][]string
			failed := 0
			for _, variable := range variables {
				var outcomes []domain.FitOutcome
				if freq == domain.Hourly {
					outcomes, err = engine.FitHourly(ctx, variable)
				} else {
					outcomes, err = engine.FitDaily(ctx, variable)
				}
				if err != nil {
					return fmt.Errorf("fit %s %s: %w", freq, variable, err)
				}
				for _, o := range outcomes {
					msg := ""
					if o.Err != nil {
						msg = o.Err.Error()
						failed++
					}
					rows = append(rows, []string{
						variable,
						string(o.Site),
						strconv.Itoa(o.Rows),
						strconv.Itoa(o.Scored),
						msg,
					})
				}
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintf(out, "No %s series found under %s\n", freq, cc.dataDir)
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Variable", "Site", "Rows", "Scored", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "%d series fit, %d failed\n", len(rows), failed)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&variables, "variable", nil, "Variables to fit (default: all)")
	return cmd
}

package main

import (
	"fmt"

	"github.com/okian/starkpi/internal/report"
	"github.com/spf13/cobra"
)

func reportCmd(gf *globalFlags) *cobra.Command {
	var (
		from, to string
		days     int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print totals, top tools and the daily trend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (from == "") != (to == "") {
				return fmt.Errorf("--from and --to go together")
			}
			e, err := setup(cmd, gf, setupOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			var sum report.Summary
			if from != "" {
				sum, err = e.svc.Report(cmd.Context(), from, to)
			} else {
				sum, err = e.svc.ReportLastDays(cmd.Context(), days)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			return report.Render(cmd.OutOrStdout(), &sum)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "Last date, YYYY-MM-DD")
	cmd.Flags().IntVar(&days, "days", 7, "Report the last N days when no range is given")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of tables")
	return cmd
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/okian/starkpi/internal/adapters/source"
	service "github.com/okian/starkpi/internal/app"
	"github.com/okian/starkpi/internal/domain/model"
	"github.com/spf13/cobra"
)

// errDegraded makes the process exit non-zero when --strict is set and the
// quality gate found deviations.
var errDegraded = errors.New("quality gate reported deviations")

func runCmd(gf *globalFlags) *cobra.Command {
	var (
		since  string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract from the configured source and load one batch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, gf, setupOptions{source: true, replica: true, since: since})
			if err != nil {
				return err
			}
			defer e.Close()

			if !e.cfg.HasSource() {
				return fmt.Errorf("%w: set STARKPI_SOURCE_URL or SUPABASE_URL", service.ErrNoSource)
			}
			sum, err := e.svc.Run(cmd.Context(), service.TriggerManual)
			return finish(cmd.OutOrStdout(), &sum, err, strict)
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Only extract events from the warehouse day of this RFC3339 time or YYYY-MM-DD date")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when the quality gate is degraded")
	return cmd
}

func loadCmd(gf *globalFlags) *cobra.Command {
	var (
		path   string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a JSON or NDJSON file of raw events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, gf, setupOptions{replica: true})
			if err != nil {
				return err
			}
			defer e.Close()

			batch, err := source.NewFile(path).Extract(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := e.svc.RunBatch(cmd.Context(), service.TriggerFile, batch)
			return finish(cmd.OutOrStdout(), &sum, err, strict)
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "Batch file: JSON array, {\"records\": [...]} envelope or NDJSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when the quality gate is degraded")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func rebuildCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-kpis",
		Short: "Recompute every daily KPI row from the fact table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, gf, setupOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.svc.RebuildKPIs(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d KPI rows\n", n)
			return err
		},
	}
}

func qualityCmd(gf *globalFlags) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Run the quality checks over a date range without loading",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, gf, setupOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			qr, err := e.svc.Quality(cmd.Context(), model.Window{From: from, To: to})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), qr)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "Last date, YYYY-MM-DD")
	return cmd
}

// finish prints the run summary. A failed run still prints its summary.
func finish(w io.Writer, sum *model.RunSummary, runErr error, strict bool) error {
	if sum.RunID != "" {
		if err := writeJSON(w, sum); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if strict && sum.Quality != nil && sum.Quality.Verdict == model.VerdictDegraded {
		return errDegraded
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseSince reads an RFC3339 time, or a bare date as midnight in loc.
func parseSince(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since %q: want RFC3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

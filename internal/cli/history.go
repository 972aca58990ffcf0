package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lherron/dsmerge/internal/cli/appctx"
	"github.com/lherron/dsmerge/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded merge runs",
	Long:  `List merge runs recorded in the ledger, newest first.`,
	Args:  cobra.NoArgs,
	RunE:  appctx.WithApp(appctx.Options{Ledger: appctx.LedgerRequired}, runHistory),
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-uuid>",
	Short: "Show one merge run and its cases",
	Long:  `Show a recorded merge run and the provenance of every case it merged. A unique uuid prefix is enough.`,
	Args:  cobra.ExactArgs(1),
	RunE:  appctx.WithApp(appctx.Options{Ledger: appctx.LedgerRequired}, runHistoryShow),
}

var historyLimit int

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum runs to list (0 = all)")
	addOutputFlags(historyCmd)
	addOutputFlags(historyShowCmd)
}

func runHistory(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := outputFormat(app, cmd)
	if err != nil {
		return err
	}

	runs, err := app.Ledger.Runs.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []store.Run{}
	}

	headers := []string{"UUID", "STARTED", "STATUS", "MODE", "CASES", "DESTINATION"}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.UUID[:min(8, len(r.UUID))],
			r.StartedAt.Local().Format(time.DateTime),
			r.Status,
			r.Mode,
			strconv.Itoa(r.NumCases),
			r.DestDir,
		})
	}
	return renderer(cmd.OutOrStdout(), format).Render(runs, headers, rows)
}

func runHistoryShow(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := outputFormat(app, cmd)
	if err != nil {
		return err
	}

	run, err := app.Ledger.Runs.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	cases, err := app.Ledger.Runs.Cases(cmd.Context(), run.UUID)
	if err != nil {
		return err
	}

	if isStructured(format) {
		if cases == nil {
			cases = []store.CaseRecord{}
		}
		return renderer(cmd.OutOrStdout(), format).Render(struct {
			store.Run `yaml:",inline"`
			Cases     []store.CaseRecord `json:"cases" yaml:"cases"`
		}{*run, cases}, nil, nil)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:         %s\n", run.UUID)
	fmt.Fprintf(out, "Status:      %s\n", run.Status)
	fmt.Fprintf(out, "Destination: %s\n", run.DestDir)
	fmt.Fprintf(out, "Mode:        %s (%s, strict=%t)\n", run.Mode, run.Policy, run.Strict)
	fmt.Fprintf(out, "Started:     %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "Finished:    %s\n", run.FinishedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintf(out, "Cases:       %d (%d renamed)\n", run.NumCases, run.Collisions)
	if run.Error != "" {
		fmt.Fprintf(out, "Error:       %s\n", run.Error)
	}
	if len(cases) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	headers := []string{"CASE", "DATASET", "ORIGIN CASE", "ORIGIN DIRECTORY"}
	rows := make([][]string, 0, len(cases))
	for _, c := range cases {
		rows = append(rows, []string{c.DestCaseID, c.OriginDatasetID, c.OriginCaseID, c.OriginDatasetDirname})
	}
	return renderer(out, format).Render(cases, headers, rows)
}

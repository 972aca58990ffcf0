package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lherron/dsmerge/internal/cli/appctx"
	"github.com/lherron/dsmerge/internal/ident"
	"github.com/lherron/dsmerge/internal/merge"
)

var planCmd = &cobra.Command{
	Use:   "plan [source-ids...]",
	Short: "Check source datasets and show what a merge would do",
	Long: `Run the merge pre-pass without writing anything: locate every source,
reconcile the descriptors and count cases and file operations.`,
	Example: `  dsmerge plan 31 32 --dest-id 100 --dest-name Combined
  dsmerge plan --plan merge.yaml --json`,
	RunE: appctx.WithApp(appctx.Options{}, runPlan),
}

var planOpts mergeFlags

func init() {
	rootCmd.AddCommand(planCmd)

	planOpts.register(planCmd, false)
	addOutputFlags(planCmd)
}

func runPlan(app *appctx.App, cmd *cobra.Command, args []string) error {
	opts, err := planOpts.options(app, cmd, args)
	if err != nil {
		return err
	}

	format, err := outputFormat(app, cmd)
	if err != nil {
		return err
	}

	p, err := merge.BuildPlan(opts)
	if err != nil {
		return err
	}

	if isStructured(format) {
		return renderer(cmd.OutOrStdout(), format).Render(p, nil, nil)
	}

	headers := []string{"ID", "DIRECTORY", "CASES", "CHANNELS", "OPS"}
	rows := make([][]string, 0, len(p.Sources))
	for _, s := range p.Sources {
		rows = append(rows, []string{
			ident.Number(s.ID),
			s.Dirname(),
			strconv.Itoa(s.Cases),
			strconv.Itoa(s.Channels),
			strconv.Itoa(s.Ops()),
		})
	}
	if err := renderer(cmd.OutOrStdout(), format).Render(p, headers, rows); err != nil {
		return err
	}

	labels := "strict"
	if !p.Strict {
		labels = fmt.Sprintf("lenient (%d merged labels)", len(p.Target.Labels))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s: %d cases, %d file operations, labels %s\n",
		merge.DirName(opts.DestID, opts.DestName), p.TotalCases, p.TotalOps, labels)
	return nil
}

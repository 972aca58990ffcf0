package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lherron/dsmerge/internal/cli/appctx"
	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/ident"
	"github.com/lherron/dsmerge/internal/materialize"
	"github.com/lherron/dsmerge/internal/merge"
	"github.com/lherron/dsmerge/internal/plan"
)

var mergeCmd = &cobra.Command{
	Use:   "merge [source-ids...]",
	Short: "Merge source datasets into a new dataset",
	Long: `Merge the listed source datasets into Dataset<dest-id>_<dest-name> under the
raw root.

All source descriptors are checked before anything is written: channel_names,
labels and file_ending must agree. Case ids that collide with an earlier
source are prefixed with the dataset tag (D031__case); --always-prefix
prefixes every case. Files are symlinked by default; --mode copy copies them.

A failing source aborts the run before dataset.json and the manifest are
written. Files placed for earlier sources stay on disk unless --staged is
set, in which case the merged directories are published only on success.`,
	Example: `  dsmerge merge 31 32 --dest-id 100 --dest-name Combined
  dsmerge merge --plan merge.yaml --mode copy --force`,
	RunE: appctx.WithApp(appctx.Options{Ledger: appctx.LedgerOptional}, runMerge),
}

// mergeFlags are shared by merge and plan.
type mergeFlags struct {
	destID       int
	destName     string
	mode         string
	planFile     string
	manifest     string
	force        bool
	alwaysPrefix bool
	lenient      bool
	staged       bool
}

var mergeOpts mergeFlags

var mergeQuiet bool

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeOpts.register(mergeCmd, true)
	mergeCmd.Flags().BoolVarP(&mergeQuiet, "quiet", "q", false, "Do not draw the progress bar")
	addOutputFlags(mergeCmd)
}

func (f *mergeFlags) register(cmd *cobra.Command, writes bool) {
	cmd.Flags().IntVar(&f.destID, "dest-id", 0, "Destination dataset id")
	cmd.Flags().StringVar(&f.destName, "dest-name", "", "Destination dataset name")
	cmd.Flags().StringVar(&f.planFile, "plan", "", "Read the merge plan from a YAML/JSON file or URL")
	cmd.Flags().BoolVar(&f.lenient, "lenient-labels", false, "Union label vocabularies instead of requiring them to match")
	if !writes {
		return
	}
	cmd.Flags().StringVar(&f.mode, "mode", "", "link or copy (default from config, else link)")
	cmd.Flags().StringVar(&f.manifest, "manifest", "", "Manifest output path (default inside the destination)")
	cmd.Flags().BoolVar(&f.force, "force", false, "Clear imagesTr and labelsTr of the destination first")
	cmd.Flags().BoolVar(&f.alwaysPrefix, "always-prefix", false, "Prefix every case id with its dataset tag")
	cmd.Flags().BoolVar(&f.staged, "staged", false, "Build in a staging directory and publish only on success")
}

// options assembles merge options. Precedence: flags and positional ids,
// then the plan file, then config.
func (f *mergeFlags) options(app *appctx.App, cmd *cobra.Command, args []string) (merge.Options, error) {
	var opts merge.Options
	if f.planFile != "" {
		p, err := plan.Load(cmd.Context(), f.planFile)
		if err != nil {
			return opts, err
		}
		opts = p.Options()
	}

	if len(args) > 0 {
		ids, err := parseDatasetIDs(args)
		if err != nil {
			return opts, err
		}
		opts.SourceIDs = ids
	}

	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("dest-id") {
		opts.DestID = f.destID
	}
	if changed("dest-name") {
		opts.DestName = f.destName
	}
	if changed("lenient-labels") {
		opts.Lenient = f.lenient
	}
	if changed("mode") {
		opts.Mode = materialize.Mode(f.mode)
	}
	if changed("manifest") {
		opts.ManifestPath = f.manifest
	}
	if changed("force") {
		opts.Force = f.force
	}
	if changed("always-prefix") {
		opts.Policy = ident.PolicyFor(f.alwaysPrefix)
	}
	if changed("staged") {
		opts.Staged = f.staged
	}

	if opts.RawRoot == "" || changed("raw-root") {
		opts.RawRoot = app.Config.RawRoot
	}
	if opts.Mode == "" {
		opts.Mode = materialize.Mode(app.Config.DefaultMode)
	}

	if opts.RawRoot == "" {
		return opts, errs.NewValidationError("raw_root", "", "raw root not specified (use --raw-root, DSMERGE_RAW_ROOT or nnUNet_raw)")
	}
	if opts.DestID <= 0 {
		return opts, errs.NewValidationError("dest_id", opts.DestID, "destination id not specified (use --dest-id or a plan file)")
	}
	if opts.DestName == "" {
		return opts, errs.NewValidationError("dest_name", "", "destination name not specified (use --dest-name or a plan file)")
	}

	opts.Logger = &app.Logger
	return opts, nil
}

func runMerge(app *appctx.App, cmd *cobra.Command, args []string) error {
	opts, err := mergeOpts.options(app, cmd, args)
	if err != nil {
		return err
	}

	format, err := outputFormat(app, cmd)
	if err != nil {
		return err
	}

	if !mergeQuiet {
		opts.Progress = cmd.ErrOrStderr()
	}
	if app.Ledger != nil {
		opts.Recorder = app.Ledger.Runs
	}

	res, err := merge.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if res.LedgerError != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: merge completed but was not recorded in the ledger: %s\n", res.LedgerError)
	}

	if isStructured(format) {
		return renderer(cmd.OutOrStdout(), format).Render(res, nil, nil)
	}
	return printMergeResult(cmd.OutOrStdout(), res)
}

func printMergeResult(w io.Writer, res *merge.Result) error {
	for _, c := range res.Collisions {
		fmt.Fprintf(w, "Renamed case %s of dataset %s to %s\n", c.CaseID, c.DatasetID, c.DestID)
	}
	_, err := fmt.Fprintln(w, res.Summary())
	return err
}

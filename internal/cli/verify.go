package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lherron/dsmerge/internal/cli/appctx"
	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/merge"
	"github.com/lherron/dsmerge/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <dataset-dir|dataset-id>",
	Short: "Check a merged dataset against its manifest",
	Long: `Check that every case listed in the manifest has its label and all channel
files in the merged dataset, that links still point at their origin files
and that copies are byte-identical to them. The descriptor's numTraining
must match the manifest, and no label may be missing from the manifest.

Exits non-zero when any problem is found.`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.Options{}, runVerify),
}

var (
	verifyManifest string
	verifyJobs     int
)

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyManifest, "manifest", "", "Manifest path (default inside the dataset)")
	verifyCmd.Flags().IntVarP(&verifyJobs, "jobs", "j", 0, "Parallel workers (0 = number of CPUs)")
	addOutputFlags(verifyCmd)
}

func runVerify(app *appctx.App, cmd *cobra.Command, args []string) error {
	dir, err := resolveDatasetArg(app, args[0])
	if err != nil {
		return err
	}

	format, err := outputFormat(app, cmd)
	if err != nil {
		return err
	}

	report, err := verify.Verify(cmd.Context(), verify.Options{
		DatasetDir:   dir,
		ManifestPath: verifyManifest,
		RawRoot:      app.Config.RawRoot,
		Jobs:         verifyJobs,
		Logger:       &app.Logger,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if isStructured(format) {
		if err := renderer(out, format).Render(report, nil, nil); err != nil {
			return err
		}
	} else {
		for _, p := range report.Problems {
			fmt.Fprintln(out, p.String())
		}
		fmt.Fprintf(out, "%s: %d cases, %d files (%d links, %d copies), %d problems\n",
			filepath.Base(report.DatasetDir), report.Cases, report.Files, report.Links, report.Copies, len(report.Problems))
	}

	if !report.OK() {
		return errs.NewValidationError("dataset", dir, fmt.Sprintf("%d problems found", len(report.Problems)))
	}
	return nil
}

// resolveDatasetArg accepts a directory path or a dataset id under the raw
// root.
func resolveDatasetArg(app *appctx.App, arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && info.IsDir() {
		return arg, nil
	}
	id, err := parseDatasetID(arg)
	if err != nil {
		return "", &errs.NotFoundError{Resource: "dataset", ID: arg, Detail: "not a directory or dataset id"}
	}
	if app.Config.RawRoot == "" {
		return "", errs.NewValidationError("raw_root", "", "raw root not specified (use --raw-root, DSMERGE_RAW_ROOT or nnUNet_raw)")
	}
	return merge.FindDatasetDir(app.Config.RawRoot, id)
}

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dsmerge",
	Short: "Merge imaging training datasets into one collection",
	Long: `dsmerge merges several DatasetNNN_<name> training collections under a raw
root into a new collection. Descriptors are reconciled before anything is
written, case ids are made unique, files are linked or copied, and a
provenance manifest records where every merged case came from.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context; a merge stops between cases.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("raw-root", "", "Directory holding the datasets (overrides DSMERGE_RAW_ROOT and nnUNet_raw)")
	rootCmd.PersistentFlags().String("ledger", "", "Path to the run ledger database (overrides DSMERGE_LEDGER)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: auto, console, json")
}

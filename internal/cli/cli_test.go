package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/store"
	"github.com/lherron/dsmerge/internal/testutil"
)

// resetFlags restores every flag to its default so commands can run more
// than once in one process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// setupRaw isolates config and builds the 031/032 fixture.
func setupRaw(t *testing.T) (root, ledger string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"DSMERGE_CONFIG", "DSMERGE_RAW_ROOT", "nnUNet_raw", "DSMERGE_LEDGER", "DSMERGE_MODE", "DSMERGE_OUTPUT"} {
		t.Setenv(k, "")
	}
	t.Setenv("DSMERGE_LOG_LEVEL", "error")
	t.Chdir(home)

	root = filepath.Join(home, "raw")
	testutil.MakeDataset(t, root, testutil.Dataset{ID: 31, Name: "Alpha", Cases: []string{"A", "B"}, Channels: 2})
	testutil.MakeDataset(t, root, testutil.Dataset{ID: 32, Name: "Beta", Cases: []string{"B", "C"}, Channels: 2})
	return root, filepath.Join(home, "ledger.db")
}

func TestMergeVerifyHistory(t *testing.T) {
	root, ledger := setupRaw(t)

	out, err := execute(t, "merge", "31", "D032", "--dest-id", "100", "--dest-name", "Combined",
		"--raw-root", root, "--ledger", ledger, "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "Renamed case B of dataset 032 to D032__B")
	assert.Contains(t, out, "Merged 2 datasets into Dataset100_Combined. Total cases: 4. Mode: link.")

	out, err = execute(t, "verify", "100", "--raw-root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Dataset100_Combined: 4 cases, 12 files (12 links, 0 copies), 0 problems")

	out, err = execute(t, "history", "--ledger", ledger, "--json")
	require.NoError(t, err)
	var runs []store.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, store.StatusSucceeded, runs[0].Status)
	assert.Equal(t, 4, runs[0].NumCases)

	out, err = execute(t, "history", "show", runs[0].UUID[:8], "--ledger", ledger)
	require.NoError(t, err)
	assert.Contains(t, out, "Cases:       4 (1 renamed)")
	assert.Contains(t, out, "D032__B")
}

func TestMergeFromPlanFile(t *testing.T) {
	root, _ := setupRaw(t)
	planPath := testutil.WriteFile(t, filepath.Dir(root), "merge.yaml", `
raw_root: raw
dataset_id: 7
dataset_name: Planned
source_dataset_ids: [31, 32]
always_prefix: true
`)

	out, err := execute(t, "merge", "--plan", planPath, "--mode", "copy", "--quiet", "--json")
	require.NoError(t, err)

	var res struct {
		DestDir string `json:"dest_dir"`
		Mode    string `json:"mode"`
		Policy  string `json:"policy"`
		Cases   int    `json:"cases"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, filepath.Join(root, "Dataset007_Planned"), res.DestDir)
	assert.Equal(t, "copy", res.Mode)
	assert.Equal(t, "always-prefix", res.Policy)
	assert.Equal(t, 4, res.Cases)
	assert.FileExists(t, filepath.Join(res.DestDir, "labelsTr", "D031__A.nii.gz"))
}

func TestPlanCommand(t *testing.T) {
	root, _ := setupRaw(t)

	out, err := execute(t, "plan", "31,32", "--dest-id", "100", "--dest-name", "Combined", "--raw-root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Dataset031_Alpha")
	assert.Contains(t, out, "Dataset100_Combined: 4 cases, 12 file operations, labels strict")

	_, err = os.Stat(filepath.Join(root, "Dataset100_Combined"))
	assert.True(t, os.IsNotExist(err))
}

func TestMergeErrorsMapToExitCodes(t *testing.T) {
	root, _ := setupRaw(t)

	_, err := execute(t, "merge", "31", "--dest-name", "X", "--raw-root", root)
	assert.Equal(t, errs.ExitValidation, errs.ExitCode(err), "missing dest id: %v", err)

	_, err = execute(t, "merge", "31", "99", "--dest-id", "100", "--dest-name", "X", "--raw-root", root)
	assert.Equal(t, errs.ExitNotFound, errs.ExitCode(err), "unknown dataset: %v", err)

	_, err = execute(t, "history")
	assert.Equal(t, errs.ExitValidation, errs.ExitCode(err), "history without ledger: %v", err)
}

func TestVerifyReportsProblems(t *testing.T) {
	root, _ := setupRaw(t)
	_, err := execute(t, "merge", "31", "32", "--dest-id", "100", "--dest-name", "Combined", "--raw-root", root, "--quiet")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "Dataset100_Combined", "imagesTr", "C_0001.nii.gz")))

	out, err := execute(t, "verify", filepath.Join(root, "Dataset100_Combined"))
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.True(t, strings.HasPrefix(out, "C: missing"), "unexpected output: %s", out)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dsmerge version dev")
}

package merge

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/ident"
	"github.com/lherron/dsmerge/internal/manifest"
	"github.com/lherron/dsmerge/internal/materialize"
)

// Options configures one merge run.
type Options struct {
	// RawRoot holds the DatasetNNN_<name> directories.
	RawRoot string
	// SourceIDs are merged in this order.
	SourceIDs []int
	DestID    int
	DestName  string

	Mode   materialize.Mode
	Policy ident.Policy
	// Force clears imagesTr and labelsTr of the destination first.
	Force bool
	// Lenient unions label vocabularies instead of requiring them to match.
	Lenient bool
	// Staged writes into a sibling staging directory that is renamed into
	// place only after every source succeeded.
	Staged bool

	// ManifestPath defaults to the manifest file inside the destination.
	ManifestPath string

	// Progress receives the progress bar; nil disables it.
	Progress io.Writer
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
	// Recorder, when set, stores the run in the ledger.
	Recorder Recorder
}

// Recorder persists run history. Begin is called before any write; a
// Begin failure aborts the run.
type Recorder interface {
	Begin(ctx context.Context, run RunInfo) error
	Finish(ctx context.Context, res *Result, m *manifest.Manifest) error
	Fail(ctx context.Context, runID string, cause error) error
}

// RunInfo describes a run when it starts.
type RunInfo struct {
	RunID    string
	DestDir  string
	Mode     materialize.Mode
	Policy   ident.Policy
	Strict   bool
	OpsTotal int
}

func (o *Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

// normalize validates the options and fills defaults. RawRoot becomes
// absolute so link targets stay valid from any working directory.
func (o *Options) normalize() error {
	if o.RawRoot == "" {
		return errs.NewValidationError("raw_root", "", "raw root not specified")
	}
	abs, err := filepath.Abs(o.RawRoot)
	if err != nil {
		return errs.WrapIO("resolve", o.RawRoot, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return &errs.NotFoundError{Resource: "raw root", ID: abs}
	}
	o.RawRoot = abs

	if len(o.SourceIDs) == 0 {
		return errs.NewValidationError("source_ids", nil, "at least one source dataset id is required")
	}
	seen := make(map[int]bool, len(o.SourceIDs))
	for _, id := range o.SourceIDs {
		if id < 0 {
			return errs.NewValidationError("source_ids", id, fmt.Sprintf("invalid dataset id %d", id))
		}
		if seen[id] {
			return errs.NewValidationError("source_ids", id, fmt.Sprintf("dataset %s listed more than once", ident.Number(id)))
		}
		if id == o.DestID {
			return errs.NewValidationError("dest_id", id, fmt.Sprintf("destination id %s is also a source", ident.Number(id)))
		}
		seen[id] = true
	}

	if o.DestID <= 0 {
		return errs.NewValidationError("dest_id", o.DestID, "destination id must be a positive dataset id")
	}
	if o.DestName == "" || strings.ContainsAny(o.DestName, `/\`) || o.DestName == "." || o.DestName == ".." {
		return errs.NewValidationError("dest_name", o.DestName, fmt.Sprintf("invalid destination name %q", o.DestName))
	}

	if o.Mode == "" {
		o.Mode = materialize.ModeLink
	}
	if _, err := materialize.ParseMode(string(o.Mode)); err != nil {
		return err
	}
	policy, err := ident.ParsePolicy(string(o.Policy))
	if err != nil {
		return err
	}
	o.Policy = policy

	if o.ManifestPath == "" {
		o.ManifestPath = filepath.Join(DestDir(o.RawRoot, o.DestID, o.DestName), manifest.FileName)
	}
	return nil
}

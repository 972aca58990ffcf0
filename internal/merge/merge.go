// Package merge drives a multi-source dataset merge: descriptor
// reconciliation, case discovery, destination id assignment, file
// materialization, and descriptor/manifest emission.
//
// Sources are processed one at a time in caller order, cases in sorted
// label order, files one at a time. The descriptor and manifest are written
// once, after every source succeeded.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lherron/dsmerge/internal/caseindex"
	"github.com/lherron/dsmerge/internal/descriptor"
	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/ident"
	"github.com/lherron/dsmerge/internal/manifest"
	"github.com/lherron/dsmerge/internal/materialize"
	"github.com/lherron/dsmerge/internal/progress"
)

// SourceResult summarizes one merged source.
type SourceResult struct {
	ID      string `json:"id"`
	Dirname string `json:"dirname"`
	Cases   int    `json:"cases"`
}

// Collision records a case whose bare id was already taken.
type Collision struct {
	DatasetID string `json:"dataset_id"`
	CaseID    string `json:"case_id"`
	DestID    string `json:"dest_id"`
}

// Result describes a completed run.
type Result struct {
	RunID          string            `json:"run_id"`
	DestDir        string            `json:"dest_dir"`
	DescriptorPath string            `json:"descriptor_path"`
	ManifestPath   string            `json:"manifest_path"`
	Mode           materialize.Mode  `json:"mode"`
	Policy         ident.Policy      `json:"policy"`
	Strict         bool              `json:"strict"`
	Staged         bool              `json:"staged"`
	Cases          int               `json:"cases"`
	Sources        []SourceResult    `json:"sources"`
	Collisions     []Collision       `json:"collisions,omitempty"`
	OpsDone        int               `json:"ops_done"`
	OpsTotal       int               `json:"ops_total"`
	Stats          materialize.Stats `json:"stats"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	// LedgerError is set when the dataset was published but recording the
	// run failed.
	LedgerError string `json:"ledger_error,omitempty"`
}

// Summary returns the one-line completion message.
func (r *Result) Summary() string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("Merged %d datasets into %s. Total cases: %d. Mode: %s.",
		len(r.Sources), filepath.Base(r.DestDir), r.Cases, r.Mode)
}

// run is the state of one merge invocation. It owns the id registry, the
// manifest accumulator and the progress counters.
type run struct {
	opts     *Options
	log      zerolog.Logger
	plan     *Plan
	registry *ident.Registry
	manifest *manifest.Manifest
	tracker  *progress.Tracker
	mat      *materialize.Materializer
	result   *Result

	destDir string
	// workDir receives imagesTr/labelsTr; it is destDir unless staged.
	workDir string
}

// Run merges opts.SourceIDs into the destination dataset.
//
// A validation or indexing failure for any source aborts the run before the
// merged descriptor or manifest is written. Files already placed for
// earlier sources stay on disk unless opts.Staged is set.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	r := &run{
		opts:     &opts,
		log:      opts.logger(),
		registry: ident.NewRegistry(),
		manifest: manifest.New(),
		destDir:  DestDir(opts.RawRoot, opts.DestID, opts.DestName),
		result: &Result{
			RunID:     uuid.NewString(),
			Mode:      opts.Mode,
			Policy:    opts.Policy,
			Strict:    !opts.Lenient,
			Staged:    opts.Staged,
			StartedAt: time.Now().UTC(),
		},
	}
	r.result.DestDir = r.destDir
	r.result.ManifestPath = opts.ManifestPath
	r.result.DescriptorPath = filepath.Join(r.destDir, descriptor.FileName)

	mat, err := materialize.New(opts.Mode)
	if err != nil {
		return nil, err
	}
	r.mat = mat

	// Every descriptor is reconciled before the first destination write.
	plan, err := buildPlan(&opts)
	if err != nil {
		return nil, err
	}
	r.plan = plan
	r.result.OpsTotal = plan.TotalOps

	if opts.Recorder != nil {
		info := RunInfo{
			RunID:    r.result.RunID,
			DestDir:  r.destDir,
			Mode:     opts.Mode,
			Policy:   opts.Policy,
			Strict:   !opts.Lenient,
			OpsTotal: plan.TotalOps,
		}
		if err := opts.Recorder.Begin(ctx, info); err != nil {
			return nil, fmt.Errorf("failed to record run start: %w", err)
		}
	}

	if err := r.execute(ctx); err != nil {
		if opts.Recorder != nil {
			if ferr := opts.Recorder.Fail(ctx, r.result.RunID, err); ferr != nil {
				r.log.Error().Err(ferr).Str("run", r.result.RunID).Msg("failed to record run failure")
			}
		}
		return nil, err
	}

	if opts.Recorder != nil {
		if err := opts.Recorder.Finish(ctx, r.result, r.manifest); err != nil {
			r.result.LedgerError = err.Error()
			r.log.Error().Err(err).Str("run", r.result.RunID).Msg("dataset published but run was not recorded")
		}
	}

	return r.result, nil
}

func (r *run) execute(ctx context.Context) error {
	if r.opts.Staged {
		defer func() {
			// Renamed away on success; anything left is a failed run.
			if r.workDir != "" && r.workDir != r.destDir {
				_ = os.RemoveAll(r.workDir)
			}
		}()
	}
	if err := r.prepareDestination(); err != nil {
		return err
	}

	r.tracker = progress.New(r.opts.Progress, r.plan.TotalOps)
	r.tracker.Start()

	for _, src := range r.plan.Sources {
		if err := r.mergeSource(ctx, src); err != nil {
			return err
		}
	}

	r.tracker.Finish()
	r.result.OpsDone = r.tracker.Done()
	r.result.Stats = r.mat.Stats

	if r.opts.Staged {
		if err := r.publish(); err != nil {
			return err
		}
	}

	return r.emit()
}

// prepareDestination creates imagesTr and labelsTr under the work dir.
func (r *run) prepareDestination() error {
	if !r.opts.Staged {
		r.workDir = r.destDir
		if r.opts.Force {
			for _, sub := range []string{caseindex.ImagesDir, caseindex.LabelsDir} {
				if err := os.RemoveAll(filepath.Join(r.destDir, sub)); err != nil {
					return errs.WrapIO("remove", filepath.Join(r.destDir, sub), err)
				}
			}
		}
		return r.makeWorkDirs()
	}

	if !r.opts.Force {
		for _, sub := range []string{caseindex.ImagesDir, caseindex.LabelsDir} {
			if _, err := os.Lstat(filepath.Join(r.destDir, sub)); err == nil {
				return errs.NewValidationError("force", false,
					fmt.Sprintf("%s already has %s; a staged merge replaces it only with force", r.destDir, sub))
			}
		}
	}

	r.workDir = filepath.Join(r.opts.RawRoot, "."+filepath.Base(r.destDir)+".staging-"+r.result.RunID)
	return r.makeWorkDirs()
}

func (r *run) makeWorkDirs() error {
	for _, sub := range []string{caseindex.ImagesDir, caseindex.LabelsDir} {
		dir := filepath.Join(r.workDir, sub)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errs.WrapIO("mkdir", dir, err)
		}
	}
	return nil
}

func (r *run) mergeSource(ctx context.Context, src Source) error {
	number := ident.Number(src.ID)
	r.manifest.AddDataset(number, src.Dirname())
	r.log.Info().
		Str("dataset", number).
		Str("dir", src.Dirname()).
		Int("cases", src.Cases).
		Msg("processing dataset")

	ending := r.plan.Target.FileEnding
	cases, err := caseindex.Collect(src.Dir, ending)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", number, err)
	}

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := checkChannels(c, src.Channels, ending); err != nil {
			return fmt.Errorf("dataset %s: %w", number, err)
		}
		if err := r.mergeCase(src, c); err != nil {
			return fmt.Errorf("dataset %s case %s: %w", number, c.ID, err)
		}
	}

	r.result.Sources = append(r.result.Sources, SourceResult{ID: number, Dirname: src.Dirname(), Cases: len(cases)})
	return nil
}

func (r *run) mergeCase(src Source, c caseindex.Case) error {
	number := ident.Number(src.ID)
	ending := r.plan.Target.FileEnding

	destID, collided := r.registry.Resolve(src.ID, c.ID, r.opts.Policy)
	if collided {
		r.log.Warn().
			Str("dataset", number).
			Str("case", c.ID).
			Str("dest_case", destID).
			Msg("case id collision, prefixed with dataset tag")
		r.result.Collisions = append(r.result.Collisions, Collision{DatasetID: number, CaseID: c.ID, DestID: destID})
	}

	imagesOut := filepath.Join(r.workDir, caseindex.ImagesDir)
	for _, channel := range c.Channels {
		token := caseindex.ChannelToken(channel, ending)
		dst := filepath.Join(imagesOut, destID+"_"+token+ending)
		if err := r.mat.Place(channel, dst); err != nil {
			return err
		}
		r.tracker.Advance(1)
	}

	dst := filepath.Join(r.workDir, caseindex.LabelsDir, destID+ending)
	if err := r.mat.Place(c.Label, dst); err != nil {
		return err
	}
	r.tracker.Advance(1)

	if err := r.manifest.AddCase(destID, manifest.Entry{
		OriginDatasetID:      number,
		OriginDatasetDirname: src.Dirname(),
		OriginCaseID:         c.ID,
	}); err != nil {
		return err
	}
	r.result.Cases++
	return nil
}

// checkChannels requires exactly the channels 0000..want-1. The first
// missing token is reported as not found.
func checkChannels(c caseindex.Case, want int, ending string) error {
	for i := 0; i < want; i++ {
		expected := fmt.Sprintf("%04d", i)
		if i >= len(c.Channels) || caseindex.ChannelToken(c.Channels[i], ending) != expected {
			return &errs.NotFoundError{Resource: "channel", ID: c.ID + "_" + expected + ending}
		}
	}
	if len(c.Channels) > want {
		return errs.NewValidationError("channels", len(c.Channels),
			fmt.Sprintf("case %s has %d channel files, descriptor declares %d", c.ID, len(c.Channels), want))
	}
	return nil
}

// publish moves the staged directories into the destination.
func (r *run) publish() error {
	if err := os.MkdirAll(r.destDir, 0755); err != nil {
		return errs.WrapIO("mkdir", r.destDir, err)
	}
	for _, sub := range []string{caseindex.ImagesDir, caseindex.LabelsDir} {
		final := filepath.Join(r.destDir, sub)
		if err := os.RemoveAll(final); err != nil {
			return errs.WrapIO("remove", final, err)
		}
		if err := os.Rename(filepath.Join(r.workDir, sub), final); err != nil {
			return errs.WrapIO2("rename", filepath.Join(r.workDir, sub), final, err)
		}
	}
	return nil
}

// emit writes the unified descriptor, then the manifest.
func (r *run) emit() error {
	if r.result.Cases != r.manifest.Len() {
		return errors.New("internal error: case count does not match manifest")
	}

	out := r.plan.Target.Clone()
	out.NumTraining = r.manifest.Len()
	if err := descriptor.Save(r.result.DescriptorPath, out); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}
	if err := r.manifest.Save(r.opts.ManifestPath); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	r.result.FinishedAt = time.Now().UTC()
	r.log.Info().
		Str("dest", filepath.Base(r.destDir)).
		Int("cases", r.result.Cases).
		Int("collisions", len(r.result.Collisions)).
		Msg("merge complete")
	return nil
}

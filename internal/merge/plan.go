package merge

import (
	"fmt"
	"path/filepath"

	"github.com/lherron/dsmerge/internal/caseindex"
	"github.com/lherron/dsmerge/internal/descriptor"
	"github.com/lherron/dsmerge/internal/ident"
	"github.com/lherron/dsmerge/internal/progress"
)

// Source is one input collection as seen by the pre-pass.
type Source struct {
	ID         int                    `json:"id"`
	Dir        string                 `json:"dir"`
	Descriptor *descriptor.Descriptor `json:"-"`
	Cases      int                    `json:"cases"`
	Channels   int                    `json:"channels"`
}

// Dirname returns the base name of the source directory.
func (s Source) Dirname() string {
	return filepath.Base(s.Dir)
}

// Ops returns the number of file operations planned for the source.
func (s Source) Ops() int {
	return progress.SourcePlan{Cases: s.Cases, Channels: s.Channels}.Ops()
}

// Plan is the result of the metadata pre-pass.
type Plan struct {
	Sources []Source `json:"sources"`
	// Target holds the agreed descriptor fields; NumTraining is left at 0
	// until the run completes.
	Target     *descriptor.Descriptor `json:"-"`
	TotalCases int                    `json:"total_cases"`
	TotalOps   int                    `json:"total_ops"`
	Strict     bool                   `json:"strict"`
}

// BuildPlan loads and reconciles every source descriptor and counts cases
// from the label directories. It never writes.
func BuildPlan(opts Options) (*Plan, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return buildPlan(&opts)
}

func buildPlan(opts *Options) (*Plan, error) {
	plan := &Plan{Strict: !opts.Lenient}
	var reference *descriptor.Descriptor
	var vocabularies []map[string]int
	var progressPlans []progress.SourcePlan

	for _, id := range opts.SourceIDs {
		dir, err := FindDatasetDir(opts.RawRoot, id)
		if err != nil {
			return nil, err
		}

		desc, err := descriptor.Load(filepath.Join(dir, descriptor.FileName))
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", ident.Number(id), err)
		}

		if reference == nil {
			reference = desc
		} else {
			check := descriptor.Reconcile
			if opts.Lenient {
				check = descriptor.ReconcileLenient
			}
			if err := check(reference, desc); err != nil {
				return nil, fmt.Errorf("dataset %s (%s): %w", ident.Number(id), filepath.Base(dir), err)
			}
		}
		vocabularies = append(vocabularies, desc.Labels)

		cases, err := caseindex.CountLabels(dir, reference.FileEnding)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", ident.Number(id), err)
		}

		src := Source{
			ID:         id,
			Dir:        dir,
			Descriptor: desc,
			Cases:      cases,
			Channels:   desc.ChannelCount(),
		}
		plan.Sources = append(plan.Sources, src)
		plan.TotalCases += cases
		progressPlans = append(progressPlans, progress.SourcePlan{Cases: cases, Channels: src.Channels})
	}

	plan.TotalOps = progress.PlanTotal(progressPlans)

	target := reference.Clone()
	target.NumTraining = 0
	if opts.Lenient {
		target.Labels = descriptor.MergeLabels(vocabularies...)
	}
	plan.Target = target

	return plan, nil
}

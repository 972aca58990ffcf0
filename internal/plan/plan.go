// Package plan loads merge plan files.
//
// A plan is a YAML (or JSON) document naming the raw root, the destination
// and the source datasets of a merge, plus the merge switches. Plans are read
// through afs so a location may be a local path or any supported URL.
package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/ident"
	"github.com/lherron/dsmerge/internal/materialize"
	"github.com/lherron/dsmerge/internal/merge"
)

// File is a parsed plan.
type File struct {
	RawRoot      string `yaml:"raw_root" json:"raw_root"`
	DestID       int    `yaml:"dest_id" json:"dest_id"`
	DestName     string `yaml:"dest_name" json:"dest_name"`
	SourceIDs    []int  `yaml:"source_ids" json:"source_ids"`
	Mode         string `yaml:"mode,omitempty" json:"mode,omitempty"`
	AlwaysPrefix bool   `yaml:"always_prefix,omitempty" json:"always_prefix,omitempty"`
	// Strict defaults to true when absent.
	Strict   *bool  `yaml:"strict,omitempty" json:"strict,omitempty"`
	Force    bool   `yaml:"force,omitempty" json:"force,omitempty"`
	Staged   bool   `yaml:"staged,omitempty" json:"staged,omitempty"`
	Manifest string `yaml:"manifest,omitempty" json:"manifest,omitempty"`
}

// document accepts both the current keys and their older aliases.
type document struct {
	File `yaml:",inline"`

	DatasetID        *int   `yaml:"dataset_id"`
	DatasetName      string `yaml:"dataset_name"`
	SourceDatasetIDs []int  `yaml:"source_dataset_ids"`
}

// Load reads and validates the plan at location. Relative raw_root and
// manifest paths of a local plan are resolved against the plan's directory.
func Load(ctx context.Context, location string) (*File, error) {
	fs := afs.New()
	ok, err := fs.Exists(ctx, location)
	if err != nil {
		return nil, errs.WrapIO("stat", location, err)
	}
	if !ok {
		return nil, &errs.NotFoundError{Resource: "plan", ID: location}
	}

	data, err := fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, errs.WrapIO("read", location, err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", location, err)
	}

	if !strings.Contains(location, "://") {
		base := filepath.Dir(location)
		f.RawRoot = resolve(base, f.RawRoot)
		f.Manifest = resolve(base, f.Manifest)
	}
	return f, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Parse decodes a plan document and validates it. Unknown keys are errors.
func Parse(data []byte) (*File, error) {
	var doc document
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errs.NewValidationError("plan", nil, fmt.Sprintf("cannot parse plan: %v", err))
	}

	f := doc.File
	if doc.DatasetID != nil {
		if f.DestID != 0 && f.DestID != *doc.DatasetID {
			return nil, errs.NewValidationError("dest_id", *doc.DatasetID, "dest_id and dataset_id disagree")
		}
		f.DestID = *doc.DatasetID
	}
	if f.DestName == "" {
		f.DestName = doc.DatasetName
	}
	if len(f.SourceIDs) == 0 {
		f.SourceIDs = doc.SourceDatasetIDs
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the plan for required fields.
func (f *File) Validate() error {
	if len(f.SourceIDs) == 0 {
		return errs.NewValidationError("source_ids", nil, "at least one source dataset id is required")
	}
	seen := make(map[int]bool, len(f.SourceIDs))
	for _, id := range f.SourceIDs {
		if seen[id] {
			return errs.NewValidationError("source_ids", id, fmt.Sprintf("dataset %s listed more than once", ident.Number(id)))
		}
		seen[id] = true
	}
	if f.DestID <= 0 {
		return errs.NewValidationError("dest_id", f.DestID, "dest_id must be a positive dataset id")
	}
	if strings.TrimSpace(f.DestName) == "" {
		return errs.NewValidationError("dest_name", f.DestName, "dest_name is required")
	}
	if f.Mode != "" {
		if _, err := materialize.ParseMode(f.Mode); err != nil {
			return err
		}
	}
	return nil
}

// IsStrict reports whether labels must match exactly.
func (f *File) IsStrict() bool {
	return f.Strict == nil || *f.Strict
}

// Options converts the plan into merge options.
func (f *File) Options() merge.Options {
	return merge.Options{
		RawRoot:      f.RawRoot,
		SourceIDs:    append([]int(nil), f.SourceIDs...),
		DestID:       f.DestID,
		DestName:     f.DestName,
		Mode:         materialize.Mode(f.Mode),
		Policy:       ident.PolicyFor(f.AlwaysPrefix),
		Force:        f.Force,
		Lenient:      !f.IsStrict(),
		Staged:       f.Staged,
		ManifestPath: f.Manifest,
	}
}

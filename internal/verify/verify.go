// Package verify checks a merged dataset against its manifest.
//
// Every manifest case must have its label and all channel files in the
// destination, and each of them must still resolve to the origin file it was
// materialized from: links by target identity, copies by content digest.
package verify

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/minio/highwayhash"
	"github.com/rs/zerolog"

	"github.com/lherron/dsmerge/internal/bulk"
	"github.com/lherron/dsmerge/internal/caseindex"
	"github.com/lherron/dsmerge/internal/descriptor"
	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/manifest"
)

var digestKey = []byte("dsmerge-verify-0123456789abcdef!")

// Options configures a verification.
type Options struct {
	DatasetDir string
	// ManifestPath defaults to the manifest inside DatasetDir.
	ManifestPath string
	// RawRoot holds the origin datasets; defaults to the parent of DatasetDir.
	RawRoot string
	// Jobs is the worker count; 0 uses the CPU count.
	Jobs   int
	Logger *zerolog.Logger
}

// Problem is one failed check.
type Problem struct {
	Case    string `json:"case,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	var b strings.Builder
	if p.Case != "" {
		b.WriteString(p.Case + ": ")
	}
	b.WriteString(p.Message)
	if p.Path != "" {
		b.WriteString(" (" + p.Path + ")")
	}
	return b.String()
}

// Report is the outcome of Verify.
type Report struct {
	DatasetDir  string    `json:"dataset_dir"`
	NumTraining int       `json:"num_training"`
	Cases       int       `json:"cases"`
	Files       int       `json:"files"`
	Links       int       `json:"links"`
	Copies      int       `json:"copies"`
	Problems    []Problem `json:"problems"`
}

// OK reports whether no problem was found.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

// Verify checks DatasetDir. Problems with individual files are collected in
// the report; an error is returned only when the descriptor or manifest
// cannot be read or ctx is canceled.
func Verify(ctx context.Context, opts Options) (*Report, error) {
	if opts.DatasetDir == "" {
		return nil, errs.NewValidationError("dataset_dir", "", "dataset directory not specified")
	}
	datasetDir, err := filepath.Abs(opts.DatasetDir)
	if err != nil {
		return nil, errs.WrapIO("resolve", opts.DatasetDir, err)
	}
	if opts.ManifestPath == "" {
		opts.ManifestPath = filepath.Join(datasetDir, manifest.FileName)
	}
	if opts.RawRoot == "" {
		opts.RawRoot = filepath.Dir(datasetDir)
	}

	desc, err := descriptor.Load(filepath.Join(datasetDir, descriptor.FileName))
	if err != nil {
		return nil, err
	}
	m, err := manifest.Load(opts.ManifestPath)
	if err != nil {
		return nil, err
	}

	v := &verifier{
		datasetDir: datasetDir,
		rawRoot:    opts.RawRoot,
		ending:     desc.FileEnding,
		channels:   desc.ChannelCount(),
		manifest:   m,
		report: &Report{
			DatasetDir:  datasetDir,
			NumTraining: desc.NumTraining,
			Cases:       m.Len(),
		},
	}

	if desc.NumTraining != m.Len() {
		v.addProblem(Problem{Message: fmt.Sprintf("numTraining is %d but manifest lists %d cases", desc.NumTraining, m.Len())})
	}
	v.checkUnlisted()

	op := &bulk.Operation{Jobs: opts.Jobs, ContinueOnError: true, Logger: opts.Logger}
	op.Execute(ctx, m.CaseIDs(), v.checkCase)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(v.report.Problems, func(i, j int) bool {
		a, b := v.report.Problems[i], v.report.Problems[j]
		if a.Case != b.Case {
			return a.Case < b.Case
		}
		return a.Path < b.Path
	})
	return v.report, nil
}

type verifier struct {
	datasetDir string
	rawRoot    string
	ending     string
	channels   int
	manifest   *manifest.Manifest

	mu     sync.Mutex
	report *Report
}

func (v *verifier) addProblem(p Problem) {
	v.mu.Lock()
	v.report.Problems = append(v.report.Problems, p)
	v.mu.Unlock()
}

// checkUnlisted reports label files the manifest does not know about.
func (v *verifier) checkUnlisted() {
	labelsDir := filepath.Join(v.datasetDir, caseindex.LabelsDir)
	entries, err := os.ReadDir(labelsDir)
	if err != nil {
		v.addProblem(Problem{Path: labelsDir, Message: "cannot read label directory"})
		return
	}
	for _, entry := range entries {
		id, ok := strings.CutSuffix(entry.Name(), v.ending)
		if !ok {
			continue
		}
		if _, listed := v.manifest.Cases[id]; !listed {
			v.addProblem(Problem{Case: id, Path: filepath.Join(labelsDir, entry.Name()), Message: "label not listed in manifest"})
		}
	}
}

func (v *verifier) checkCase(ctx context.Context, destID string) error {
	entry := v.manifest.Cases[destID]
	originDir := filepath.Join(v.rawRoot, entry.OriginDatasetDirname)

	type pair struct{ dst, origin string }
	pairs := make([]pair, 0, v.channels+1)
	for ch := 0; ch < v.channels; ch++ {
		token := fmt.Sprintf("_%04d", ch)
		pairs = append(pairs, pair{
			dst:    filepath.Join(v.datasetDir, caseindex.ImagesDir, destID+token+v.ending),
			origin: filepath.Join(originDir, caseindex.ImagesDir, entry.OriginCaseID+token+v.ending),
		})
	}
	pairs = append(pairs, pair{
		dst:    filepath.Join(v.datasetDir, caseindex.LabelsDir, destID+v.ending),
		origin: filepath.Join(originDir, caseindex.LabelsDir, entry.OriginCaseID+v.ending),
	})

	failed := 0
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if msg := v.checkFile(p.dst, p.origin); msg != "" {
			v.addProblem(Problem{Case: destID, Path: p.dst, Message: msg})
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(pairs))
	}
	return nil
}

// checkFile returns a problem description, or "" when dst matches origin.
func (v *verifier) checkFile(dst, origin string) string {
	info, err := os.Lstat(dst)
	if err != nil {
		return "missing"
	}

	v.mu.Lock()
	v.report.Files++
	v.mu.Unlock()

	originInfo, err := os.Stat(origin)
	if err != nil {
		return "origin file missing: " + origin
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		v.mu.Lock()
		v.report.Links++
		v.mu.Unlock()
		targetInfo, err := os.Stat(dst)
		if err != nil {
			return "dangling link"
		}
		if !os.SameFile(targetInfo, originInfo) {
			target, _ := os.Readlink(dst)
			return "link points to " + target + ", expected " + origin
		}
		return ""

	case info.Mode().IsRegular():
		v.mu.Lock()
		v.report.Copies++
		v.mu.Unlock()
		if info.Size() != originInfo.Size() {
			return fmt.Sprintf("size %d differs from origin size %d", info.Size(), originInfo.Size())
		}
		a, err := Digest(dst)
		if err != nil {
			return err.Error()
		}
		b, err := Digest(origin)
		if err != nil {
			return err.Error()
		}
		if a != b {
			return "content differs from origin"
		}
		return ""

	default:
		return "not a regular file or link"
	}
}

// Digest returns the 64-bit HighwayHash of the file at path.
func Digest(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errs.WrapIO("open", path, err)
	}
	defer f.Close()

	h, err := highwayhash.New64(digestKey)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return 0, errs.WrapIO("read", path, err)
	}
	return h.Sum64(), nil
}

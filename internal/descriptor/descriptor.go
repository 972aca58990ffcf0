// Package descriptor loads, compares and saves the dataset.json document
// that describes a collection's channels, label vocabulary and file suffix.
package descriptor

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"sort"
	"strconv"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/jsonfile"
)

// FileName is the descriptor file name inside a dataset directory.
const FileName = "dataset.json"

// Descriptor is the per-collection metadata document.
type Descriptor struct {
	ChannelNames map[string]string `json:"channel_names"`
	Labels       map[string]int    `json:"labels"`
	NumTraining  int               `json:"numTraining"`
	FileEnding   string            `json:"file_ending"`
	ReaderWriter string            `json:"overwrite_image_reader_writer,omitempty"`
}

// Load reads a descriptor. A missing or unparsable file is a NotFound
// condition; a descriptor without file_ending is a Validation condition.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.NotFoundError{Resource: "descriptor", ID: path, Detail: err.Error()}
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, &errs.NotFoundError{Resource: "descriptor", ID: path, Detail: fmt.Sprintf("malformed JSON: %v", err)}
	}

	if d.FileEnding == "" {
		return nil, errs.NewValidationError("file_ending", path, "descriptor "+path+" has no file_ending")
	}

	return &d, nil
}

// ChannelCount returns the number of channels. A descriptor without
// channel names counts as single-channel.
func (d *Descriptor) ChannelCount() int {
	if len(d.ChannelNames) == 0 {
		return 1
	}
	return len(d.ChannelNames)
}

// Clone returns a deep copy of d.
func (d *Descriptor) Clone() *Descriptor {
	return &Descriptor{
		ChannelNames: maps.Clone(d.ChannelNames),
		Labels:       maps.Clone(d.Labels),
		NumTraining:  d.NumTraining,
		FileEnding:   d.FileEnding,
		ReaderWriter: d.ReaderWriter,
	}
}

// Reconcile verifies that candidate agrees with reference on every field
// that must be shared by merged collections. The first mismatching field is
// reported as a ValidationError carrying a diff of both sides.
func Reconcile(reference, candidate *Descriptor) error {
	if err := reconcileChannels(reference, candidate); err != nil {
		return err
	}
	if !maps.Equal(reference.Labels, candidate.Labels) {
		return mismatch("labels", labelsObject(reference.Labels), labelsObject(candidate.Labels))
	}
	return reconcileFormat(reference, candidate)
}

// ReconcileLenient is Reconcile without the labels check. Label vocabularies
// are combined with MergeLabels instead.
func ReconcileLenient(reference, candidate *Descriptor) error {
	if err := reconcileChannels(reference, candidate); err != nil {
		return err
	}
	return reconcileFormat(reference, candidate)
}

func reconcileChannels(reference, candidate *Descriptor) error {
	if !maps.Equal(reference.ChannelNames, candidate.ChannelNames) {
		return mismatch("channel_names", channelsObject(reference.ChannelNames), channelsObject(candidate.ChannelNames))
	}
	return nil
}

func reconcileFormat(reference, candidate *Descriptor) error {
	if reference.FileEnding != candidate.FileEnding {
		return mismatch("file_ending", reference.FileEnding, candidate.FileEnding)
	}
	// Only compared when at least one side sets it.
	if (reference.ReaderWriter != "" || candidate.ReaderWriter != "") && reference.ReaderWriter != candidate.ReaderWriter {
		return mismatch("overwrite_image_reader_writer", reference.ReaderWriter, candidate.ReaderWriter)
	}
	return nil
}

func mismatch(field string, ref, cand interface{}) error {
	return &errs.ValidationError{
		Field:   field,
		Value:   cand,
		Message: fmt.Sprintf("inconsistent %q across datasets, cannot merge\n%s", field, diff(ref, cand)),
	}
}

// diff renders a unified diff of the JSON form of both values.
func diff(ref, cand interface{}) string {
	a, errA := jsonfile.Pretty(ref)
	b, errB := jsonfile.Pretty(cand)
	if errA != nil || errB != nil {
		return fmt.Sprintf("reference: %v\ncandidate: %v", ref, cand)
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: "reference",
		ToFile:   "candidate",
		Context:  1,
	})
	if err != nil {
		return fmt.Sprintf("reference: %v\ncandidate: %v", ref, cand)
	}
	return text
}

// MergeLabels combines label vocabularies. background keeps id 0; every
// other name gets the next free id in first-seen order. Within a single
// vocabulary names are visited by ascending id, then name.
func MergeLabels(vocabularies ...map[string]int) map[string]int {
	merged := map[string]int{"background": 0}
	next := 1
	for _, vocab := range vocabularies {
		for _, name := range sortedLabelNames(vocab) {
			if name == "background" {
				continue
			}
			if _, ok := merged[name]; !ok {
				merged[name] = next
				next++
			}
		}
	}
	return merged
}

// Save writes d atomically to path with a stable key order.
func Save(path string, d *Descriptor) error {
	return jsonfile.Save(path, d.ordered())
}

func (d *Descriptor) ordered() jsonfile.Object {
	obj := jsonfile.Object{
		{Key: "channel_names", Value: channelsObject(d.ChannelNames)},
		{Key: "labels", Value: labelsObject(d.Labels)},
		{Key: "numTraining", Value: d.NumTraining},
		{Key: "file_ending", Value: d.FileEnding},
	}
	if d.ReaderWriter != "" {
		obj = append(obj, jsonfile.Field{Key: "overwrite_image_reader_writer", Value: d.ReaderWriter})
	}
	return obj
}

// channelsObject orders channel names by numeric index.
func channelsObject(channels map[string]string) jsonfile.Object {
	keys := make([]string, 0, len(channels))
	for k := range channels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil && a != b {
			return a < b
		}
		return keys[i] < keys[j]
	})

	obj := make(jsonfile.Object, 0, len(keys))
	for _, k := range keys {
		obj = append(obj, jsonfile.Field{Key: k, Value: channels[k]})
	}
	return obj
}

// labelsObject orders labels by id, then name.
func labelsObject(labels map[string]int) jsonfile.Object {
	names := sortedLabelNames(labels)
	obj := make(jsonfile.Object, 0, len(names))
	for _, name := range names {
		obj = append(obj, jsonfile.Field{Key: name, Value: labels[name]})
	}
	return obj
}

func sortedLabelNames(labels map[string]int) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if labels[names[i]] != labels[names[j]] {
			return labels[names[i]] < labels[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// Package manifest records where every merged case came from.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/jsonfile"
)

// FileName is the default manifest file name inside the destination.
const FileName = "dataset_merged_manifest.json"

// Entry is the provenance of one destination case.
type Entry struct {
	OriginDatasetID      string `json:"origin_dataset_id"`
	OriginDatasetDirname string `json:"origin_dataset_dirname"`
	OriginCaseID         string `json:"origin_case_id"`
}

// Manifest maps source dataset numbers to directory names and destination
// case ids to their origin. Keys are written in insertion order.
type Manifest struct {
	Datasets map[string]string `json:"datasets"`
	Cases    map[string]Entry  `json:"cases"`

	datasetOrder []string
	caseOrder    []string
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		Datasets: make(map[string]string),
		Cases:    make(map[string]Entry),
	}
}

// AddDataset records a source dataset. Re-adding a number overwrites the
// directory name without changing order.
func (m *Manifest) AddDataset(number, dirname string) {
	if _, ok := m.Datasets[number]; !ok {
		m.datasetOrder = append(m.datasetOrder, number)
	}
	m.Datasets[number] = dirname
}

// AddCase records a merged case. Destination ids must be unique.
func (m *Manifest) AddCase(destID string, e Entry) error {
	if _, ok := m.Cases[destID]; ok {
		return errs.NewValidationError("cases", destID, fmt.Sprintf("destination case %s already recorded", destID))
	}
	m.Cases[destID] = e
	m.caseOrder = append(m.caseOrder, destID)
	return nil
}

// Len returns the number of recorded cases.
func (m *Manifest) Len() int {
	return len(m.Cases)
}

// CaseIDs returns destination case ids in insertion order.
func (m *Manifest) CaseIDs() []string {
	return append([]string(nil), m.caseOrder...)
}

// Save writes the manifest atomically.
func (m *Manifest) Save(path string) error {
	return jsonfile.Save(path, m.ordered())
}

func (m *Manifest) ordered() jsonfile.Object {
	datasets := make(jsonfile.Object, 0, len(m.datasetOrder))
	for _, k := range m.datasetOrder {
		datasets = append(datasets, jsonfile.Field{Key: k, Value: m.Datasets[k]})
	}

	cases := make(jsonfile.Object, 0, len(m.caseOrder))
	for _, k := range m.caseOrder {
		e := m.Cases[k]
		cases = append(cases, jsonfile.Field{Key: k, Value: jsonfile.Object{
			{Key: "origin_dataset_id", Value: e.OriginDatasetID},
			{Key: "origin_dataset_dirname", Value: e.OriginDatasetDirname},
			{Key: "origin_case_id", Value: e.OriginCaseID},
		}})
	}

	return jsonfile.Object{
		{Key: "datasets", Value: datasets},
		{Key: "cases", Value: cases},
	}
}

// Load reads a manifest. Insertion order is not stored in the file, so a
// loaded manifest lists datasets and cases in sorted order.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.NotFoundError{Resource: "manifest", ID: path, Detail: err.Error()}
	}

	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, &errs.NotFoundError{Resource: "manifest", ID: path, Detail: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if m.Datasets == nil {
		m.Datasets = make(map[string]string)
	}
	if m.Cases == nil {
		m.Cases = make(map[string]Entry)
	}

	for k := range m.Datasets {
		m.datasetOrder = append(m.datasetOrder, k)
	}
	for k := range m.Cases {
		m.caseOrder = append(m.caseOrder, k)
	}
	sort.Strings(m.datasetOrder)
	sort.Strings(m.caseOrder)

	return m, nil
}

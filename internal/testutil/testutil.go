package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/lherron/dsmerge/internal/descriptor"
)

// DefaultFileEnding is the suffix used by fixture datasets.
const DefaultFileEnding = ".nii.gz"

// Dataset describes a fixture dataset directory.
type Dataset struct {
	ID       int
	Name     string
	Cases    []string
	Channels int

	// Descriptor overrides the generated dataset.json when set.
	Descriptor *descriptor.Descriptor
	// FileEnding defaults to DefaultFileEnding.
	FileEnding string
}

// DirName returns the directory name of the dataset under a raw root.
func (d Dataset) DirName() string {
	return fmt.Sprintf("Dataset%03d_%s", d.ID, d.Name)
}

// DefaultDescriptor returns the descriptor fixtures use unless overridden.
func DefaultDescriptor(channels int, fileEnding string) *descriptor.Descriptor {
	names := make(map[string]string, channels)
	for i := 0; i < channels; i++ {
		names[fmt.Sprintf("%d", i)] = fmt.Sprintf("CH%d", i)
	}
	return &descriptor.Descriptor{
		ChannelNames: names,
		Labels:       map[string]int{"background": 0, "lesion": 1},
		FileEnding:   fileEnding,
	}
}

// MakeDataset writes a dataset directory with imagesTr, labelsTr and
// dataset.json under rawRoot and returns its path. Every file holds
// ChannelContent or LabelContent so tests can check byte identity.
func MakeDataset(t *testing.T, rawRoot string, d Dataset) string {
	t.Helper()

	ending := d.FileEnding
	if ending == "" {
		ending = DefaultFileEnding
	}
	channels := d.Channels
	if channels == 0 {
		channels = 1
	}

	dir := filepath.Join(rawRoot, d.DirName())
	imagesDir := filepath.Join(dir, "imagesTr")
	labelsDir := filepath.Join(dir, "labelsTr")
	for _, p := range []string{imagesDir, labelsDir} {
		if err := os.MkdirAll(p, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", p, err)
		}
	}

	for _, c := range d.Cases {
		for ch := 0; ch < channels; ch++ {
			name := fmt.Sprintf("%s_%04d%s", c, ch, ending)
			WriteFile(t, imagesDir, name, ChannelContent(d.ID, c, ch))
		}
		WriteFile(t, labelsDir, c+ending, LabelContent(d.ID, c))
	}

	desc := d.Descriptor
	if desc == nil {
		desc = DefaultDescriptor(channels, ending)
	}
	desc = desc.Clone()
	desc.NumTraining = len(d.Cases)
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal descriptor: %v", err)
	}
	WriteFile(t, dir, descriptor.FileName, string(data))

	return dir
}

// ChannelContent is the fixture content of a channel file.
func ChannelContent(datasetID int, caseID string, channel int) string {
	return fmt.Sprintf("image D%03d %s channel %d", datasetID, caseID, channel)
}

// LabelContent is the fixture content of a label file.
func LabelContent(datasetID int, caseID string) string {
	return fmt.Sprintf("label D%03d %s", datasetID, caseID)
}

// TempDir creates a temporary directory for testing
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// WriteFile writes content to a file in a directory
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// ReadFile reads content from a file
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(data)
}

// ListDir returns the sorted entry names of a directory.
func ListDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// AssertNoError asserts that an error is nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

// AssertError asserts that an error is not nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
}

// Package caseindex discovers the cases of a dataset directory.
//
// Channel files live in imagesTr as <case>_<NNNN><suffix>, labels in labelsTr
// as <case><suffix>. The label directory decides which cases exist; the
// channel index is built with a single directory read so large collections
// stay linear in file count.
package caseindex

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/lherron/dsmerge/internal/errs"
)

// Directory names inside a dataset.
const (
	ImagesDir = "imagesTr"
	LabelsDir = "labelsTr"
)

// Case is one training sample: ordered channel files plus one label file.
type Case struct {
	ID       string
	Channels []string
	Label    string
}

// Index scans imagesDir once and groups channel files by case id. Each
// group is sorted by its numeric channel token. Files that do not end in
// suffix or lack a 4-digit channel token are ignored.
func Index(imagesDir, suffix string) (map[string][]string, error) {
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errs.NotFoundError{Resource: "images directory", ID: imagesDir}
		}
		return nil, errs.WrapIO("read dir", imagesDir, err)
	}

	index := make(map[string][]string)
	for _, entry := range entries {
		caseID, _, ok := SplitChannelName(entry.Name(), suffix)
		if !ok {
			continue
		}
		index[caseID] = append(index[caseID], filepath.Join(imagesDir, entry.Name()))
	}

	for _, paths := range index {
		sort.Slice(paths, func(i, j int) bool {
			return channelNumber(paths[i], suffix) < channelNumber(paths[j], suffix)
		})
	}

	return index, nil
}

// SplitChannelName splits "<case>_<NNNN><suffix>" into case id and channel
// token.
func SplitChannelName(name, suffix string) (caseID, token string, ok bool) {
	base, found := strings.CutSuffix(name, suffix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(base, '_')
	if i < 0 {
		return "", "", false
	}
	caseID, token = base[:i], base[i+1:]
	if len(token) != 4 || !isDigits(token) {
		return "", "", false
	}
	return caseID, token, true
}

// ChannelToken returns the 4-digit channel token of a channel file path.
func ChannelToken(path, suffix string) string {
	_, token, _ := SplitChannelName(filepath.Base(path), suffix)
	return token
}

func channelNumber(path, suffix string) int {
	n, _ := strconv.Atoi(ChannelToken(path, suffix))
	return n
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Collect returns the cases of datasetDir in sorted label order. A label
// without any channel file fails with NotFound naming the case.
func Collect(datasetDir, suffix string) ([]Case, error) {
	imagesDir := filepath.Join(datasetDir, ImagesDir)
	labelsDir := filepath.Join(datasetDir, LabelsDir)
	if err := requireDirs(datasetDir, imagesDir, labelsDir); err != nil {
		return nil, err
	}

	index, err := Index(imagesDir, suffix)
	if err != nil {
		return nil, err
	}

	labels, err := labelNames(labelsDir, suffix)
	if err != nil {
		return nil, err
	}

	cases := make([]Case, 0, len(labels))
	for _, name := range labels {
		caseID := strings.TrimSuffix(name, suffix)
		channels := index[caseID]
		if len(channels) == 0 {
			return nil, &errs.NotFoundError{
				Resource: "case",
				ID:       caseID,
				Detail:   "no image channels in " + imagesDir,
			}
		}
		cases = append(cases, Case{
			ID:       caseID,
			Channels: channels,
			Label:    filepath.Join(labelsDir, name),
		})
	}

	return cases, nil
}

// CountLabels returns the number of label files in datasetDir without
// touching the image directory.
func CountLabels(datasetDir, suffix string) (int, error) {
	labelsDir := filepath.Join(datasetDir, LabelsDir)
	if err := requireDirs(datasetDir, labelsDir); err != nil {
		return 0, err
	}
	labels, err := labelNames(labelsDir, suffix)
	if err != nil {
		return 0, err
	}
	return len(labels), nil
}

// labelNames lists label file names ending in suffix, sorted.
func labelNames(labelsDir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(labelsDir)
	if err != nil {
		return nil, errs.WrapIO("read dir", labelsDir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), suffix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func requireDirs(datasetDir string, dirs ...string) error {
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return &errs.NotFoundError{
				Resource: "directory",
				ID:       dir,
				Detail:   "expected " + ImagesDir + " and " + LabelsDir + " in " + datasetDir,
			}
		}
	}
	return nil
}

package merge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/ident"
)

// DirName returns the directory name of dataset id with the given name.
func DirName(id int, name string) string {
	return fmt.Sprintf("Dataset%s_%s", ident.Number(id), name)
}

// DestDir returns the destination directory under rawRoot.
func DestDir(rawRoot string, id int, name string) string {
	return filepath.Join(rawRoot, DirName(id, name))
}

// FindDatasetDir returns the single DatasetNNN_* directory for id.
func FindDatasetDir(rawRoot string, id int) (string, error) {
	entries, err := os.ReadDir(rawRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &errs.NotFoundError{Resource: "raw root", ID: rawRoot}
		}
		return "", errs.WrapIO("read dir", rawRoot, err)
	}

	prefix := fmt.Sprintf("Dataset%s_", ident.Number(id))
	var matches []string
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		// Stat follows symlinked dataset directories.
		path := filepath.Join(rawRoot, entry.Name())
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			matches = append(matches, entry.Name())
		}
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", &errs.NotFoundError{
			Resource: "dataset",
			ID:       ident.Number(id),
			Detail:   "no " + prefix + "* directory under " + rawRoot,
		}
	case 1:
		return filepath.Join(rawRoot, matches[0]), nil
	default:
		return "", errs.NewValidationError("dataset", id,
			fmt.Sprintf("multiple directories for dataset %s under %s: %s", ident.Number(id), rawRoot, strings.Join(matches, ", ")))
	}
}

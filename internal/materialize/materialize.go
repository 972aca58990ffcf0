// Package materialize makes source files appear at destination paths,
// either as symbolic links or as byte-for-byte copies.
package materialize

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lherron/dsmerge/internal/errs"
)

// Mode selects how a file is materialized.
type Mode string

const (
	ModeLink Mode = "link"
	ModeCopy Mode = "copy"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLink, ModeCopy:
		return Mode(s), nil
	default:
		return "", errs.NewValidationError("mode", s, fmt.Sprintf("mode must be %q or %q, got %q", ModeLink, ModeCopy, s))
	}
}

// Place makes src available at dst. Link mode replaces any existing entry
// at dst; copy mode overwrites dst. Parent directories are created.
func Place(src, dst string, mode Mode) error {
	_, err := place(src, dst, mode)
	return err
}

func place(src, dst string, mode Mode) (int64, error) {
	if mode != ModeLink && mode != ModeCopy {
		_, err := ParseMode(string(mode))
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, errs.WrapIO("mkdir", filepath.Dir(dst), err)
	}

	if mode == ModeLink {
		return 0, link(src, dst)
	}
	return copyFile(src, dst)
}

func link(src, dst string) error {
	// Lstat so a dangling link at dst is still replaced.
	if _, err := os.Lstat(dst); err == nil {
		if err := os.Remove(dst); err != nil {
			return errs.WrapIO("remove", dst, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return errs.WrapIO("stat", dst, err)
	}

	if err := os.Symlink(src, dst); err != nil {
		return errs.WrapIO2("symlink", src, dst, err)
	}
	return nil
}

// copyFile copies src to dst, keeping src's permission bits
func copyFile(src, dst string) (int64, error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, errs.WrapIO2("copy", src, dst, err)
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return 0, errs.WrapIO2("copy", src, dst, err)
	}

	// A symlink left at dst by an earlier link-mode run must not be
	// followed, or the copy would overwrite the source itself.
	if fi, err := os.Lstat(dst); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(dst); err != nil {
			return 0, errs.WrapIO("remove", dst, err)
		}
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, errs.WrapIO2("copy", src, dst, err)
	}
	defer dstFile.Close()

	n, err := io.Copy(dstFile, srcFile)
	if err != nil {
		return n, errs.WrapIO2("copy", src, dst, err)
	}
	if err := dstFile.Sync(); err != nil {
		return n, errs.WrapIO2("copy", src, dst, err)
	}
	return n, nil
}

// Stats counts the work done by a Materializer.
type Stats struct {
	Links  int   `json:"links"`
	Copies int   `json:"copies"`
	Bytes  int64 `json:"bytes"`
}

// Materializer places files with a fixed mode and keeps Stats.
type Materializer struct {
	Mode  Mode
	Stats Stats
}

// New returns a Materializer for mode.
func New(mode Mode) (*Materializer, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	return &Materializer{Mode: mode}, nil
}

// Place places one file and updates Stats.
func (m *Materializer) Place(src, dst string) error {
	n, err := place(src, dst, m.Mode)
	if err != nil {
		return err
	}
	if m.Mode == ModeLink {
		m.Stats.Links++
	} else {
		m.Stats.Copies++
		m.Stats.Bytes += n
	}
	return nil
}

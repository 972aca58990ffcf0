// Package jsonfile writes JSON documents with a fixed key order and
// publishes them atomically (temp sibling + rename).
package jsonfile

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/lherron/dsmerge/internal/errs"
)

// Object is a slice of key-value pairs that marshals as a JSON object
// with keys in the order they appear in the slice.
type Object []Field

// Field is one member of an Object.
type Field struct {
	Key   string
	Value interface{}
}

// MarshalJSON implements json.Marshaler
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyJSON, err := encode(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')

		valJSON, err := encode(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encode marshals v without HTML escaping and without the trailing newline
// json.Encoder appends.
func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Pretty encodes v with two-space indentation and a trailing newline.
func Pretty(v interface{}) ([]byte, error) {
	compact, err := encode(v)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// WriteAtomic writes data to a temporary file next to path and renames it
// into place. An existing file at path is either left untouched or fully
// replaced.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.WrapIO("mkdir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errs.WrapIO("create temp", dir, err)
	}
	tmpPath := tmp.Name()

	fail := func(op string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errs.WrapIO(op, tmpPath, err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errs.WrapIO("close", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errs.WrapIO2("rename", tmpPath, path, err)
	}
	return nil
}

// Save pretty-prints v and writes it atomically with mode 0644.
func Save(path string, v interface{}) error {
	data, err := Pretty(v)
	if err != nil {
		return err
	}
	return WriteAtomic(path, data, 0644)
}

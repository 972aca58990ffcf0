package plan

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/ident"
	"github.com/lherron/dsmerge/internal/materialize"
	"github.com/lherron/dsmerge/internal/testutil"
)

func TestParse(t *testing.T) {
	f, err := Parse([]byte(`
raw_root: /data/raw
dest_id: 100
dest_name: Combined
source_ids: [31, 32]
mode: copy
always_prefix: true
strict: false
staged: true
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	opts := f.Options()
	if opts.RawRoot != "/data/raw" || opts.DestID != 100 || opts.DestName != "Combined" {
		t.Errorf("unexpected destination: %+v", opts)
	}
	if len(opts.SourceIDs) != 2 || opts.SourceIDs[0] != 31 || opts.SourceIDs[1] != 32 {
		t.Errorf("SourceIDs = %v", opts.SourceIDs)
	}
	if opts.Mode != materialize.ModeCopy {
		t.Errorf("Mode = %s", opts.Mode)
	}
	if opts.Policy != ident.AlwaysPrefix {
		t.Errorf("Policy = %s", opts.Policy)
	}
	if !opts.Lenient || !opts.Staged || opts.Force {
		t.Errorf("unexpected switches: %+v", opts)
	}
}

func TestParseAliasesAndJSON(t *testing.T) {
	f, err := Parse([]byte(`{"dataset_id": 7, "dataset_name": "Joined", "source_dataset_ids": [1, 2, 3]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.DestID != 7 || f.DestName != "Joined" || len(f.SourceIDs) != 3 {
		t.Errorf("aliases not applied: %+v", f)
	}
	if !f.IsStrict() {
		t.Error("strict should default to true")
	}
	if f.Options().Policy != ident.KeepOrPrefix {
		t.Error("policy should default to keep-or-prefix")
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no sources", "dest_id: 1\ndest_name: X\n"},
		{"duplicate sources", "dest_id: 1\ndest_name: X\nsource_ids: [2, 2]\n"},
		{"zero dest", "dest_name: X\nsource_ids: [2]\n"},
		{"missing name", "dest_id: 1\nsource_ids: [2]\n"},
		{"bad mode", "dest_id: 1\ndest_name: X\nsource_ids: [2]\nmode: move\n"},
		{"unknown key", "dest_id: 1\ndest_name: X\nsource_ids: [2]\nsources: [3]\n"},
		{"alias conflict", "dest_id: 1\ndataset_id: 2\ndest_name: X\nsource_ids: [3]\n"},
		{"not yaml", "[unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errs.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "plans/merge.yaml", `
raw_root: ../raw
dest_id: 100
dest_name: Combined
source_ids: [31]
manifest: out/manifest.json
`)

	f, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(dir, "raw"); f.RawRoot != want {
		t.Errorf("RawRoot = %s, want %s", f.RawRoot, want)
	}
	if want := filepath.Join(dir, "plans", "out", "manifest.json"); f.Manifest != want {
		t.Errorf("Manifest = %s, want %s", f.Manifest, want)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	if !errs.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

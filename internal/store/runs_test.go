package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/ident"
	"github.com/lherron/dsmerge/internal/manifest"
	"github.com/lherron/dsmerge/internal/materialize"
	"github.com/lherron/dsmerge/internal/merge"
	"github.com/lherron/dsmerge/internal/testutil"
)

// setupTestStore opens a temporary ledger with migrations applied.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunStore_RecordsMerge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := t.TempDir()
	testutil.MakeDataset(t, root, testutil.Dataset{ID: 31, Name: "Alpha", Cases: []string{"A", "B"}})
	testutil.MakeDataset(t, root, testutil.Dataset{ID: 32, Name: "Beta", Cases: []string{"B", "C"}})

	res, err := merge.Run(ctx, merge.Options{
		RawRoot:   root,
		SourceIDs: []int{31, 32},
		DestID:    100,
		DestName:  "Combined",
		Recorder:  s.Runs,
	})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if res.LedgerError != "" {
		t.Fatalf("ledger error: %s", res.LedgerError)
	}

	run, err := s.Runs.Get(ctx, res.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Status != StatusSucceeded {
		t.Errorf("status = %q, want %q", run.Status, StatusSucceeded)
	}
	if run.NumCases != 4 || run.Collisions != 1 || run.OpsTotal != 8 {
		t.Errorf("unexpected counts: %+v", run)
	}
	if run.Mode != "link" || run.Policy != string(ident.KeepOrPrefix) || !run.Strict {
		t.Errorf("unexpected settings: %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("finished_at not set")
	}

	cases, err := s.Runs.Cases(ctx, res.RunID)
	if err != nil {
		t.Fatalf("Cases: %v", err)
	}
	want := []string{"A", "B", "D032__B", "C"}
	if len(cases) != len(want) {
		t.Fatalf("got %d cases, want %d", len(cases), len(want))
	}
	for i, id := range want {
		if cases[i].DestCaseID != id {
			t.Errorf("case %d = %s, want %s", i, cases[i].DestCaseID, id)
		}
	}
	if cases[2].OriginDatasetID != "032" || cases[2].OriginCaseID != "B" || cases[2].OriginDatasetDirname != "Dataset032_Beta" {
		t.Errorf("unexpected provenance: %+v", cases[2])
	}

	// Prefix lookup.
	byPrefix, err := s.Runs.Get(ctx, res.RunID[:8])
	if err != nil {
		t.Fatalf("Get by prefix: %v", err)
	}
	if byPrefix.UUID != res.RunID {
		t.Errorf("prefix lookup returned %s", byPrefix.UUID)
	}
}

func TestRunStore_Fail(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	info := merge.RunInfo{RunID: "run-1", DestDir: "/raw/Dataset100_X", Mode: materialize.ModeCopy, Policy: ident.AlwaysPrefix}
	if err := s.Runs.Begin(ctx, info); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Recorded even after cancellation.
	cancel()
	if err := s.Runs.Fail(ctx, "run-1", errors.New("labels differ")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	run, err := s.Runs.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Status != StatusFailed || run.Error != "labels differ" {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.Strict {
		t.Error("strict should be false")
	}
}

func TestRunStore_FinishAfterCancel(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	info := merge.RunInfo{RunID: "run-2", DestDir: "/raw/Dataset100_X", Mode: materialize.ModeLink, Policy: ident.KeepOrPrefix}
	if err := s.Runs.Begin(ctx, info); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	m := manifest.New()
	m.AddDataset("031", "Dataset031_Alpha")
	if err := m.AddCase("A", manifest.Entry{OriginDatasetID: "031", OriginDatasetDirname: "Dataset031_Alpha", OriginCaseID: "A"}); err != nil {
		t.Fatalf("AddCase: %v", err)
	}

	// Recorded even after cancellation.
	cancel()
	if err := s.Runs.Finish(ctx, &merge.Result{RunID: "run-2", Cases: 1}, m); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	run, err := s.Runs.Get(context.Background(), "run-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Status != StatusSucceeded || run.NumCases != 1 {
		t.Errorf("unexpected run: %+v", run)
	}
	cases, err := s.Runs.Cases(context.Background(), "run-2")
	if err != nil {
		t.Fatalf("Cases: %v", err)
	}
	if len(cases) != 1 || cases[0].DestCaseID != "A" {
		t.Errorf("unexpected cases: %+v", cases)
	}
}

func TestRunStore_FinishUnknownRun(t *testing.T) {
	s := setupTestStore(t)

	err := s.Runs.Finish(context.Background(), &merge.Result{RunID: "nope"}, manifest.New())
	if !errs.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRunStore_ListAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"aaa-1", "aaa-2", "bbb-1"} {
		if err := s.Runs.Begin(ctx, merge.RunInfo{RunID: id, DestDir: "/d", Mode: materialize.ModeLink, Policy: ident.KeepOrPrefix, Strict: true}); err != nil {
			t.Fatalf("Begin %s: %v", id, err)
		}
	}

	runs, err := s.Runs.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].UUID != "bbb-1" {
		t.Errorf("newest run = %s, want bbb-1", runs[0].UUID)
	}
	for _, r := range runs {
		if r.Status != StatusRunning {
			t.Errorf("run %s status = %s", r.UUID, r.Status)
		}
	}

	limited, err := s.Runs.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored: %d runs", len(limited))
	}

	if _, err := s.Runs.Get(ctx, "aaa"); !errs.IsValidation(err) {
		t.Errorf("ambiguous prefix: expected validation error, got %v", err)
	}
	if _, err := s.Runs.Get(ctx, "zzz"); !errs.IsNotFound(err) {
		t.Errorf("unknown run: expected not found, got %v", err)
	}
}

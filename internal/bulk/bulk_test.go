package bulk

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSequentialExecution(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	executed := []string{}

	op := &Operation{Jobs: 1}

	fn := func(_ context.Context, item string) error {
		executed = append(executed, item)
		return nil
	}

	result := op.Execute(context.Background(), items, fn)

	if result.TotalItems != 5 {
		t.Errorf("Expected 5 total items, got %d", result.TotalItems)
	}
	if result.Succeeded != 5 {
		t.Errorf("Expected 5 successes, got %d", result.Succeeded)
	}
	if result.Failed != 0 {
		t.Errorf("Expected 0 failures, got %d", result.Failed)
	}

	for i, item := range items {
		if executed[i] != item {
			t.Errorf("Order not preserved: expected %s at index %d, got %s", item, i, executed[i])
		}
	}
}

func TestParallelExecution(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	executedMap := make(map[string]bool)
	var mu sync.Mutex

	op := &Operation{Jobs: 4}

	fn := func(_ context.Context, item string) error {
		mu.Lock()
		executedMap[item] = true
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	result := op.Execute(context.Background(), items, fn)

	if result.Succeeded != 8 {
		t.Errorf("Expected 8 successes, got %d", result.Succeeded)
	}
	if result.Skipped != 0 {
		t.Errorf("Expected 0 skipped, got %d", result.Skipped)
	}
	for _, item := range items {
		if !executedMap[item] {
			t.Errorf("Item %s was not executed", item)
		}
	}
}

func TestContinueOnErrorSortsErrors(t *testing.T) {
	items := []string{"e", "d", "c", "b", "a"}

	op := &Operation{Jobs: 3, ContinueOnError: true}

	fn := func(_ context.Context, item string) error {
		if item == "b" || item == "d" {
			return errors.New("simulated error")
		}
		return nil
	}

	result := op.Execute(context.Background(), items, fn)

	if result.Succeeded != 3 || result.Failed != 2 {
		t.Fatalf("Expected 3/2, got %d/%d", result.Succeeded, result.Failed)
	}
	if result.Errors[0].Item != "b" || result.Errors[1].Item != "d" {
		t.Errorf("Errors not sorted: %+v", result.Errors)
	}
	if result.ExitCode() != 5 {
		t.Errorf("Expected exit code 5, got %d", result.ExitCode())
	}
}

func TestStopOnError(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	executed := []string{}

	op := &Operation{Jobs: 1}

	fn := func(_ context.Context, item string) error {
		executed = append(executed, item)
		if item == "c" {
			return errors.New("simulated error")
		}
		return nil
	}

	result := op.Execute(context.Background(), items, fn)

	if result.Succeeded != 2 {
		t.Errorf("Expected 2 successes, got %d", result.Succeeded)
	}
	if result.Failed != 1 {
		t.Errorf("Expected 1 failure, got %d", result.Failed)
	}
	if result.Skipped != 2 {
		t.Errorf("Expected 2 skipped, got %d", result.Skipped)
	}
	if len(executed) != 3 {
		t.Errorf("Expected execution to stop after 3 items, got %d", len(executed))
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, jobs := range []int{1, 4} {
		op := &Operation{Jobs: jobs}
		result := op.Execute(ctx, []string{"a", "b", "c", "d"}, func(context.Context, string) error {
			t.Error("item should not run")
			return nil
		})
		if result.Skipped != 4 {
			t.Errorf("jobs=%d: expected 4 skipped, got %d", jobs, result.Skipped)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		result   *Result
		expected int
	}{
		{"all succeeded", &Result{TotalItems: 10, Succeeded: 10}, 0},
		{"partial success", &Result{TotalItems: 10, Succeeded: 7, Failed: 3}, 5},
		{"all failed", &Result{TotalItems: 10, Failed: 10}, 1},
		{"stopped early", &Result{TotalItems: 10, Failed: 1, Skipped: 9}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := tt.result.ExitCode()
			if code != tt.expected {
				t.Errorf("Expected exit code %d, got %d", tt.expected, code)
			}
		})
	}
}

func TestPrintSummary(t *testing.T) {
	r := &Result{TotalItems: 3, Succeeded: 2, Failed: 1, Errors: []ItemError{{Item: "x", Error: errors.New("boom")}}}
	var buf bytes.Buffer
	r.PrintSummary(&buf)

	out := buf.String()
	if !strings.Contains(out, "2 passed, 1 failed") {
		t.Errorf("Unexpected summary: %q", out)
	}
	if !strings.Contains(out, "x: boom") {
		t.Errorf("Missing error line: %q", out)
	}
}

func TestEmptyItems(t *testing.T) {
	op := &Operation{Jobs: 4}

	result := op.Execute(context.Background(), nil, func(context.Context, string) error { return nil })

	if result.TotalItems != 0 || result.Succeeded != 0 {
		t.Errorf("Expected empty result, got %+v", result)
	}
}

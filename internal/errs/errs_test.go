package errs

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		exit     int
	}{
		{"not found", NewNotFoundError("case", "A"), ErrNotFound, ExitNotFound},
		{"validation", NewValidationError("labels", nil, "mismatch"), ErrInvalidInput, ExitValidation},
		{"io", WrapIO("symlink", "/a", fs.ErrPermission), ErrIO, ExitIO},
		{"wrapped", fmt.Errorf("dataset 031: %w", NewNotFoundError("dataset", "031")), ErrNotFound, ExitNotFound},
		{"plain", errors.New("boom"), nil, ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.sentinel != nil && !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("expected %v to match %v", tt.err, tt.sentinel)
			}
			if got := ExitCode(tt.err); got != tt.exit {
				t.Errorf("ExitCode = %d, want %d", got, tt.exit)
			}
		})
	}
}

func TestIOErrorUnwrapsToOSError(t *testing.T) {
	err := WrapIO2("copy", "/src/a", "/dst/a", fs.ErrNotExist)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("expected IOError to unwrap to fs.ErrNotExist")
	}
	want := "copy /src/a -> /dst/a: file does not exist"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if IsNotFound(err) {
		t.Error("IOError must not be classified as NotFound")
	}
}

func TestWrapIONil(t *testing.T) {
	if WrapIO("read", "/x", nil) != nil {
		t.Error("expected nil for nil error")
	}
	if WrapIO2("link", "/a", "/b", nil) != nil {
		t.Error("expected nil for nil error")
	}
	if ExitCode(nil) != ExitOK {
		t.Error("expected ExitOK for nil")
	}
}

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, closeFn, err := New(Options{Development: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer closeFn()
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, closeFn, err := New(Options{Quiet: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closeFn()
	if logger.Core().Enabled(-1) || logger.Core().Enabled(0) {
		t.Fatal("quiet logger should drop debug and info")
	}
	logger.Warn("production logger ready")
}

func TestDebugFileReceivesDebugEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trace.json")
	logger, closeFn, err := New(Options{Development: true, NoColor: true, Quiet: true, Debug: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug("probe sent")
	closeFn()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"probe sent"`) {
		t.Fatalf("expected debug entry in trace, got %q", raw)
	}
}

func TestDebugFileOpenError(t *testing.T) {
	t.Parallel()

	_, _, err := New(Options{Debug: filepath.Join(t.TempDir(), "missing", "trace.json")})
	if err == nil {
		t.Fatal("expected error for unwritable debug path")
	}
}

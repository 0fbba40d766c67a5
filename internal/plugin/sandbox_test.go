package plugin

import (
	"errors"
	"strings"
	"testing"
)

func TestSandboxExecuteSuccess(t *testing.T) {
	sb := newSandbox("x", DefaultMaxErrors)

	result, err := sb.ExecuteSafely(func() (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("ExecuteSafely() error = %v", err)
	}
	if result != 42 {
		t.Errorf("result = %v, want 42", result)
	}
	if sb.ErrorCount() != 0 {
		t.Errorf("ErrorCount() = %d, want 0", sb.ErrorCount())
	}
}

func TestSandboxRecordsError(t *testing.T) {
	sb := newSandbox("x", DefaultMaxErrors)

	_, err := sb.ExecuteSafely(func() (any, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("ExecuteSafely() returned nil for a failing op")
	}
	if sb.ErrorCount() != 1 {
		t.Errorf("ErrorCount() = %d, want 1", sb.ErrorCount())
	}
	if !strings.Contains(sb.LastError(), "boom") {
		t.Errorf("LastError() = %q, want it to contain the cause", sb.LastError())
	}
	// A stack trace is captured alongside the cause.
	if !strings.Contains(sb.LastError(), "goroutine") {
		t.Errorf("LastError() = %q, want a stack trace", sb.LastError())
	}
}

func TestSandboxRecoversPanic(t *testing.T) {
	sb := newSandbox("x", DefaultMaxErrors)

	_, err := sb.ExecuteSafely(func() (any, error) {
		panic("plugin went sideways")
	})
	if err == nil {
		t.Fatal("ExecuteSafely() returned nil for a panicking op")
	}
	if !strings.Contains(err.Error(), "panic: plugin went sideways") {
		t.Errorf("error = %q, want the panic value", err)
	}
	if sb.ErrorCount() != 1 {
		t.Errorf("ErrorCount() = %d, want 1", sb.ErrorCount())
	}
}

func TestSandboxShouldDisable(t *testing.T) {
	sb := newSandbox("x", 3)

	for i := 0; i < 3; i++ {
		if sb.ShouldDisable() {
			t.Fatalf("ShouldDisable() true after %d errors, threshold is 3", i)
		}
		sb.ExecuteSafely(func() (any, error) { return nil, errors.New("boom") })
	}
	if !sb.ShouldDisable() {
		t.Error("ShouldDisable() = false after reaching the threshold")
	}
}

func TestSandboxResetErrors(t *testing.T) {
	sb := newSandbox("x", 1)
	sb.ExecuteSafely(func() (any, error) { return nil, errors.New("boom") })

	sb.ResetErrors()
	if sb.ErrorCount() != 0 {
		t.Errorf("ErrorCount() = %d after reset, want 0", sb.ErrorCount())
	}
	if sb.LastError() != "" {
		t.Errorf("LastError() = %q after reset, want empty", sb.LastError())
	}
	if sb.ShouldDisable() {
		t.Error("ShouldDisable() = true after reset")
	}
}

func TestSandboxErrorSummary(t *testing.T) {
	sb := newSandbox("reader.demo", 2)
	sb.ExecuteSafely(func() (any, error) { return nil, errors.New("boom") })
	sb.ExecuteSafely(func() (any, error) { return nil, errors.New("boom again") })

	summary := sb.ErrorSummary()
	if summary["plugin_id"] != "reader.demo" {
		t.Errorf("plugin_id = %v, want reader.demo", summary["plugin_id"])
	}
	if summary["error_count"] != 2 {
		t.Errorf("error_count = %v, want 2", summary["error_count"])
	}
	if summary["should_disable"] != true {
		t.Errorf("should_disable = %v, want true", summary["should_disable"])
	}
}

func TestNewSandboxDefaultThreshold(t *testing.T) {
	sb := newSandbox("x", 0)
	if sb.maxErrors != DefaultMaxErrors {
		t.Errorf("maxErrors = %d, want %d", sb.maxErrors, DefaultMaxErrors)
	}
}

package plugin

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/lecternhq/lectern/internal/plugin/api"
)

// DefaultMaxErrors is the error threshold after which ShouldDisable reports
// that a plugin ought to be taken out of service.
const DefaultMaxErrors = 5

// Sandbox isolates one plugin's execution. Every call into plugin-authored
// code goes through ExecuteSafely, which converts any failure - error
// return or panic - into recorded state instead of letting it unwind into
// the host. The sandbox is transient: it lives for the process, not in the
// store, and is discarded on uninstall.
type Sandbox struct {
	pluginID string

	instance *Instance
	api      *api.API
	binding  *apiBinding
	loaded   bool

	lastError  string
	errorCount int
	maxErrors  int
}

func newSandbox(pluginID string, maxErrors int) *Sandbox {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &Sandbox{pluginID: pluginID, maxErrors: maxErrors}
}

// PluginID returns the owning plugin's identifier.
func (s *Sandbox) PluginID() string {
	return s.pluginID
}

// IsLoaded reports whether a live instance is currently held.
func (s *Sandbox) IsLoaded() bool {
	return s.loaded
}

// API returns the live capability surface, or nil when unloaded.
func (s *Sandbox) API() *api.API {
	return s.api
}

// LastError returns the most recent recorded failure text, empty if none.
func (s *Sandbox) LastError() string {
	return s.lastError
}

// ErrorCount returns the number of failed sandboxed calls since the last
// reset.
func (s *Sandbox) ErrorCount() int {
	return s.errorCount
}

// ExecuteSafely invokes op and guarantees that no failure escapes: an error
// return or panic is recorded as the sandbox's last error (with a captured
// stack trace), counted, and handed back as an ordinary error value.
func (s *Sandbox) ExecuteSafely(op func() (any, error)) (any, error) {
	result, err := runRecovered(op)
	if err == nil {
		return result, nil
	}

	s.errorCount++
	s.lastError = fmt.Sprintf("%s\n%s", err, debug.Stack())
	return nil, errors.New(s.lastError)
}

// runRecovered executes op, turning a panic into an error that names the
// failure kind and detail.
func runRecovered(op func() (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return op()
}

// ShouldDisable reports whether the error count has reached the threshold.
// Advisory: the lifecycle manager decides whether and when to act on it.
func (s *Sandbox) ShouldDisable() bool {
	return s.errorCount >= s.maxErrors
}

// ResetErrors clears the counter and last error, used when a plugin is
// re-enabled after being fixed.
func (s *Sandbox) ResetErrors() {
	s.errorCount = 0
	s.lastError = ""
}

// ErrorSummary returns the sandbox's failure state for host diagnostics.
func (s *Sandbox) ErrorSummary() map[string]any {
	return map[string]any{
		"plugin_id":      s.pluginID,
		"is_loaded":      s.loaded,
		"error_count":    s.errorCount,
		"max_errors":     s.maxErrors,
		"last_error":     s.lastError,
		"should_disable": s.ShouldDisable(),
	}
}

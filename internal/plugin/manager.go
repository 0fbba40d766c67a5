package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lecternhq/lectern/internal/plugin/api"
)

// Manager orchestrates the plugin lifecycle: validate, install, enable
// (load), disable (unload), uninstall, plus startup auto-loading of
// previously enabled plugins. It is the sole entry point into the
// subsystem and the exclusive owner of every live Sandbox.
type Manager struct {
	mu sync.Mutex

	store      Store
	pluginsDir string
	logger     zerolog.Logger
	maxErrors  int

	// sandboxes tracks every plugin touched this process, loaded or not,
	// so failure state stays queryable after a failed enable.
	sandboxes map[string]*Sandbox
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the host log sink shared with plugin APIs.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMaxErrors overrides the per-plugin sandbox error threshold.
func WithMaxErrors(n int) Option {
	return func(m *Manager) {
		m.maxErrors = n
	}
}

// NewManager creates a Manager that installs packages under pluginsDir and
// persists records through store. The directory is created if absent.
func NewManager(store Store, pluginsDir string, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:      store,
		pluginsDir: pluginsDir,
		logger:     zerolog.Nop(),
		maxErrors:  DefaultMaxErrors,
		sandboxes:  make(map[string]*Sandbox),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plugins directory: %w", err)
	}
	return m, nil
}

// ValidatePlugin checks a package without installing or running anything.
// A nil return means valid; otherwise the error wraps ErrValidation and
// names the defect.
func (m *Manager) ValidatePlugin(path string) error {
	return Validate(path)
}

// Install validates a package, materializes its files under the plugins
// directory namespaced by id, and persists a disabled Record.
func (m *Manager) Install(ctx context.Context, path string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := Validate(path); err != nil {
		return nil, err
	}

	manifest, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}

	_, exists, err := m.store.GetPlugin(ctx, manifest.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, manifest.ID)
	}

	if err := installFiles(path, m.installDir(manifest.ID)); err != nil {
		return nil, fmt.Errorf("failed to install plugin files: %w", err)
	}

	record := manifest.Record(time.Now())
	if err := m.store.AddPlugin(ctx, record); err != nil {
		// Roll the files back so a store failure leaves nothing behind.
		os.RemoveAll(m.installDir(manifest.ID))
		return nil, err
	}

	m.logger.Info().Str("plugin_id", record.ID).Str("version", record.Version).Msg("plugin installed")
	return record.Clone(), nil
}

// Uninstall disables the plugin if needed, removes its files, deletes its
// record, and discards its sandbox.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists, err := m.store.GetPlugin(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	// No live instance may survive file deletion.
	if record.Enabled {
		m.unloadLocked(id)
		if err := m.store.UpdatePluginStatus(ctx, id, false); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(m.installDir(id)); err != nil {
		return fmt.Errorf("failed to remove plugin files: %w", err)
	}
	if err := m.store.DeletePlugin(ctx, id); err != nil {
		return err
	}
	delete(m.sandboxes, id)

	m.logger.Info().Str("plugin_id", id).Msg("plugin uninstalled")
	return nil
}

// Enable loads the plugin and persists Enabled = true. Enabling an already
// enabled plugin is a no-op. The record's Enabled flag is only set after a
// successful load.
func (m *Manager) Enable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists, err := m.store.GetPlugin(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if record.Enabled {
		return nil
	}

	if err := m.loadLocked(record); err != nil {
		return err
	}
	return m.store.UpdatePluginStatus(ctx, id, true)
}

// Disable unloads the plugin and persists Enabled = false. Disabling an
// already disabled plugin is a no-op.
func (m *Manager) Disable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists, err := m.store.GetPlugin(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !record.Enabled {
		return nil
	}

	m.unloadLocked(id)
	return m.store.UpdatePluginStatus(ctx, id, false)
}

// loadLocked brings a plugin live: locates the entry point, executes it in
// a fresh interpreter, discovers the implementation, and runs on_load
// through a new sandbox. A failed load leaves the sandbox tracked with its
// recorded error. Must be called with mu held.
func (m *Manager) loadLocked(record *Record) error {
	if sb := m.sandboxes[record.ID]; sb != nil && sb.loaded {
		return nil
	}

	entryPath := filepath.Join(m.installDir(record.ID), record.EntryPoint)
	if _, err := os.Stat(entryPath); err != nil {
		return fmt.Errorf("%w: %s", ErrEntryPointMissing, entryPath)
	}

	sandbox := newSandbox(record.ID, m.maxErrors)
	m.sandboxes[record.ID] = sandbox

	instance, err := loadInstance(entryPath)
	if err != nil {
		sandbox.lastError = err.Error()
		return fmt.Errorf("plugin %s: %w", record.ID, err)
	}

	apiHandle := api.New(record.ID, record.Permissions, m.logger)
	binding := newAPIBinding(instance, apiHandle)

	if _, err := sandbox.ExecuteSafely(func() (any, error) {
		return nil, instance.OnLoad(binding.Table())
	}); err != nil {
		instance.Close()
		m.logger.Warn().Str("plugin_id", record.ID).Str("error", sandbox.LastError()).Msg("plugin on_load failed")
		return fmt.Errorf("%w: %s: %s", ErrLoadFailed, record.ID, sandbox.LastError())
	}

	sandbox.instance = instance
	sandbox.api = apiHandle
	sandbox.binding = binding
	sandbox.loaded = true

	m.logger.Info().Str("plugin_id", record.ID).Msg("plugin loaded")
	return nil
}

// unloadLocked tears a live plugin down: on_unload runs through the
// sandbox with its error swallowed (unload must never block disablement),
// the API is cleaned up, and the interpreter is released. Must be called
// with mu held.
func (m *Manager) unloadLocked(id string) {
	sandbox := m.sandboxes[id]
	if sandbox == nil || sandbox.instance == nil {
		return
	}

	if _, err := sandbox.ExecuteSafely(func() (any, error) {
		return nil, sandbox.instance.OnUnload()
	}); err != nil {
		m.logger.Warn().Str("plugin_id", id).Msg("plugin on_unload failed")
	}

	sandbox.api.Cleanup()
	sandbox.instance.Close()
	sandbox.instance = nil
	sandbox.api = nil
	sandbox.binding = nil
	sandbox.loaded = false

	m.logger.Info().Str("plugin_id", id).Msg("plugin unloaded")
}

// InstalledPlugins returns every installed plugin's record.
func (m *Manager) InstalledPlugins(ctx context.Context) ([]*Record, error) {
	return m.store.GetAllPlugins(ctx)
}

// EnabledPlugins returns the records persisted as enabled.
func (m *Manager) EnabledPlugins(ctx context.Context) ([]*Record, error) {
	return m.store.GetEnabledPlugins(ctx)
}

// Plugin returns the record for id; ok is false when it is not installed.
func (m *Manager) Plugin(ctx context.Context, id string) (*Record, bool, error) {
	return m.store.GetPlugin(ctx, id)
}

// IsLoaded reports whether the plugin has a live instance right now.
func (m *Manager) IsLoaded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sandbox := m.sandboxes[id]
	return sandbox != nil && sandbox.loaded
}

// PluginError returns the plugin's last recorded failure text, empty when
// there is none or the plugin is untracked.
func (m *Manager) PluginError(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sandbox := m.sandboxes[id]; sandbox != nil {
		return sandbox.LastError()
	}
	return ""
}

// Sandbox returns the live sandbox for id, for host diagnostics.
func (m *Manager) Sandbox(id string) (*Sandbox, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sandbox, ok := m.sandboxes[id]
	return sandbox, ok
}

// ExecutePluginSafely invokes a named method on the live plugin instance
// through its sandbox, so plugin-defined behavior can be called without
// risking the host. A missing plugin or method is an ordinary error and is
// not counted against the sandbox.
func (m *Manager) ExecutePluginSafely(id, method string, args ...any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sandbox := m.sandboxes[id]
	if sandbox == nil || !sandbox.loaded || sandbox.instance == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}
	if !sandbox.instance.HasMethod(method) {
		return nil, fmt.Errorf("method %q not found on plugin %s", method, id)
	}

	return sandbox.ExecuteSafely(func() (any, error) {
		return sandbox.instance.Call(method, args...)
	})
}

// DispatchEvent delivers an event to every callback registered by every
// loaded plugin, each invocation wrapped in its owner's sandbox. Failures
// are recorded per plugin and never interrupt delivery to the rest.
func (m *Manager) DispatchEvent(event string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sandbox := range m.sandboxes {
		if !sandbox.loaded || sandbox.api == nil {
			continue
		}
		for _, cb := range sandbox.api.Callbacks(event) {
			if _, err := sandbox.ExecuteSafely(func() (any, error) {
				return nil, cb.Invoke(data)
			}); err != nil {
				m.logger.Warn().Str("plugin_id", id).Str("event", event).Msg("plugin callback failed")
			}
		}
	}
}

// LoadEnabledPlugins attempts to load every plugin persisted as enabled,
// independently: the result maps each id to nil on success or its load
// error, a failed plugin is demoted to disabled so it cannot block the
// next startup, and processing always continues to the remaining plugins.
func (m *Manager) LoadEnabledPlugins(ctx context.Context) (map[string]error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.store.GetEnabledPlugins(ctx)
	if err != nil {
		return nil, err
	}

	results := make(map[string]error, len(records))
	for _, record := range records {
		if err := m.loadLocked(record); err != nil {
			results[record.ID] = err
			if serr := m.store.UpdatePluginStatus(ctx, record.ID, false); serr != nil {
				m.logger.Error().Str("plugin_id", record.ID).Err(serr).Msg("failed to demote broken plugin")
			}
			continue
		}
		results[record.ID] = nil
	}
	return results, nil
}

// UnloadAllPlugins disables every loaded plugin's instance, ignoring
// individual failures, and clears all sandbox state. Used at host
// shutdown; persisted Enabled flags are left untouched so the plugins
// come back on the next start.
func (m *Manager) UnloadAllPlugins() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.sandboxes {
		m.unloadLocked(id)
	}
	m.sandboxes = make(map[string]*Sandbox)
}

func (m *Manager) installDir(id string) string {
	return filepath.Join(m.pluginsDir, id)
}

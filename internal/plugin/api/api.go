package api

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Callback is an event handler registered by a plugin.
//
// Implementations must be comparable (pointer receivers are the usual
// choice) so that a registration can later be removed by handle.
type Callback interface {
	// Invoke delivers an event payload to the handler. A returned error is
	// charged to the owning plugin's sandbox by the dispatch path.
	Invoke(data map[string]any) error
}

// LogEntry is one structured record in a plugin's log buffer.
type LogEntry struct {
	PluginID  string    `json:"plugin_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// API is the capability surface handed to a plugin at load time.
//
// The permission set is frozen at construction: changes to the plugin's
// persisted record do not affect an already-running instance. One API
// instance exists per enable cycle and is discarded at unload.
type API struct {
	pluginID    string
	permissions map[Permission]bool

	mu        sync.RWMutex
	callbacks map[string][]Callback
	storage   map[string]any
	logs      []LogEntry

	sink zerolog.Logger
}

// New creates an API for the given plugin with the granted permissions.
// Log entries are mirrored to sink in addition to the in-memory buffer.
func New(pluginID string, permissions []Permission, sink zerolog.Logger) *API {
	perms := make(map[Permission]bool, len(permissions))
	for _, p := range permissions {
		perms[p] = true
	}
	return &API{
		pluginID:    pluginID,
		permissions: perms,
		callbacks:   make(map[string][]Callback),
		storage:     make(map[string]any),
		sink:        sink.With().Str("plugin_id", pluginID).Logger(),
	}
}

// PluginID returns the owning plugin's identifier.
func (a *API) PluginID() string {
	return a.pluginID
}

// HasPermission reports whether the plugin holds the named permission.
func (a *API) HasPermission(p Permission) bool {
	return a.permissions[p]
}

// Permissions returns the frozen permission set.
func (a *API) Permissions() []Permission {
	perms := make([]Permission, 0, len(a.permissions))
	for p := range a.permissions {
		perms = append(perms, p)
	}
	return perms
}

// RegisterCallback appends cb to the event's callback list.
// Requires the events permission; returns false (no-op) without it.
func (a *API) RegisterCallback(event string, cb Callback) bool {
	if !a.permissions[PermEvents] || cb == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks[event] = append(a.callbacks[event], cb)
	return true
}

// UnregisterCallback removes a matching handle from the event's list.
// Returns false if no matching registration exists. Removing one's own
// registration needs no permission check.
func (a *API) UnregisterCallback(event string, cb Callback) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.callbacks[event]
	for i, registered := range list {
		if registered == cb {
			a.callbacks[event] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Callbacks returns a copy of the ordered callback list for an event.
func (a *API) Callbacks(event string) []Callback {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Callback(nil), a.callbacks[event]...)
}

// ClearCallbacks drops every registration.
func (a *API) ClearCallbacks() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = make(map[string][]Callback)
}

// Log appends a structured entry to the plugin's log buffer and mirrors it
// to the host's shared sink. Always permitted.
func (a *API) Log(message, level string) {
	normalized := strings.ToUpper(level)
	if normalized == "" {
		normalized = "INFO"
	}
	entry := LogEntry{
		PluginID:  a.pluginID,
		Level:     normalized,
		Message:   message,
		Timestamp: time.Now(),
	}

	a.mu.Lock()
	a.logs = append(a.logs, entry)
	a.mu.Unlock()

	a.sink.WithLevel(sinkLevel(normalized)).Msg(message)
}

// sinkLevel maps a plugin log level onto the host sink's levels.
func sinkLevel(level string) zerolog.Level {
	switch level {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARNING", "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logs returns a copy of the log buffer.
func (a *API) Logs() []LogEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]LogEntry(nil), a.logs...)
}

// ClearLogs empties the log buffer.
func (a *API) ClearLogs() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = nil
}

// StoreData stores a value under key.
// Requires the storage permission; returns false (no-op) without it.
func (a *API) StoreData(key string, value any) bool {
	if !a.permissions[PermStorage] {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.storage[key] = value
	return true
}

// GetData returns the value stored under key, or def when the key is absent
// or the storage permission is missing.
func (a *API) GetData(key string, def any) any {
	if !a.permissions[PermStorage] {
		return def
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if v, ok := a.storage[key]; ok {
		return v
	}
	return def
}

// DeleteData removes the value stored under key.
// Returns false when the key is absent or the storage permission is missing.
func (a *API) DeleteData(key string) bool {
	if !a.permissions[PermStorage] {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.storage[key]; !ok {
		return false
	}
	delete(a.storage, key)
	return true
}

// AllData returns a copy of the plugin's stored data, or an empty map
// without the storage permission.
func (a *API) AllData() map[string]any {
	if !a.permissions[PermStorage] {
		return map[string]any{}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	data := make(map[string]any, len(a.storage))
	for k, v := range a.storage {
		data[k] = v
	}
	return data
}

// Cleanup releases everything the plugin accumulated: callbacks, the log
// buffer, and stored data. Called once, at unload.
func (a *API) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = make(map[string][]Callback)
	a.logs = nil
	a.storage = make(map[string]any)
}

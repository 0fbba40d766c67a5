package plugin

import (
	"time"

	"github.com/lecternhq/lectern/internal/plugin/api"
)

// Record is the durable form of an installed plugin, one per id. It is the
// single source of truth for "is this plugin supposed to be running" across
// host restarts: created on install, its Enabled flag flipped on
// enable/disable, deleted on uninstall.
type Record struct {
	ID          string
	Name        string
	Version     string
	Author      string
	Description string
	EntryPoint  string
	Permissions []api.Permission
	Enabled     bool
	InstalledAt time.Time
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *Record) Clone() *Record {
	clone := *r
	clone.Permissions = append([]api.Permission(nil), r.Permissions...)
	return &clone
}

package plugin

import "context"

// Store is the persistent record store the lifecycle manager reads from and
// writes to. Implementations must be durable and offer at least
// read-your-writes consistency so enabled state survives a host restart.
type Store interface {
	// GetPlugin returns the record for id. ok is false when no record exists.
	GetPlugin(ctx context.Context, id string) (record *Record, ok bool, err error)

	// GetAllPlugins returns every installed plugin's record.
	GetAllPlugins(ctx context.Context) ([]*Record, error)

	// GetEnabledPlugins returns the records whose Enabled flag is set.
	GetEnabledPlugins(ctx context.Context) ([]*Record, error)

	// AddPlugin persists a newly installed plugin's record.
	AddPlugin(ctx context.Context, record *Record) error

	// UpdatePluginStatus flips the Enabled flag for id.
	UpdatePluginStatus(ctx context.Context, id string, enabled bool) error

	// DeletePlugin removes the record for id.
	DeletePlugin(ctx context.Context, id string) error
}

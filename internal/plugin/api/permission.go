package api

// Permission is a named right gating one category of host interaction.
type Permission string

// The closed allow-list of permissions a plugin may request.
const (
	PermEvents          Permission = "events"           // register and receive event callbacks
	PermDocumentRead    Permission = "document_read"    // read document information
	PermDocumentWrite   Permission = "document_write"   // modify documents
	PermAnnotationRead  Permission = "annotation_read"  // read annotations
	PermAnnotationWrite Permission = "annotation_write" // modify annotations
	PermSettingsRead    Permission = "settings_read"    // read host settings
	PermSettingsWrite   Permission = "settings_write"   // modify host settings
	PermNetwork         Permission = "network"          // network access
	PermStorage         Permission = "storage"          // plugin-local key/value storage
)

// knownPermissions is the fixed allow-list checked during manifest validation.
var knownPermissions = map[Permission]bool{
	PermEvents:          true,
	PermDocumentRead:    true,
	PermDocumentWrite:   true,
	PermAnnotationRead:  true,
	PermAnnotationWrite: true,
	PermSettingsRead:    true,
	PermSettingsWrite:   true,
	PermNetwork:         true,
	PermStorage:         true,
}

// KnownPermission reports whether p belongs to the allow-list.
func KnownPermission(p Permission) bool {
	return knownPermissions[p]
}

// AllPermissions returns the allow-list in declaration order.
func AllPermissions() []Permission {
	return []Permission{
		PermEvents,
		PermDocumentRead,
		PermDocumentWrite,
		PermAnnotationRead,
		PermAnnotationWrite,
		PermSettingsRead,
		PermSettingsWrite,
		PermNetwork,
		PermStorage,
	}
}

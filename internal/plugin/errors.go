package plugin

import "errors"

// Plugin system errors.
var (
	// ErrValidation is returned when a package's manifest is malformed,
	// incomplete, or requests a permission outside the allow-list.
	ErrValidation = errors.New("plugin validation failed")

	// ErrDuplicateID is returned when installing an already-registered id.
	ErrDuplicateID = errors.New("plugin already installed")

	// ErrNotFound is returned when an operation references an unknown id.
	ErrNotFound = errors.New("plugin not found")

	// ErrEntryPointMissing is returned when the manifest's entry point is
	// absent from the installed package.
	ErrEntryPointMissing = errors.New("plugin entry point missing")

	// ErrNoImplementation is returned when the entry point exports no
	// conforming plugin table.
	ErrNoImplementation = errors.New("no plugin implementation exported")

	// ErrAmbiguousImplementation is returned when the entry point exports
	// more than one conforming plugin table.
	ErrAmbiguousImplementation = errors.New("multiple plugin implementations exported")

	// ErrLoadFailed is returned when the plugin's own on_load hook failed;
	// it wraps the sandbox's captured failure text.
	ErrLoadFailed = errors.New("plugin load failed")

	// ErrNotLoaded is returned when invoking a plugin that is not loaded.
	ErrNotLoaded = errors.New("plugin is not loaded")
)

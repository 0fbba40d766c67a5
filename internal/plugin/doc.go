// Package plugin implements the Lectern extension subsystem.
//
// Plugins are distributed as a directory or .zip archive containing a
// plugin.json manifest and a Lua entry point. The Manager drives the full
// lifecycle:
//
//	install -> enable (load) -> disable (unload) -> uninstall
//
// Installation validates the manifest, materializes the package files into
// a host-owned directory namespaced by plugin id, and persists a Record
// through the Store. Enabling loads the entry point into a private Lua
// interpreter, discovers the exported implementation, and calls its
// on_load hook with a capability-gated api.API. Every call into
// plugin-authored code goes through a Sandbox that converts failures into
// recorded, queryable state instead of letting them escape into the host.
//
// At startup LoadEnabledPlugins re-enables every plugin whose persisted
// record says it was running; a plugin that fails to load is demoted to
// disabled without blocking the others.
package plugin

// Package lua wraps gopher-lua for plugin execution.
//
// Each enabled plugin owns one State: a private Lua interpreter opened with
// only the safe standard libraries. The State is the plugin's isolated
// namespace - two plugins defining same-named globals never collide. A
// State is created when its plugin is enabled and closed when it is
// disabled.
//
// gopher-lua's LState is not goroutine-safe. The lifecycle manager
// serializes all calls into a State; direct users must do the same.
package lua

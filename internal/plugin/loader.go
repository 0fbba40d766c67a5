package plugin

import (
	"fmt"
	"sort"

	glua "github.com/yuin/gopher-lua"

	plua "github.com/lecternhq/lectern/internal/plugin/lua"
)

// Instance is a live, Lua-backed plugin implementation: the single table the
// entry chunk exported, bound to the private interpreter it was loaded into.
//
// Hooks follow Lua method convention - the implementation table is passed as
// the first argument, so plugins written as
//
//	local M = {}
//	function M:on_load(api) ... end
//	function M:on_unload() ... end
//	function M:info() return { id = "...", name = "...", version = "..." } end
//	return M
//
// work as expected.
type Instance struct {
	state  *plua.State
	bridge *plua.Bridge
	table  *glua.LTable
}

// loadInstance executes the entry-point chunk in a fresh sandboxed
// interpreter and discovers the exported implementation.
//
// Discovery prefers the explicit export: the chunk's return value must be
// exactly one conforming table. A chunk that returns nothing falls back to
// scanning globals; zero conforming candidates is ErrNoImplementation and
// more than one is ErrAmbiguousImplementation - ambiguity is a hard error,
// never resolved by picking the first match.
func loadInstance(entryPath string) (*Instance, error) {
	state := plua.NewState()
	bridge := plua.NewBridge(state.LuaState())

	results, err := state.DoFile(entryPath)
	if err != nil {
		state.Close()
		return nil, err
	}

	table, err := discoverImplementation(state, results)
	if err != nil {
		state.Close()
		return nil, err
	}

	return &Instance{state: state, bridge: bridge, table: table}, nil
}

// discoverImplementation resolves the single table implementing the plugin
// capability set {on_load, on_unload, info}.
func discoverImplementation(state *plua.State, returned []glua.LValue) (*glua.LTable, error) {
	var candidates []*glua.LTable

	if len(returned) > 0 {
		for _, v := range returned {
			if t, ok := v.(*glua.LTable); ok && conformsToPlugin(t) {
				candidates = append(candidates, t)
			}
		}
	} else {
		// No explicit export: scan the chunk's globals, in name order so
		// the outcome does not depend on table iteration.
		type named struct {
			name  string
			table *glua.LTable
		}
		var found []named
		state.ForEachGlobal(func(name string, v glua.LValue) {
			if t, ok := v.(*glua.LTable); ok && conformsToPlugin(t) {
				found = append(found, named{name, t})
			}
		})
		sort.Slice(found, func(i, j int) bool { return found[i].name < found[j].name })
		for _, f := range found {
			candidates = append(candidates, f.table)
		}
	}

	switch len(candidates) {
	case 0:
		return nil, ErrNoImplementation
	case 1:
		return candidates[0], nil
	default:
		return nil, fmt.Errorf("%w: found %d candidates", ErrAmbiguousImplementation, len(candidates))
	}
}

// conformsToPlugin reports whether a table provides the plugin capability
// set: on_load and on_unload functions plus an info function or table.
func conformsToPlugin(t *glua.LTable) bool {
	if _, ok := t.RawGetString("on_load").(*glua.LFunction); !ok {
		return false
	}
	if _, ok := t.RawGetString("on_unload").(*glua.LFunction); !ok {
		return false
	}
	switch t.RawGetString("info").(type) {
	case *glua.LFunction, *glua.LTable:
		return true
	default:
		return false
	}
}

// OnLoad calls the plugin's on_load hook with the capability API handle.
func (in *Instance) OnLoad(apiHandle glua.LValue) error {
	fn, _ := in.bridge.GetTableFunc(in.table, "on_load")
	_, err := in.state.CallValue(fn, in.table, apiHandle)
	return err
}

// OnUnload calls the plugin's on_unload hook.
func (in *Instance) OnUnload() error {
	fn, _ := in.bridge.GetTableFunc(in.table, "on_unload")
	_, err := in.state.CallValue(fn, in.table)
	return err
}

// Info returns the identity the plugin reports about itself. The info
// member may be a function returning a table or a plain table.
func (in *Instance) Info() (map[string]any, error) {
	switch v := in.table.RawGetString("info").(type) {
	case *glua.LFunction:
		results, err := in.state.CallValue(v, in.table)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, fmt.Errorf("info returned nothing")
		}
		return goInfoMap(in.bridge, results[0])
	case *glua.LTable:
		return goInfoMap(in.bridge, v)
	default:
		return nil, fmt.Errorf("info is not available")
	}
}

func goInfoMap(bridge *plua.Bridge, v glua.LValue) (map[string]any, error) {
	m, ok := bridge.ToGoValue(v).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("info is not a table")
	}
	return m, nil
}

// HasMethod reports whether the implementation table has the named function.
func (in *Instance) HasMethod(name string) bool {
	_, ok := in.table.RawGetString(name).(*glua.LFunction)
	return ok
}

// Call invokes a named method on the implementation table with the given
// Go arguments and returns the first result converted back to Go.
func (in *Instance) Call(method string, args ...any) (any, error) {
	fn, ok := in.bridge.GetTableFunc(in.table, method)
	if !ok {
		return nil, fmt.Errorf("method %q not found", method)
	}

	luaArgs := make([]glua.LValue, 0, len(args)+1)
	luaArgs = append(luaArgs, in.table)
	for _, arg := range args {
		luaArgs = append(luaArgs, in.bridge.ToLuaValue(arg))
	}

	results, err := in.state.CallValue(fn, luaArgs...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return in.bridge.ToGoValue(results[0]), nil
}

// Close releases the interpreter and with it the plugin's namespace.
func (in *Instance) Close() {
	in.state.Close()
}

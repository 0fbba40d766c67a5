package plugin

import (
	glua "github.com/yuin/gopher-lua"

	"github.com/lecternhq/lectern/internal/plugin/api"
	plua "github.com/lecternhq/lectern/internal/plugin/lua"
)

// apiBinding projects an api.API into a plugin's Lua namespace as a table
// of functions. It also bridges Lua callback functions into api.Callback
// handles, remembering the wrapper per function so a later
// unregister_callback with the same function removes the same handle.
type apiBinding struct {
	api      *api.API
	state    *plua.State
	bridge   *plua.Bridge
	table    *glua.LTable
	wrappers map[*glua.LFunction]*luaCallback
}

// luaCallback adapts a Lua function to the api.Callback interface. Pointer
// identity makes registrations comparable for removal.
type luaCallback struct {
	binding *apiBinding
	fn      *glua.LFunction
}

// Invoke delivers an event payload to the Lua handler.
func (c *luaCallback) Invoke(data map[string]any) error {
	_, err := c.binding.state.CallValue(c.fn, c.binding.bridge.ToLuaValue(data))
	return err
}

// newAPIBinding builds the Lua-facing capability table for one enable cycle.
func newAPIBinding(in *Instance, a *api.API) *apiBinding {
	b := &apiBinding{
		api:      a,
		state:    in.state,
		bridge:   in.bridge,
		wrappers: make(map[*glua.LFunction]*luaCallback),
	}

	L := in.state.LuaState()
	b.table = L.NewTable()
	L.SetFuncs(b.table, map[string]glua.LGFunction{
		"register_callback":   b.registerCallback,
		"unregister_callback": b.unregisterCallback,
		"log":                 b.log,
		"store_data":          b.storeData,
		"get_data":            b.getData,
		"delete_data":         b.deleteData,
		"has_permission":      b.hasPermission,
		"get_permissions":     b.getPermissions,
		"get_plugin_id":       b.getPluginID,
	})
	return b
}

// Table returns the Lua value handed to on_load.
func (b *apiBinding) Table() *glua.LTable {
	return b.table
}

func (b *apiBinding) registerCallback(L *glua.LState) int {
	event := L.CheckString(1)
	fn, ok := L.Get(2).(*glua.LFunction)
	if !ok {
		L.Push(glua.LFalse)
		return 1
	}

	wrapper, exists := b.wrappers[fn]
	if !exists {
		wrapper = &luaCallback{binding: b, fn: fn}
		b.wrappers[fn] = wrapper
	}
	L.Push(glua.LBool(b.api.RegisterCallback(event, wrapper)))
	return 1
}

func (b *apiBinding) unregisterCallback(L *glua.LState) int {
	event := L.CheckString(1)
	fn, ok := L.Get(2).(*glua.LFunction)
	if !ok {
		L.Push(glua.LFalse)
		return 1
	}

	wrapper, exists := b.wrappers[fn]
	if !exists {
		L.Push(glua.LFalse)
		return 1
	}
	L.Push(glua.LBool(b.api.UnregisterCallback(event, wrapper)))
	return 1
}

func (b *apiBinding) log(L *glua.LState) int {
	message := L.CheckString(1)
	level := L.OptString(2, "info")
	b.api.Log(message, level)
	return 0
}

func (b *apiBinding) storeData(L *glua.LState) int {
	key := L.CheckString(1)
	value := b.bridge.ToGoValue(L.Get(2))
	L.Push(glua.LBool(b.api.StoreData(key, value)))
	return 1
}

func (b *apiBinding) getData(L *glua.LState) int {
	key := L.CheckString(1)
	def := b.bridge.ToGoValue(L.Get(2))
	L.Push(b.bridge.ToLuaValue(b.api.GetData(key, def)))
	return 1
}

func (b *apiBinding) deleteData(L *glua.LState) int {
	key := L.CheckString(1)
	L.Push(glua.LBool(b.api.DeleteData(key)))
	return 1
}

func (b *apiBinding) hasPermission(L *glua.LState) int {
	name := L.CheckString(1)
	L.Push(glua.LBool(b.api.HasPermission(api.Permission(name))))
	return 1
}

func (b *apiBinding) getPermissions(L *glua.LState) int {
	perms := b.api.Permissions()
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	L.Push(b.bridge.ToLuaValue(names))
	return 1
}

func (b *apiBinding) getPluginID(L *glua.LState) int {
	L.Push(glua.LString(b.api.PluginID()))
	return 1
}

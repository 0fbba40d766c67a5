package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	glua "github.com/yuin/gopher-lua"
)

const conformingChunk = `
local M = {}

function M:on_load(api)
	self.started = true
end

function M:on_unload()
	self.started = false
end

function M:info()
	return { id = "reader.demo", name = "Demo", version = "1.0.0" }
end

function M:greet(name)
	return "hello " .. name
end

function M:started_ok()
	return self.started
end

return M
`

// writeEntry writes a Lua chunk to a temp file and returns its path.
func writeEntry(t *testing.T, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "init.lua")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustLoadInstance(t *testing.T, code string) *Instance {
	t.Helper()
	in, err := loadInstance(writeEntry(t, code))
	if err != nil {
		t.Fatalf("loadInstance() error = %v", err)
	}
	t.Cleanup(in.Close)
	return in
}

func TestLoadInstanceExplicitReturn(t *testing.T) {
	in := mustLoadInstance(t, conformingChunk)

	if !in.HasMethod("greet") {
		t.Error("HasMethod(greet) = false")
	}
	if in.HasMethod("missing") {
		t.Error("HasMethod(missing) = true")
	}

	info, err := in.Info()
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info["id"] != "reader.demo" {
		t.Errorf("info id = %v, want reader.demo", info["id"])
	}
	if info["version"] != "1.0.0" {
		t.Errorf("info version = %v, want 1.0.0", info["version"])
	}
}

func TestLoadInstanceGlobalScan(t *testing.T) {
	in := mustLoadInstance(t, `
		plugin = {}
		function plugin:on_load(api) end
		function plugin:on_unload() end
		plugin.info = { id = "reader.global", name = "Global", version = "0.1.0" }
	`)

	info, err := in.Info()
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info["id"] != "reader.global" {
		t.Errorf("info id = %v, want reader.global", info["id"])
	}
}

func TestLoadInstanceNoImplementation(t *testing.T) {
	_, err := loadInstance(writeEntry(t, `local x = 1`))
	if !errors.Is(err, ErrNoImplementation) {
		t.Fatalf("loadInstance() = %v, want ErrNoImplementation", err)
	}
}

func TestLoadInstanceNonConformingReturn(t *testing.T) {
	// A chunk that returns something is taken at its word: a non-conforming
	// return value never falls back to scanning globals.
	_, err := loadInstance(writeEntry(t, `
		helper = {}
		function helper:on_load(api) end
		function helper:on_unload() end
		helper.info = {}
		return 42
	`))
	if !errors.Is(err, ErrNoImplementation) {
		t.Fatalf("loadInstance() = %v, want ErrNoImplementation", err)
	}
}

func TestLoadInstanceAmbiguousGlobals(t *testing.T) {
	_, err := loadInstance(writeEntry(t, `
		a = {}
		function a:on_load(api) end
		function a:on_unload() end
		a.info = {}

		b = {}
		function b:on_load(api) end
		function b:on_unload() end
		b.info = {}
	`))
	if !errors.Is(err, ErrAmbiguousImplementation) {
		t.Fatalf("loadInstance() = %v, want ErrAmbiguousImplementation", err)
	}
}

func TestLoadInstanceSyntaxError(t *testing.T) {
	_, err := loadInstance(writeEntry(t, `function (`))
	if err == nil {
		t.Fatal("loadInstance() accepted a chunk that does not parse")
	}
}

func TestLoadInstanceMissingFile(t *testing.T) {
	_, err := loadInstance(filepath.Join(t.TempDir(), "absent.lua"))
	if err == nil {
		t.Fatal("loadInstance() accepted a missing file")
	}
}

func TestInstanceOnLoadOnUnload(t *testing.T) {
	in := mustLoadInstance(t, conformingChunk)

	if err := in.OnLoad(glua.LNil); err != nil {
		t.Fatalf("OnLoad() error = %v", err)
	}
	started, err := in.Call("started_ok")
	if err != nil {
		t.Fatalf("Call(started_ok) error = %v", err)
	}
	if started != true {
		t.Errorf("started = %v, want true", started)
	}

	if err := in.OnUnload(); err != nil {
		t.Fatalf("OnUnload() error = %v", err)
	}
	started, err = in.Call("started_ok")
	if err != nil {
		t.Fatalf("Call(started_ok) error = %v", err)
	}
	if started != false {
		t.Errorf("started = %v after unload, want false", started)
	}
}

func TestInstanceCall(t *testing.T) {
	in := mustLoadInstance(t, conformingChunk)

	result, err := in.Call("greet", "reader")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result != "hello reader" {
		t.Errorf("Call(greet) = %v, want %q", result, "hello reader")
	}
}

func TestInstanceCallMissingMethod(t *testing.T) {
	in := mustLoadInstance(t, conformingChunk)

	if _, err := in.Call("does_not_exist"); err == nil {
		t.Fatal("Call() on a missing method returned nil error")
	}
}

func TestInstanceInfoFunction(t *testing.T) {
	in := mustLoadInstance(t, conformingChunk)

	info, err := in.Info()
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info["name"] != "Demo" {
		t.Errorf("info name = %v, want Demo", info["name"])
	}
}

package api

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestAPI(perms ...Permission) *API {
	return New("test-plugin", perms, zerolog.Nop())
}

type recordingCallback struct {
	events []map[string]any
}

func (c *recordingCallback) Invoke(data map[string]any) error {
	c.events = append(c.events, data)
	return nil
}

func TestRegisterCallbackRequiresEventsPermission(t *testing.T) {
	a := newTestAPI()
	cb := &recordingCallback{}

	if a.RegisterCallback("document.opened", cb) {
		t.Error("RegisterCallback() without events permission should return false")
	}
	if got := a.Callbacks("document.opened"); len(got) != 0 {
		t.Errorf("Callbacks() = %d entries, want 0", len(got))
	}
}

func TestRegisterCallbackOrdering(t *testing.T) {
	a := newTestAPI(PermEvents)
	first := &recordingCallback{}
	second := &recordingCallback{}

	if !a.RegisterCallback("page.changed", first) {
		t.Fatal("RegisterCallback(first) = false, want true")
	}
	if !a.RegisterCallback("page.changed", second) {
		t.Fatal("RegisterCallback(second) = false, want true")
	}

	got := a.Callbacks("page.changed")
	if len(got) != 2 {
		t.Fatalf("Callbacks() = %d entries, want 2", len(got))
	}
	if got[0] != Callback(first) || got[1] != Callback(second) {
		t.Error("Callbacks() not in registration order")
	}
}

func TestUnregisterCallback(t *testing.T) {
	a := newTestAPI(PermEvents)
	cb := &recordingCallback{}
	other := &recordingCallback{}
	a.RegisterCallback("page.changed", cb)

	if a.UnregisterCallback("page.changed", other) {
		t.Error("UnregisterCallback() of unknown handle should return false")
	}
	if !a.UnregisterCallback("page.changed", cb) {
		t.Error("UnregisterCallback() of registered handle should return true")
	}
	if got := a.Callbacks("page.changed"); len(got) != 0 {
		t.Errorf("Callbacks() after unregister = %d entries, want 0", len(got))
	}
}

func TestStorageRequiresPermission(t *testing.T) {
	a := newTestAPI()

	if a.StoreData("k", "v") {
		t.Error("StoreData() without storage permission should return false")
	}
	if got := a.GetData("k", "fallback"); got != "fallback" {
		t.Errorf("GetData() = %v, want fallback", got)
	}
	if a.DeleteData("k") {
		t.Error("DeleteData() without storage permission should return false")
	}
	if got := a.AllData(); len(got) != 0 {
		t.Errorf("AllData() = %v, want empty", got)
	}
}

func TestStorageRoundTrip(t *testing.T) {
	a := newTestAPI(PermStorage)

	if !a.StoreData("k", "v") {
		t.Fatal("StoreData() = false, want true")
	}
	if got := a.GetData("k", nil); got != "v" {
		t.Errorf("GetData() = %v, want v", got)
	}
	if got := a.GetData("missing", 42); got != 42 {
		t.Errorf("GetData() default = %v, want 42", got)
	}
	if !a.DeleteData("k") {
		t.Error("DeleteData() = false, want true")
	}
	if a.DeleteData("k") {
		t.Error("DeleteData() of deleted key should return false")
	}
}

func TestLogBuffer(t *testing.T) {
	a := newTestAPI()

	a.Log("hello", "info")
	a.Log("careful", "warning")

	logs := a.Logs()
	if len(logs) != 2 {
		t.Fatalf("Logs() = %d entries, want 2", len(logs))
	}
	if logs[0].PluginID != "test-plugin" {
		t.Errorf("PluginID = %q, want test-plugin", logs[0].PluginID)
	}
	if logs[0].Level != "INFO" || logs[1].Level != "WARNING" {
		t.Errorf("Levels = %q, %q, want INFO, WARNING", logs[0].Level, logs[1].Level)
	}
	if logs[0].Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}

	a.ClearLogs()
	if got := a.Logs(); len(got) != 0 {
		t.Errorf("Logs() after clear = %d entries, want 0", len(got))
	}
}

func TestPermissionQueries(t *testing.T) {
	a := newTestAPI(PermStorage, PermEvents)

	if !a.HasPermission(PermStorage) {
		t.Error("HasPermission(storage) = false, want true")
	}
	if a.HasPermission(PermNetwork) {
		t.Error("HasPermission(network) = true, want false")
	}
	if got := a.Permissions(); len(got) != 2 {
		t.Errorf("Permissions() = %v, want 2 entries", got)
	}
	if a.PluginID() != "test-plugin" {
		t.Errorf("PluginID() = %q, want test-plugin", a.PluginID())
	}
}

func TestCleanup(t *testing.T) {
	a := newTestAPI(PermEvents, PermStorage)
	a.RegisterCallback("page.changed", &recordingCallback{})
	a.StoreData("k", "v")
	a.Log("entry", "info")

	a.Cleanup()

	if got := a.Callbacks("page.changed"); len(got) != 0 {
		t.Errorf("Callbacks() after cleanup = %d, want 0", len(got))
	}
	if got := a.Logs(); len(got) != 0 {
		t.Errorf("Logs() after cleanup = %d, want 0", len(got))
	}
	if got := a.GetData("k", nil); got != nil {
		t.Errorf("GetData() after cleanup = %v, want nil", got)
	}
}

func TestKnownPermission(t *testing.T) {
	for _, p := range AllPermissions() {
		if !KnownPermission(p) {
			t.Errorf("KnownPermission(%q) = false, want true", p)
		}
	}
	if KnownPermission("filesystem") {
		t.Error("KnownPermission(filesystem) = true, want false")
	}
}

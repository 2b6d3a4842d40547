package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"session-keeper/internal/shared/model"
)

func newTestSettingsStore(t *testing.T) (*SettingsStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	return NewSettingsStore(path, nil), path
}

// 文件缺失视为首次运行：写出默认值
func TestSettingsStore_LoadMissingWritesDefaults(t *testing.T) {
	store, path := newTestSettingsStore(t)

	if err := store.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("defaults not written: %v", err)
	}
	var got model.Settings
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("written defaults not valid JSON: %v", err)
	}
	if !reflect.DeepEqual(got, store.Current()) {
		t.Errorf("disk %+v != memory %+v", got, store.Current())
	}
	if !got.AutoReconnect {
		t.Error("default autoReconnect should be true")
	}
}

func TestSettingsStore_LoadExisting(t *testing.T) {
	store, path := newTestSettingsStore(t)

	content := `{"autoReconnect": false, "startupDelay": 1000, "maxReconnectAttempts": 3, "invisibleMode": true, "saveMessages": true, "debug": false}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	if err := store.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cur := store.Current()
	if cur.AutoReconnect || !cur.InvisibleMode || !cur.SaveMessages {
		t.Errorf("loaded settings wrong: %+v", cur)
	}
	if cur.StartupDelayMs != 1000 || cur.MaxReconnectAttempts != 3 {
		t.Errorf("loaded numbers wrong: %+v", cur)
	}
}

func TestSettingsStore_LoadCorruptFails(t *testing.T) {
	store, path := newTestSettingsStore(t)

	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := store.Load(); err == nil {
		t.Fatal("Load() of corrupt file should error")
	}
	// 内存中保持默认值，进程可带默认值继续
	if !reflect.DeepEqual(store.Current(), model.DefaultSettings()) {
		t.Errorf("Current() after failed load = %+v, want defaults", store.Current())
	}
}

// 越界值拒绝加载：与 API 更新同一套校验
func TestSettingsStore_LoadOutOfRangeFails(t *testing.T) {
	store, path := newTestSettingsStore(t)

	content := `{"autoReconnect": true, "startupDelay": 50, "maxReconnectAttempts": 3}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	err := store.Load()
	if err == nil {
		t.Fatal("Load() with startupDelay=50 should error")
	}
	if !strings.Contains(err.Error(), "startupDelay") {
		t.Errorf("error should name the offending field, got: %v", err)
	}
}

// 先校验后生效：非法更新保留旧值（内存与磁盘都不动）
func TestSettingsStore_UpdateInvalidKeepsPrevious(t *testing.T) {
	store, path := newTestSettingsStore(t)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}

	before := store.Current()
	diskBefore, _ := os.ReadFile(path)

	bad := before
	bad.MaxReconnectAttempts = 999
	if err := store.Update(bad); err == nil {
		t.Fatal("Update() with maxReconnectAttempts=999 should error")
	}

	if !reflect.DeepEqual(store.Current(), before) {
		t.Errorf("memory changed after rejected update: %+v", store.Current())
	}
	diskAfter, _ := os.ReadFile(path)
	if string(diskBefore) != string(diskAfter) {
		t.Error("disk changed after rejected update")
	}
}

func TestSettingsStore_UpdateValidPersists(t *testing.T) {
	store, path := newTestSettingsStore(t)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}

	next := store.Current()
	next.SaveMessages = true
	next.StartupDelayMs = 5000
	if err := store.Update(next); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if !store.Current().SaveMessages || store.Current().StartupDelayMs != 5000 {
		t.Errorf("memory not updated: %+v", store.Current())
	}

	// 重新加载验证落盘
	reload := NewSettingsStore(path, nil)
	if err := reload.Load(); err != nil {
		t.Fatal(err)
	}
	if !reload.Current().SaveMessages || reload.Current().StartupDelayMs != 5000 {
		t.Errorf("disk not updated: %+v", reload.Current())
	}
}

// 未知键经 store 读写往返后保留
func TestSettingsStore_UnknownKeysSurvive(t *testing.T) {
	store, path := newTestSettingsStore(t)

	content := `{"autoReconnect": true, "startupDelay": 2500, "maxReconnectAttempts": 10, "futureFeature": {"nested": 1}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}

	next := store.Current()
	next.Debug = true
	if err := store.Update(next); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["futureFeature"]; !ok {
		t.Errorf("unknown key dropped on save: %s", data)
	}
}

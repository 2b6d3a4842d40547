package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"session-keeper/pkg/logging"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	m, err := NewManager(cfg, logging.Default("state-test"))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	m := newTestManager(t, Config{})

	in := map[string]any{
		"sessions": map[string]any{
			"alice": map[string]any{"state": "active", "reconnects": float64(2)},
		},
		"note": "snapshot",
	}
	if err := m.Save(in); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	out, err := m.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if out["note"] != "snapshot" {
		t.Errorf("expected note preserved, got %v", out["note"])
	}
	sessions, ok := out["sessions"].(map[string]any)
	if !ok {
		t.Fatalf("sessions lost in round trip: %v", out)
	}
	alice := sessions["alice"].(map[string]any)
	if alice["state"] != "active" || alice["reconnects"] != float64(2) {
		t.Errorf("nested state corrupted: %v", alice)
	}
}

func TestManager_LoadMissingFile(t *testing.T) {
	m := newTestManager(t, Config{})

	out, err := m.Load()
	if err != nil {
		t.Fatalf("expected nil error for missing snapshot, got %v", err)
	}
	if out != nil {
		t.Errorf("expected nil state for missing snapshot, got %v", out)
	}
}

func TestManager_SnapshotEnvelope(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir, Version: 2})

	if err := m.Save(map[string]any{"k": "v"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if snap.Version != 2 {
		t.Errorf("expected version 2, got %d", snap.Version)
	}
	if snap.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
	if snap.State["k"] != "v" {
		t.Errorf("state payload corrupted: %v", snap.State)
	}
}

func TestManager_CrashLeavesOldSnapshotIntact(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir})

	if err := m.Save(map[string]any{"generation": "old"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// 模拟写新快照途中崩溃：残留半截临时文件
	tmp := filepath.Join(dir, "state.json.tmp")
	if err := os.WriteFile(tmp, []byte(`{"version":1,"state":{"generation":"ne`), 0600); err != nil {
		t.Fatalf("write stray tmp: %v", err)
	}

	out, err := m.Load()
	if err != nil {
		t.Fatalf("load after simulated crash failed: %v", err)
	}
	if out["generation"] != "old" {
		t.Errorf("previous snapshot corrupted: %v", out)
	}

	// 下一次保存正常覆盖
	if err := m.Save(map[string]any{"generation": "new"}); err != nil {
		t.Fatalf("save after crash failed: %v", err)
	}
	out, err = m.Load()
	if err != nil || out["generation"] != "new" {
		t.Fatalf("expected new snapshot, got %v (err %v)", out, err)
	}
}

func TestManager_SanitizeDangerousKeys(t *testing.T) {
	m := newTestManager(t, Config{})

	in := map[string]any{
		"__proto__": map[string]any{"polluted": true},
		"nested": map[string]any{
			"constructor": "bad",
			"ok":          "fine",
			"list": []any{
				map[string]any{"prototype": "bad", "keep": true},
			},
		},
		"keep": 1,
	}
	if err := m.Save(in); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	out, err := m.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, exists := out["__proto__"]; exists {
		t.Error("__proto__ survived sanitization")
	}
	nested := out["nested"].(map[string]any)
	if _, exists := nested["constructor"]; exists {
		t.Error("constructor survived sanitization")
	}
	if nested["ok"] != "fine" {
		t.Errorf("benign key dropped: %v", nested)
	}
	item := nested["list"].([]any)[0].(map[string]any)
	if _, exists := item["prototype"]; exists {
		t.Error("prototype survived sanitization inside list")
	}
	if item["keep"] != true {
		t.Errorf("benign list item key dropped: %v", item)
	}
}

func TestManager_MigrationChain(t *testing.T) {
	dir := t.TempDir()

	// 旧版本程序写出 v1 快照
	old := newTestManager(t, Config{Dir: dir, Version: 1})
	if err := old.Save(map[string]any{"accounts": []any{"alice"}}); err != nil {
		t.Fatalf("save v1 failed: %v", err)
	}

	// 新版本程序声明 v3，注册 v1→v2→v3 迁移链
	m := newTestManager(t, Config{Dir: dir, Version: 3})
	m.RegisterMigration(1, func(s map[string]any) (map[string]any, error) {
		s["format"] = "v2"
		return s, nil
	})
	m.RegisterMigration(2, func(s map[string]any) (map[string]any, error) {
		s["format"] = "v3"
		return s, nil
	})

	out, err := m.Load()
	if err != nil {
		t.Fatalf("load with migrations failed: %v", err)
	}
	if out["format"] != "v3" {
		t.Errorf("migration chain did not run, got %v", out["format"])
	}
}

func TestManager_MissingMigration(t *testing.T) {
	dir := t.TempDir()
	old := newTestManager(t, Config{Dir: dir, Version: 1})
	if err := old.Save(map[string]any{}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	m := newTestManager(t, Config{Dir: dir, Version: 2})
	_, err := m.Load()
	if !errors.Is(err, ErrNoMigration) {
		t.Fatalf("expected ErrNoMigration, got %v", err)
	}
}

func TestManager_SnapshotTooNew(t *testing.T) {
	dir := t.TempDir()
	newer := newTestManager(t, Config{Dir: dir, Version: 5})
	if err := newer.Save(map[string]any{}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	m := newTestManager(t, Config{Dir: dir, Version: 2})
	_, err := m.Load()
	if !errors.Is(err, ErrSnapshotTooNew) {
		t.Fatalf("expected ErrSnapshotTooNew, got %v", err)
	}
}

func TestManager_BackupRetentionFIFO(t *testing.T) {
	m := newTestManager(t, Config{MaxBackups: 10})
	if err := m.Save(map[string]any{"k": "v"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var names []string
	for i := 0; i < 11; i++ {
		name, err := m.CreateBackup(context.Background())
		if err != nil {
			t.Fatalf("backup %d failed: %v", i, err)
		}
		names = append(names, name)
		time.Sleep(3 * time.Millisecond) // 毫秒时间戳保证文件名有序
	}

	backups, err := m.ListBackups()
	if err != nil {
		t.Fatalf("list backups failed: %v", err)
	}
	if len(backups) != 10 {
		t.Fatalf("expected exactly 10 backups after pruning, got %d", len(backups))
	}
	if backups[0].Name == names[0] {
		t.Error("oldest backup was not pruned")
	}
	if backups[len(backups)-1].Name != names[len(names)-1] {
		t.Error("newest backup missing after pruning")
	}
}

func TestManager_CreateBackupWithoutSnapshot(t *testing.T) {
	m := newTestManager(t, Config{})
	_, err := m.CreateBackup(context.Background())
	if !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestManager_RestoreBackup(t *testing.T) {
	m := newTestManager(t, Config{})

	if err := m.Save(map[string]any{"generation": "first"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	name, err := m.CreateBackup(context.Background())
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	if err := m.Save(map[string]any{"generation": "second"}); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	if err := m.RestoreBackup(name); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	out, err := m.Load()
	if err != nil || out["generation"] != "first" {
		t.Fatalf("expected restored snapshot, got %v (err %v)", out, err)
	}
}

func TestManager_RestoreBackup_RejectsBadNames(t *testing.T) {
	m := newTestManager(t, Config{})

	for _, name := range []string{"", "../etc/passwd", "state-x/../../y.json", "other.json"} {
		if err := m.RestoreBackup(name); err == nil {
			t.Errorf("expected rejection for name %q", name)
		}
	}
}

type recordingMirror struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingMirror) UploadBackup(_ context.Context, name string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(data) == 0 {
		return fmt.Errorf("empty backup payload")
	}
	r.names = append(r.names, name)
	return nil
}

func TestManager_BackupMirror(t *testing.T) {
	m := newTestManager(t, Config{})
	mirror := &recordingMirror{}
	m.SetMirror(mirror)

	if err := m.Save(map[string]any{"k": "v"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	name, err := m.CreateBackup(context.Background())
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.names) != 1 || mirror.names[0] != name {
		t.Fatalf("expected mirrored backup %s, got %v", name, mirror.names)
	}
}

func TestManager_AutoSave(t *testing.T) {
	m := newTestManager(t, Config{})

	var mu sync.Mutex
	calls := 0
	snap := func() map[string]any {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return map[string]any{"calls": calls}
	}

	m.EnableAutoSave(20*time.Millisecond, snap)
	time.Sleep(90 * time.Millisecond)
	m.DisableAutoSave()

	mu.Lock()
	got := calls
	mu.Unlock()
	if got < 2 {
		t.Fatalf("expected at least 2 autosaves, got %d", got)
	}

	// Disable 后不再保存
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	after := calls
	mu.Unlock()
	if after != got {
		t.Errorf("autosave kept running after disable: %d -> %d", got, after)
	}

	out, err := m.Load()
	if err != nil || out == nil {
		t.Fatalf("expected autosaved snapshot, got %v (err %v)", out, err)
	}
}

func TestManager_AutoSaveIdempotent(t *testing.T) {
	m := newTestManager(t, Config{})

	// 连续 Enable 替换旧定时器，连续 Disable 为空操作
	m.EnableAutoSave(15*time.Millisecond, func() map[string]any { return map[string]any{"a": 1} })
	m.EnableAutoSave(15*time.Millisecond, func() map[string]any { return map[string]any{"a": 2} })
	m.DisableAutoSave()
	m.DisableAutoSave()

	m.EnableAutoSave(15*time.Millisecond, func() map[string]any { return map[string]any{"a": 3} })
	m.DisableAutoSave()
}

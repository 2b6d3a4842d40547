// Package state 运行时状态快照的持久化
//
// manager.go 包含快照管理器：
//   - Manager：版本化快照的读写与迁移
//   - 快照文件：{"version": N, "timestamp": ..., "state": {...}}
//   - 写入协议：临时文件 + fsync + 原子改名，崩溃只会留下旧快照或新快照
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"session-keeper/pkg/logging"
)

var (
	// ErrSnapshotTooNew 快照版本高于当前程序支持的版本
	ErrSnapshotTooNew = errors.New("snapshot version is newer than supported")

	// ErrNoMigration 缺少对应版本的迁移函数
	ErrNoMigration = errors.New("no migration registered for snapshot version")

	// ErrNoSnapshot 当前没有可用快照
	ErrNoSnapshot = errors.New("no snapshot exists")
)

// sanitizedKeys 序列化前剔除的键
//
// 快照可能被外部 JS 工具消费，这些键在弱类型运行时里有原型污染风险。
var sanitizedKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// MigrateFunc 将 state 载荷从某一版本迁移到下一版本
type MigrateFunc func(map[string]any) (map[string]any, error)

// Mirror 备份的异地镜像，可选
type Mirror interface {
	UploadBackup(ctx context.Context, name string, data []byte) error
}

// Snapshot 快照文件的顶层结构
type Snapshot struct {
	Version   int            `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
}

// Config 快照管理器配置
type Config struct {
	Dir        string // 数据目录
	FileName   string // 快照文件名，默认 state.json
	BackupDir  string // 备份目录，默认 <Dir>/backups
	MaxBackups int    // 备份保留数，默认 10
	Version    int    // 当前快照版本，默认 1
}

// ============================================================================
// Manager - 快照管理器
// ============================================================================

// Manager 版本化运行时快照管理器
type Manager struct {
	path       string
	backupDir  string
	maxBackups int
	version    int
	log        *logging.Logger

	mu         sync.Mutex
	migrations map[int]MigrateFunc
	mirror     Mirror

	autosaveMu   sync.Mutex
	autosaveStop chan struct{}
	autosaveDone chan struct{}
}

// NewManager 创建快照管理器并确保目录存在
func NewManager(cfg Config, log *logging.Logger) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("state: data dir is required")
	}
	if cfg.FileName == "" {
		cfg.FileName = "state.json"
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join(cfg.Dir, "backups")
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 10
	}
	if cfg.Version <= 0 {
		cfg.Version = 1
	}
	if log == nil {
		log = logging.Default("state")
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.BackupDir, 0700); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &Manager{
		path:       filepath.Join(cfg.Dir, cfg.FileName),
		backupDir:  cfg.BackupDir,
		maxBackups: cfg.MaxBackups,
		version:    cfg.Version,
		log:        log,
		migrations: make(map[int]MigrateFunc),
	}, nil
}

// SetMirror 配置备份镜像（nil 关闭）
func (m *Manager) SetMirror(mirror Mirror) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirror = mirror
}

// RegisterMigration 注册 from → from+1 的迁移函数
func (m *Manager) RegisterMigration(from int, fn MigrateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrations[from] = fn
}

// Save 清洗并原子写入快照
func (m *Manager) Save(state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		State:     sanitizeMap(state),
	}
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	start := time.Now()
	err = writeAtomic(m.path, data)
	m.log.SnapshotLog(m.path, len(data), time.Since(start), err)
	return err
}

// Load 读取快照并迁移到当前版本
//
// 快照文件不存在时返回 (nil, nil)。
func (m *Manager) Load() (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Version > m.version {
		return nil, fmt.Errorf("%w: snapshot v%d, supported v%d",
			ErrSnapshotTooNew, snap.Version, m.version)
	}

	out := snap.State
	for v := snap.Version; v < m.version; v++ {
		fn, ok := m.migrations[v]
		if !ok {
			return nil, fmt.Errorf("%w: v%d", ErrNoMigration, v)
		}
		out, err = fn(out)
		if err != nil {
			return nil, fmt.Errorf("migrate snapshot v%d: %w", v, err)
		}
	}
	return out, nil
}

// writeAtomic 临时文件 + fsync + 改名
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// sanitizeMap 递归剔除危险键，返回清洗后的副本
func sanitizeMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if _, bad := sanitizedKeys[k]; bad {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

// sanitizeValue 清洗嵌套容器
func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return sanitizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sanitizeValue(e)
		}
		return out
	default:
		return v
	}
}

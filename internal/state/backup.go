// Package state 运行时状态快照的持久化
//
// backup.go 包含备份管理：
//   - 备份为当前快照的带时间戳只读副本，文件名排序即时间顺序
//   - 超出保留上限时按先进先出删除最旧备份
//   - 配置了镜像时，新备份同时上传到对象存储（尽力而为）
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// backupPrefix 备份文件名前缀
const backupPrefix = "state-"

// backupTimeLayout 备份文件名中的时间戳格式（毫秒精度，避免同秒冲突）
const backupTimeLayout = "20060102T150405.000Z"

// mirrorUploadTimeout 单次镜像上传的超时
const mirrorUploadTimeout = 30 * time.Second

// BackupInfo 备份条目
type BackupInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateBackup 为当前快照创建一个不可变备份
//
// 返回备份文件名。创建后立即执行保留清理；镜像上传失败只记日志。
func (m *Manager) CreateBackup(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoSnapshot
	}
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}

	name := backupPrefix + time.Now().UTC().Format(backupTimeLayout) + ".json"
	dst := filepath.Join(m.backupDir, name)
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	if err := m.cleanupLocked(); err != nil {
		m.log.WithError(err).Warn("backup retention cleanup failed")
	}

	if m.mirror != nil {
		upCtx, cancel := context.WithTimeout(ctx, mirrorUploadTimeout)
		defer cancel()
		if err := m.mirror.UploadBackup(upCtx, name, data); err != nil {
			m.log.WithError(err).Warn("backup mirror upload failed", "backup", name)
		}
	}

	return name, nil
}

// ListBackups 按时间从旧到新列出备份
func (m *Manager) ListBackups() ([]BackupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

// RestoreBackup 将指定备份原子恢复为当前快照
//
// 恢复前校验备份内容可解析，避免用损坏文件覆盖正常快照。
func (m *Manager) RestoreBackup(name string) error {
	if name == "" || name != filepath.Base(name) || !strings.HasPrefix(name, backupPrefix) {
		return fmt.Errorf("invalid backup name %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(m.backupDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("backup %s not found", name)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("backup %s is corrupt: %w", name, err)
	}

	return writeAtomic(m.path, data)
}

// CleanupBackups 执行保留清理，删除超出上限的最旧备份
func (m *Manager) CleanupBackups() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked()
}

// listLocked 列出备份，调用方需持锁
func (m *Manager) listLocked() ([]BackupInfo, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var out []BackupInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{
			Name:      e.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime().UTC(),
		})
	}

	// 文件名内嵌 UTC 时间戳，字典序即时间序
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// cleanupLocked 按 FIFO 删除最旧备份，调用方需持锁
func (m *Manager) cleanupLocked() error {
	backups, err := m.listLocked()
	if err != nil {
		return err
	}

	var firstErr error
	for len(backups) > m.maxBackups {
		oldest := backups[0]
		if err := os.Remove(filepath.Join(m.backupDir, oldest.Name)); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove backup %s: %w", oldest.Name, err)
			}
			break
		}
		backups = backups[1:]
	}
	return firstErr
}

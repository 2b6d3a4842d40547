package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"session-keeper/internal/shared/model"
	"session-keeper/pkg/logging"
)

// SettingsStore 运行时设置的文件化存储（settings.json）
//
// 与启动配置（YAML）不同，这里的设置可在运行中经 API 修改并立即生效。
// 写入契约：
//   - 先校验后生效，校验失败保留旧值
//   - 临时文件 + 改名原子替换
//   - 未知键在读写之间原样保留（见 model.Settings）
type SettingsStore struct {
	path string
	log  *logging.Logger

	mu  sync.RWMutex
	cur model.Settings
}

// NewSettingsStore 创建设置存储，尚未加载
func NewSettingsStore(path string, log *logging.Logger) *SettingsStore {
	if log == nil {
		log = logging.Default("settings")
	}
	return &SettingsStore{
		path: path,
		log:  log,
		cur:  model.DefaultSettings(),
	}
}

// Load 从磁盘加载设置
//
// 文件缺失视为首次运行：写出默认值并返回 nil。
// 文件损坏返回错误，内存中保持默认值，调用方可决定是否继续。
func (s *SettingsStore) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Info("settings file missing, writing defaults", "path", s.path)
		return s.persist(model.DefaultSettings())
	}
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	var next model.Settings
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("settings %s out of range: %w", s.path, err)
	}

	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
	return nil
}

// Current 返回当前设置的副本
func (s *SettingsStore) Current() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update 校验并应用新设置，随后落盘
//
// 校验或落盘失败时旧值继续生效。
func (s *SettingsStore) Update(next model.Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.log.Info("settings updated",
		"autoReconnect", next.AutoReconnect,
		"saveMessages", next.SaveMessages,
		"startupDelay", next.StartupDelayMs,
		"maxReconnectAttempts", next.MaxReconnectAttempts)
	return nil
}

// Path 返回设置文件路径
func (s *SettingsStore) Path() string {
	return s.path
}

// persist 原子写盘并切换内存值
func (s *SettingsStore) persist(next model.Settings) error {
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}

	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
	return nil
}

// Package accounts 凭据文件的加载与保存
//
// 凭据文件为 JSON 数组，每条记录对应一个平台账号。启用加密后，
// 敏感字段以信封串落盘并带 _encrypted 标记；读取方向按需解密，
// 解密失败时失败关闭，不会把密文当明文交给网关。
package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"session-keeper/internal/secrets"
	"session-keeper/internal/shared/model"
	"session-keeper/pkg/logging"
)

var (
	// ErrNotFound 账号不存在
	ErrNotFound = errors.New("account not found")

	// ErrDuplicate 账号 ID 重复（大小写不敏感）
	ErrDuplicate = errors.New("account already exists")

	// ErrCryptoRequired 记录已加密但未配置加密管理器
	ErrCryptoRequired = errors.New("account is encrypted but no crypto manager is configured")
)

// ============================================================================
// Store - 凭据存储
// ============================================================================

// Store 凭据文件存储
//
// 内存中保持文件原始顺序；索引键为小写账号 ID。
// crypto 为 nil 表示未启用加密，记录按明文读写。
type Store struct {
	path   string
	crypto *secrets.Manager
	log    *logging.Logger

	mu    sync.RWMutex
	list  []model.Account
	index map[string]int
}

// NewStore 创建凭据存储
func NewStore(path string, crypto *secrets.Manager, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Default("accounts")
	}
	return &Store{
		path:   path,
		crypto: crypto,
		log:    log,
		index:  make(map[string]int),
	}
}

// Load 从磁盘加载凭据文件
//
// 文件不存在时得到空存储；重复 ID（大小写不敏感）视为文件损坏。
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.list = nil
		s.index = make(map[string]int)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read accounts file: %w", err)
	}

	var list []model.Account
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parse accounts file: %w", err)
	}

	index := make(map[string]int, len(list))
	for i := range list {
		key := list[i].Key()
		if key == "" {
			return fmt.Errorf("accounts file entry %d has empty id", i)
		}
		if _, dup := index[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicate, list[i].ID)
		}
		index[key] = i
	}

	s.list = list
	s.index = index
	s.log.Info("accounts loaded", "count", len(list))
	return nil
}

// Save 持久化凭据文件
//
// 启用加密时先补齐未加密记录再落盘，已加密记录不会被二次加密。
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// Add 新增账号并立即持久化
func (s *Store) Add(a model.Account) error {
	key := a.Key()
	if key == "" {
		return fmt.Errorf("account id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.index[key]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, a.ID)
	}
	s.list = append(s.list, a)
	s.index[key] = len(s.list) - 1
	return s.saveLocked()
}

// Remove 删除账号并立即持久化
func (s *Store) Remove(id string) error {
	key := strings.ToLower(strings.TrimSpace(id))

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.list = append(s.list[:i], s.list[i+1:]...)
	s.rebuildIndexLocked()
	return s.saveLocked()
}

// Get 按 ID 查找账号（大小写不敏感），返回存储形态的副本
func (s *Store) Get(id string) (model.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return model.Account{}, false
	}
	return s.list[i], true
}

// List 返回全部账号的存储形态副本（保持文件顺序）
func (s *Store) List() []model.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Account, len(s.list))
	copy(out, s.list)
	return out
}

// IDs 返回全部账号 ID（按文件顺序）
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.list))
	for i := range s.list {
		out = append(out, s.list[i].ID)
	}
	return out
}

// Count 返回账号数量
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}

// Credentials 生成某账号的运行时明文凭据
//
// 已加密记录必须有加密管理器，解密失败直接报错（失败关闭）。
func (s *Store) Credentials(id string) (model.Credentials, error) {
	a, ok := s.Get(id)
	if !ok {
		return model.Credentials{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if !a.Encrypted {
		return model.Credentials{
			AccountID:    a.ID,
			Password:     a.Password,
			SharedSecret: a.SharedSecret,
		}, nil
	}
	if s.crypto == nil {
		return model.Credentials{}, fmt.Errorf("%w: %s", ErrCryptoRequired, id)
	}
	return s.crypto.Credentials(&a)
}

// EncryptAll 加密所有未加密记录并持久化，返回本次加密的数量
func (s *Store) EncryptAll() (int, error) {
	if s.crypto == nil {
		return 0, ErrCryptoRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.list {
		if s.list[i].Encrypted {
			continue
		}
		if err := s.crypto.EncryptAccount(&s.list[i]); err != nil {
			return n, fmt.Errorf("encrypt account %s: %w", s.list[i].ID, err)
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.saveLocked()
}

// DecryptAll 解密所有记录并以明文持久化，返回本次解密的数量
//
// 仅供运维工具降级使用，守护进程不调用。
func (s *Store) DecryptAll() (int, error) {
	if s.crypto == nil {
		return 0, ErrCryptoRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.list {
		if !s.list[i].Encrypted {
			continue
		}
		plain, err := s.crypto.DecryptAccount(&s.list[i])
		if err != nil {
			return n, fmt.Errorf("decrypt account %s: %w", s.list[i].ID, err)
		}
		s.list[i] = plain
		n++
	}
	if n == 0 {
		return 0, nil
	}
	// 绕过加密补齐，按明文落盘
	return n, s.writeLocked()
}

// saveLocked 加密补齐后原子落盘，调用方需持写锁
func (s *Store) saveLocked() error {
	if s.crypto != nil {
		for i := range s.list {
			if s.list[i].Encrypted {
				continue
			}
			if err := s.crypto.EncryptAccount(&s.list[i]); err != nil {
				return fmt.Errorf("encrypt account %s: %w", s.list[i].ID, err)
			}
		}
	}
	return s.writeLocked()
}

// writeLocked 原子落盘当前内容，调用方需持写锁
func (s *Store) writeLocked() error {
	data, err := json.MarshalIndent(s.list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}
	if s.list == nil {
		data = []byte("[]")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write accounts temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace accounts file: %w", err)
	}
	return nil
}

// rebuildIndexLocked 重建索引，调用方需持写锁
func (s *Store) rebuildIndexLocked() {
	s.index = make(map[string]int, len(s.list))
	for i := range s.list {
		s.index[s.list[i].Key()] = i
	}
}

// SortedIDs 返回按字典序排序的账号 ID（展示用）
func (s *Store) SortedIDs() []string {
	ids := s.IDs()
	sort.Strings(ids)
	return ids
}

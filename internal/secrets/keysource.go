// Package secrets 凭据字段的认证加密
//
// keysource.go 包含主密钥的解析顺序：
//  1. 环境变量 SESSION_KEEPER_MASTER_KEY（64 位 hex）
//  2. 密钥文件 <dataDir>/master.key（0600）
//  3. 自动生成并持久化到密钥文件
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MasterKeyEnv 主密钥环境变量名
	MasterKeyEnv = "SESSION_KEEPER_MASTER_KEY"

	// keyFileName 数据目录下的密钥文件名
	keyFileName = "master.key"
)

// 密钥来源标识
const (
	KeySourceEnv       = "env"
	KeySourceFile      = "file"
	KeySourceGenerated = "generated"
)

// LoadMasterKey 按既定顺序解析主密钥
//
// 返回密钥字节与来源标识；来源为 generated 时密钥已写入
// <dataDir>/master.key（0600），调用方应记录一条生成日志。
func LoadMasterKey(dataDir string) ([]byte, string, error) {
	if v := strings.TrimSpace(os.Getenv(MasterKeyEnv)); v != "" {
		key, err := decodeKeyHex(v)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", MasterKeyEnv, err)
		}
		return key, KeySourceEnv, nil
	}

	path := filepath.Join(dataDir, keyFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, kerr := decodeKeyHex(strings.TrimSpace(string(data)))
		if kerr != nil {
			return nil, "", fmt.Errorf("key file %s: %w", path, kerr)
		}
		return key, KeySourceFile, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, "", fmt.Errorf("read key file: %w", err)
	}

	key, err := generateKeyFile(dataDir, path)
	if err != nil {
		return nil, "", err
	}
	return key, KeySourceGenerated, nil
}

// generateKeyFile 生成新主密钥并以 0600 持久化
func generateKeyFile(dataDir, path string) ([]byte, error) {
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

// decodeKeyHex 解析 64 位 hex 主密钥
func decodeKeyHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil || len(key) != keyLen {
		return nil, ErrBadMasterKey
	}
	return key, nil
}

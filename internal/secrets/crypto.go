// Package secrets 凭据字段的认证加密
//
// crypto.go 包含加密管理器：
//   - Manager：持有主密钥，负责字段级加解密
//   - 信封格式：$SK1$salt:nonce:tag:ciphertext（各段 base64，salt 仅口令派生时非空）
//   - 口令派生：PBKDF2-SHA256，盐随信封存储
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"session-keeper/internal/shared/model"
)

const (
	// envelopePrefix 信封版本前缀，解密按此识别密文
	envelopePrefix = "$SK1$"

	// kdfIterations PBKDF2 迭代次数
	kdfIterations = 210000

	// saltLen 口令派生盐长度
	saltLen = 16

	// keyLen AES-256 密钥长度
	keyLen = 32

	// tagLen GCM 认证标签长度
	tagLen = 16
)

// ============================================================================
// Manager - 加密管理器
// ============================================================================

// Manager 持有主密钥的加密管理器
//
// 每次加密使用新的随机 nonce；解密任何一步失败都返回 ErrDecryptFailed，
// 不泄露失败原因的细节。
type Manager struct {
	key []byte
}

// NewManager 创建加密管理器，key 必须为 32 字节
func NewManager(key []byte) (*Manager, error) {
	if len(key) != keyLen {
		return nil, ErrBadMasterKey
	}
	k := make([]byte, keyLen)
	copy(k, key)
	return &Manager{key: k}, nil
}

// IsEncrypted 报告字符串是否为加密信封
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, envelopePrefix)
}

// Encrypt 用主密钥加密明文，返回信封串
func (m *Manager) Encrypt(plain string) (string, error) {
	return seal(m.key, nil, []byte(plain))
}

// Decrypt 用主密钥解密信封串
//
// 非信封输入返回 ErrNotEncrypted；校验失败返回 ErrDecryptFailed。
func (m *Manager) Decrypt(envelope string) (string, error) {
	salt, nonce, tag, ct, err := parseEnvelope(envelope)
	if err != nil {
		return "", err
	}
	if len(salt) != 0 {
		return "", fmt.Errorf("%w: envelope requires a password", ErrDecryptFailed)
	}
	return open(m.key, nonce, tag, ct)
}

// EncryptWithPassword 用口令派生密钥加密，盐写入信封
func EncryptWithPassword(plain, password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := deriveKey(password, salt)
	return seal(key, salt, []byte(plain))
}

// DecryptWithPassword 用口令解密信封串
func DecryptWithPassword(envelope, password string) (string, error) {
	salt, nonce, tag, ct, err := parseEnvelope(envelope)
	if err != nil {
		return "", err
	}
	if len(salt) == 0 {
		return "", fmt.Errorf("%w: envelope was not password-derived", ErrDecryptFailed)
	}
	key := deriveKey(password, salt)
	return open(key, nonce, tag, ct)
}

// ============================================================================
// 账号级加解密
// ============================================================================

// EncryptAccount 就地加密账号的敏感字段并打上 _encrypted 标记
//
// 已标记的记录拒绝二次加密。
func (m *Manager) EncryptAccount(a *model.Account) error {
	if a.Encrypted {
		return ErrAlreadyEncrypted
	}

	if a.Password != "" {
		enc, err := m.Encrypt(a.Password)
		if err != nil {
			return fmt.Errorf("encrypt password for %s: %w", a.ID, err)
		}
		a.Password = enc
	}
	if a.SharedSecret != "" {
		enc, err := m.Encrypt(a.SharedSecret)
		if err != nil {
			return fmt.Errorf("encrypt shared secret for %s: %w", a.ID, err)
		}
		a.SharedSecret = enc
	}
	a.Encrypted = true
	return nil
}

// DecryptAccount 返回解密后的账号副本，原记录保持加密状态
func (m *Manager) DecryptAccount(a *model.Account) (model.Account, error) {
	out := *a
	if !a.Encrypted {
		return out, nil
	}

	if a.Password != "" {
		plain, err := m.Decrypt(a.Password)
		if err != nil {
			return model.Account{}, fmt.Errorf("decrypt password for %s: %w", a.ID, err)
		}
		out.Password = plain
	}
	if a.SharedSecret != "" {
		plain, err := m.Decrypt(a.SharedSecret)
		if err != nil {
			return model.Account{}, fmt.Errorf("decrypt shared secret for %s: %w", a.ID, err)
		}
		out.SharedSecret = plain
	}
	out.Encrypted = false
	return out, nil
}

// Credentials 生成网关登录所需的明文凭据
func (m *Manager) Credentials(a *model.Account) (model.Credentials, error) {
	plain, err := m.DecryptAccount(a)
	if err != nil {
		return model.Credentials{}, err
	}
	return model.Credentials{
		AccountID:    plain.ID,
		Password:     plain.Password,
		SharedSecret: plain.SharedSecret,
	}, nil
}

// ============================================================================
// 信封编解码
// ============================================================================

// seal 加密并编码信封，salt 可为空（主密钥路径）
func seal(key, salt, plain []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plain, nil)
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	enc := base64.StdEncoding
	return envelopePrefix +
		enc.EncodeToString(salt) + ":" +
		enc.EncodeToString(nonce) + ":" +
		enc.EncodeToString(tag) + ":" +
		enc.EncodeToString(ct), nil
}

// open 解密信封载荷，任何校验失败都折叠为 ErrDecryptFailed
func open(key, nonce, tag, ct []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", ErrDecryptFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(nonce) != gcm.NonceSize() || len(tag) != tagLen {
		return "", ErrDecryptFailed
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}

// parseEnvelope 拆解信封串为四段二进制
func parseEnvelope(s string) (salt, nonce, tag, ct []byte, err error) {
	if !IsEncrypted(s) {
		return nil, nil, nil, nil, ErrNotEncrypted
	}

	parts := strings.Split(strings.TrimPrefix(s, envelopePrefix), ":")
	if len(parts) != 4 {
		return nil, nil, nil, nil, ErrDecryptFailed
	}

	enc := base64.StdEncoding
	fields := make([][]byte, 4)
	for i, p := range parts {
		b, decErr := enc.DecodeString(p)
		if decErr != nil {
			return nil, nil, nil, nil, ErrDecryptFailed
		}
		fields[i] = b
	}
	return fields[0], fields[1], fields[2], fields[3], nil
}

// deriveKey 从口令派生 AES-256 密钥
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfIterations, keyLen, sha256.New)
}

// Package model 定义核心数据模型
//
// account.go 包含账号凭据相关的数据模型定义：
//   - Account：平台账号凭据记录
//   - Credentials：网关登录所需的运行时凭据
package model

import "strings"

// ============================================================================
// Account - 平台账号凭据
// ============================================================================

// Account 表示一个受管平台账号
//
// 凭据文件为 JSON 数组，敏感字段（password、sharedSecret）在启用加密后
// 以信封串形式存储，_encrypted 标记当前记录是否已加密。
// 字段 JSON 命名遵循凭据文件的外部契约，保持 camelCase。
type Account struct {
	ID           string   `json:"id" db:"id"`                               // 账号 ID（大小写不敏感唯一）
	Password     string   `json:"password,omitempty" db:"password"`         // 登录口令（可能为信封串）
	SharedSecret string   `json:"sharedSecret,omitempty" db:"shared_secret"` // TOTP 共享密钥（可能为信封串）
	Titles       []string `json:"titles,omitempty" db:"titles"`             // 保活时挂机的条目列表
	Encrypted    bool     `json:"_encrypted,omitempty" db:"encrypted"`      // 敏感字段是否已加密
}

// Key 返回账号的规范化键（小写）
//
// 凭据文件与会话表均以此键索引，保证大小写不敏感唯一。
func (a *Account) Key() string {
	return strings.ToLower(strings.TrimSpace(a.ID))
}

// Redacted 返回脱敏副本，用于 API 列表展示
func (a *Account) Redacted() Account {
	out := *a
	if out.Password != "" {
		out.Password = "••••••"
	}
	if out.SharedSecret != "" {
		out.SharedSecret = "••••••"
	}
	return out
}

// HasSharedSecret 报告账号是否携带 TOTP 共享密钥
func (a *Account) HasSharedSecret() bool {
	return strings.TrimSpace(a.SharedSecret) != ""
}

// ============================================================================
// Credentials - 网关登录凭据
// ============================================================================

// Credentials 网关 Connect 所需的明文凭据
//
// 仅存在于内存中，解密失败时绝不使用密文兜底。
type Credentials struct {
	AccountID    string
	Password     string
	SharedSecret string
}

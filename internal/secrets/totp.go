// Package secrets 凭据字段的认证加密
//
// totp.go 包含 RFC 6238 一次性口令生成，用于自动应答 totp 类质询。
package secrets

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	// totpPeriod 时间步长（秒）
	totpPeriod = 30

	// totpDigits 口令位数
	totpDigits = 6
)

// TOTPCode 计算账号共享密钥在时刻 t 的一次性口令
//
// secret 为 base32 编码（大小写与空白不敏感，可带填充）。
func TOTPCode(secret string, t time.Time) (string, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	normalized = strings.TrimRight(normalized, "=")

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
	if err != nil {
		return "", fmt.Errorf("decode shared secret: %w", err)
	}
	if len(key) == 0 {
		return "", fmt.Errorf("shared secret is empty")
	}

	counter := uint64(t.Unix()) / totpPeriod
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// RFC 4226 动态截断
	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", totpDigits, code%mod), nil
}

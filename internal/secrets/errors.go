// Package secrets 定义凭据加密层领域错误
//
// 解密路径区分"输入本来就不是密文"与"密文无法通过校验"两种情况，
// 后者必须失败关闭，绝不把密文当明文返回。
package secrets

import "errors"

var (
	// ErrNotEncrypted 输入不是加密信封（调用方可按明文处理）
	ErrNotEncrypted = errors.New("value is not an encrypted envelope")

	// ErrDecryptFailed 解密失败（密钥不符、密文被篡改或信封损坏）
	ErrDecryptFailed = errors.New("decryption failed")

	// ErrAlreadyEncrypted 记录已加密，拒绝二次加密
	ErrAlreadyEncrypted = errors.New("record is already encrypted")

	// ErrBadMasterKey 主密钥格式不合法（长度或编码错误）
	ErrBadMasterKey = errors.New("master key must be 64 hex characters (32 bytes)")
)

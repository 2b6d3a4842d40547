// Package model 定义核心数据模型
//
// settings.go 包含运行时设置相关的定义：
//   - Settings：settings.json 的结构化表示
//   - 设置项取值范围常量与校验
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// 设置项取值范围
const (
	// StartupDelayMinMs 启动间隔下限（毫秒）
	StartupDelayMinMs = 500

	// StartupDelayMaxMs 启动间隔上限（毫秒）
	StartupDelayMaxMs = 30000

	// MaxReconnectAttemptsMin 重连次数下限（0 表示不自动重连）
	MaxReconnectAttemptsMin = 0

	// MaxReconnectAttemptsMax 重连次数上限
	MaxReconnectAttemptsMax = 50
)

// ============================================================================
// Settings - 运行时设置
// ============================================================================

// Settings 表示 settings.json 的内容
//
// 序列化契约：
//   - 已知键使用 camelCase，与外部文件格式保持一致
//   - 未知键在读写之间原样保留（Extra），便于新旧版本共用同一文件
type Settings struct {
	AutoReconnect        bool `json:"autoReconnect"`        // 意外断线后是否自动重连
	InvisibleMode        bool `json:"invisibleMode"`        // 登录后是否隐身
	SaveMessages         bool `json:"saveMessages"`         // 是否归档收到的消息
	Debug                bool `json:"debug"`                // 调试日志
	StartupDelayMs       int  `json:"startupDelay"`         // 批量启动时账号间隔（毫秒）
	MaxReconnectAttempts int  `json:"maxReconnectAttempts"` // 单账号最大自动重连次数

	// Extra 保留未知键，读写往返不丢失
	Extra map[string]json.RawMessage `json:"-"`
}

// knownSettingsKeys 已知键集合，反序列化时从 Extra 中剔除
var knownSettingsKeys = map[string]struct{}{
	"autoReconnect":        {},
	"invisibleMode":        {},
	"saveMessages":         {},
	"debug":                {},
	"startupDelay":         {},
	"maxReconnectAttempts": {},
}

// DefaultSettings 返回默认设置
func DefaultSettings() Settings {
	return Settings{
		AutoReconnect:        true,
		InvisibleMode:        false,
		SaveMessages:         false,
		Debug:                false,
		StartupDelayMs:       2500,
		MaxReconnectAttempts: 10,
	}
}

// Validate 校验取值范围
//
// 任一字段越界即返回指名错误，调用方应保留旧值（先校验后生效）。
func (s *Settings) Validate() error {
	if s.StartupDelayMs < StartupDelayMinMs || s.StartupDelayMs > StartupDelayMaxMs {
		return fmt.Errorf("startupDelay must be between %d and %d ms, got %d",
			StartupDelayMinMs, StartupDelayMaxMs, s.StartupDelayMs)
	}
	if s.MaxReconnectAttempts < MaxReconnectAttemptsMin || s.MaxReconnectAttempts > MaxReconnectAttemptsMax {
		return fmt.Errorf("maxReconnectAttempts must be between %d and %d, got %d",
			MaxReconnectAttemptsMin, MaxReconnectAttemptsMax, s.MaxReconnectAttempts)
	}
	return nil
}

// UnmarshalJSON 反序列化并收集未知键
func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range knownSettingsKeys {
		delete(raw, k)
	}
	if len(raw) == 0 {
		raw = nil
	}

	*s = Settings(p)
	s.Extra = raw
	return nil
}

// MarshalJSON 序列化并写回未知键
func (s Settings) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Extra)+len(knownSettingsKeys))
	for k, v := range s.Extra {
		out[k] = v
	}

	put := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}
	if err := put("autoReconnect", s.AutoReconnect); err != nil {
		return nil, err
	}
	if err := put("invisibleMode", s.InvisibleMode); err != nil {
		return nil, err
	}
	if err := put("saveMessages", s.SaveMessages); err != nil {
		return nil, err
	}
	if err := put("debug", s.Debug); err != nil {
		return nil, err
	}
	if err := put("startupDelay", s.StartupDelayMs); err != nil {
		return nil, err
	}
	if err := put("maxReconnectAttempts", s.MaxReconnectAttempts); err != nil {
		return nil, err
	}

	return json.Marshal(out)
}

// StartupDelay 返回启动间隔的 time.Duration 视图
func (s *Settings) StartupDelay() time.Duration {
	return time.Duration(s.StartupDelayMs) * time.Millisecond
}

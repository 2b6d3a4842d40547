// Package model 定义核心数据模型
//
// session.go 包含会话生命周期相关的数据模型定义：
//   - SessionState：会话状态枚举
//   - SessionInfo：会话只读视图（API/监控用）
//   - PersistedSession：会话持久化片段（状态快照用）
package model

import "time"

// ============================================================================
// SessionState - 会话状态
// ============================================================================

// SessionState 会话生命周期状态
//
// 状态机：
//
//	idle → connecting → authenticating → active
//	active|connecting|authenticating → disconnected | error
//	disconnected → reconnecting → connecting | failed
//	active → disconnecting → idle
//
// failed 为终态（重连预算耗尽）；error 仅能由操作员显式 Start 退出。
type SessionState string

const (
	// SessionStateIdle 空闲（未连接）
	SessionStateIdle SessionState = "idle"

	// SessionStateConnecting 连接中
	SessionStateConnecting SessionState = "connecting"

	// SessionStateAuthenticating 认证中（等待质询答案，无超时）
	SessionStateAuthenticating SessionState = "authenticating"

	// SessionStateActive 在线保活中
	SessionStateActive SessionState = "active"

	// SessionStateDisconnecting 主动下线中
	SessionStateDisconnecting SessionState = "disconnecting"

	// SessionStateDisconnected 意外断线（待重连判定）
	SessionStateDisconnected SessionState = "disconnected"

	// SessionStateReconnecting 重连退避等待中
	SessionStateReconnecting SessionState = "reconnecting"

	// SessionStateError 终端性错误（凭据无效、封禁等），不自动重试
	SessionStateError SessionState = "error"

	// SessionStateFailed 重连预算耗尽，终态
	SessionStateFailed SessionState = "failed"
)

// Startable 报告该状态下是否允许操作员发起 Start
func (s SessionState) Startable() bool {
	switch s {
	case SessionStateIdle, SessionStateDisconnected, SessionStateError, SessionStateFailed:
		return true
	}
	return false
}

// InFlight 报告会话是否处于连接或保活过程中
func (s SessionState) InFlight() bool {
	switch s {
	case SessionStateConnecting, SessionStateAuthenticating, SessionStateActive,
		SessionStateReconnecting, SessionStateDisconnecting:
		return true
	}
	return false
}

// ============================================================================
// SessionInfo - 会话只读视图
// ============================================================================

// SessionInfo 会话的稳定只读视图，供 API 与监控使用
type SessionInfo struct {
	AccountID     string       `json:"account_id"`
	State         SessionState `json:"state"`
	Identity      string       `json:"identity,omitempty"`       // 网关侧身份标识，空表示底层连接不可用
	Active        bool         `json:"active"`                   // state==active 且 Identity 非空
	ChallengeKind string       `json:"challenge_kind,omitempty"` // authenticating 时的质询类型
	Reconnects    int          `json:"reconnects"`               // 本轮累计自动重连次数
	UptimeSeconds int64        `json:"uptime_seconds"`           // 自进入 active 起的秒数
	LastError     string       `json:"last_error,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ============================================================================
// PersistedSession - 会话持久化片段
// ============================================================================

// PersistedSession 写入状态快照的最小会话信息
//
// 进程重启后据此恢复重连计数并决定是否自动拉起。
type PersistedSession struct {
	AccountID  string       `json:"account_id"`
	State      SessionState `json:"state"`
	Reconnects int          `json:"reconnects"`
	WasRunning bool         `json:"was_running"` // 退出时是否处于连接/保活过程
	LastSeenAt time.Time    `json:"last_seen_at"`
}

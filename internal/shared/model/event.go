// Package model 定义核心数据模型
//
// event.go 包含会话事件相关的数据模型定义：
//   - SessionEvent：会话生命周期事件（事件总线/监控推送）
//   - SessionEventType：事件类型枚举
package model

import "time"

// ============================================================================
// SessionEventType - 会话事件类型
// ============================================================================

// SessionEventType 定义会话事件的类型
//
// 事件分类：
//  1. 状态事件：state_changed
//  2. 认证事件：challenge_requested, challenge_answered
//  3. 消息事件：message_received
//  4. 运维事件：snapshot_saved, backup_created
//  5. 错误事件：error
type SessionEventType string

const (
	// EventStateChanged 会话状态变更
	EventStateChanged SessionEventType = "state_changed"

	// EventChallengeRequested 网关要求补充认证（等待人工或 TOTP）
	EventChallengeRequested SessionEventType = "challenge_requested"

	// EventChallengeAnswered 质询已应答
	EventChallengeAnswered SessionEventType = "challenge_answered"

	// EventMessageReceived 收到平台消息
	EventMessageReceived SessionEventType = "message_received"

	// EventSnapshotSaved 状态快照已写盘
	EventSnapshotSaved SessionEventType = "snapshot_saved"

	// EventBackupCreated 快照备份已创建
	EventBackupCreated SessionEventType = "backup_created"

	// EventError 错误事件
	// Payload: {"reason": "...", "terminal": false}
	EventError SessionEventType = "error"
)

// ============================================================================
// SessionEvent - 会话事件
// ============================================================================

// SessionEvent 会话生命周期事件
//
// 每次状态迁移、质询、消息与错误都会发布一条事件，用于：
//   - WebSocket 实时监控推送
//   - Redis Streams 外部消费（可选）
//   - 调试与审计
type SessionEvent struct {
	ID        string           `json:"id"`                   // 事件 ID
	AccountID string           `json:"account_id"`           // 所属账号
	Type      SessionEventType `json:"type"`                 // 事件类型
	From      SessionState     `json:"from,omitempty"`       // 迁移前状态（state_changed）
	To        SessionState     `json:"to,omitempty"`         // 迁移后状态（state_changed）
	Reason    string           `json:"reason,omitempty"`     // 人类可读原因
	Timestamp time.Time        `json:"timestamp"`            // 事件时间
	Payload   map[string]any   `json:"payload,omitempty"`    // 附加数据
}

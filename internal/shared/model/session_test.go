// Package model 定义核心数据模型的测试
package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// SessionState 模型测试
// ============================================================================

// TestSessionState_Values 验证会话状态枚举值
func TestSessionState_Values(t *testing.T) {
	states := []SessionState{
		SessionStateIdle,
		SessionStateConnecting,
		SessionStateAuthenticating,
		SessionStateActive,
		SessionStateDisconnecting,
		SessionStateDisconnected,
		SessionStateReconnecting,
		SessionStateError,
		SessionStateFailed,
	}

	for _, s := range states {
		assert.NotEmpty(t, string(s))
	}

	assert.Equal(t, SessionState("idle"), SessionStateIdle)
	assert.Equal(t, SessionState("active"), SessionStateActive)
	assert.Equal(t, SessionState("failed"), SessionStateFailed)
}

// TestSessionState_Startable 验证可 Start 状态集合
func TestSessionState_Startable(t *testing.T) {
	assert.True(t, SessionStateIdle.Startable())
	assert.True(t, SessionStateDisconnected.Startable())
	assert.True(t, SessionStateError.Startable())
	assert.True(t, SessionStateFailed.Startable())

	assert.False(t, SessionStateConnecting.Startable())
	assert.False(t, SessionStateAuthenticating.Startable())
	assert.False(t, SessionStateActive.Startable())
	assert.False(t, SessionStateDisconnecting.Startable())
	assert.False(t, SessionStateReconnecting.Startable())
}

// TestSessionState_InFlight 验证连接中状态集合
func TestSessionState_InFlight(t *testing.T) {
	assert.True(t, SessionStateConnecting.InFlight())
	assert.True(t, SessionStateAuthenticating.InFlight())
	assert.True(t, SessionStateActive.InFlight())
	assert.True(t, SessionStateReconnecting.InFlight())
	assert.True(t, SessionStateDisconnecting.InFlight())

	assert.False(t, SessionStateIdle.InFlight())
	assert.False(t, SessionStateDisconnected.InFlight())
	assert.False(t, SessionStateError.InFlight())
	assert.False(t, SessionStateFailed.InFlight())
}

// ============================================================================
// Account 模型测试
// ============================================================================

// TestAccount_Key 验证账号键的规范化
func TestAccount_Key(t *testing.T) {
	a := Account{ID: "  Alice@Example.COM "}
	assert.Equal(t, "alice@example.com", a.Key())

	b := Account{ID: "bob"}
	assert.Equal(t, "bob", b.Key())
}

// TestAccount_Redacted 验证脱敏副本不泄露敏感字段
func TestAccount_Redacted(t *testing.T) {
	a := Account{
		ID:           "alice",
		Password:     "hunter2",
		SharedSecret: "JBSWY3DPEHPK3PXP",
		Titles:       []string{"title-a", "title-b"},
	}

	r := a.Redacted()
	assert.Equal(t, "alice", r.ID)
	assert.NotContains(t, r.Password, "hunter2")
	assert.NotContains(t, r.SharedSecret, "JBSWY3DP")
	assert.Equal(t, a.Titles, r.Titles)

	// 原始记录不受影响
	assert.Equal(t, "hunter2", a.Password)
}

// TestAccount_HasSharedSecret 验证共享密钥判断
func TestAccount_HasSharedSecret(t *testing.T) {
	assert.False(t, (&Account{}).HasSharedSecret())
	assert.False(t, (&Account{SharedSecret: "   "}).HasSharedSecret())
	assert.True(t, (&Account{SharedSecret: "JBSWY3DPEHPK3PXP"}).HasSharedSecret())
}

package keeper

import (
	"time"

	"session-keeper/internal/gateway"
	"session-keeper/internal/shared/model"
)

// session 单个账号的运行时记录，所有字段由 SessionRegistry.mu 保护。
// 每次连接尝试递增 gen，事件泵携带自己的代次，
// 过期代次的事件和回调一律丢弃。
type session struct {
	accountID string
	key       string

	state     model.SessionState
	client    gateway.Client
	gen       int
	cancel    func()

	challenge  gateway.ChallengeKind
	reconnects int

	activeSince time.Time
	lastError   string
	updatedAt   time.Time
}

func newSession(accountID, key string) *session {
	return &session{
		accountID: accountID,
		key:       key,
		state:     model.SessionStateIdle,
		updatedAt: time.Now(),
	}
}

// current 判断回调是否来自当前连接代次
func (s *session) current(gen int) bool {
	return s.gen == gen
}

// supersede 作废当前代次：取消其上下文并递增 gen
func (s *session) supersede() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

// liveIdentity 返回在线身份，句柄缺失或未登录时为空串
func (s *session) liveIdentity() string {
	if s.client == nil {
		return ""
	}
	return s.client.Identity()
}

// active 在线判定：状态为 active 且句柄仍报告登录身份。
// 句柄失联（身份为空）的会话即使状态未及时迁移也不算在线。
func (s *session) active() bool {
	return s.state == model.SessionStateActive && s.liveIdentity() != ""
}

func (s *session) info() model.SessionInfo {
	info := model.SessionInfo{
		AccountID:     s.accountID,
		State:         s.state,
		Identity:      s.liveIdentity(),
		Active:        s.active(),
		ChallengeKind: string(s.challenge),
		Reconnects:    s.reconnects,
		LastError:     s.lastError,
		UpdatedAt:     s.updatedAt,
	}
	if s.active() && !s.activeSince.IsZero() {
		info.UptimeSeconds = int64(time.Since(s.activeSince).Seconds())
	}
	return info
}

func (s *session) persisted() model.PersistedSession {
	return model.PersistedSession{
		AccountID:  s.accountID,
		State:      s.state,
		Reconnects: s.reconnects,
		WasRunning: s.state.InFlight(),
		LastSeenAt: s.updatedAt,
	}
}

// Package gateway 外部平台会话客户端的接口边界
//
// 守护进程不实现平台线协议，所有交互走本包的 Client 接口：
//   - 命令为方法调用（Connect/SubmitChallenge/SetPresence/...）
//   - 结果与异步通知统一从 Events() 通道流出
//
// 设计原则：
//   - 每种平台实现一个 Dialer，通过 Registry 注册
//   - 错误用 ErrTerminal/ErrTransient 哨兵包装，编排层据此决定是否重试
//   - Identity() 反映底层连接的真实身份，连接失效时必须返回空串
//
// 文件组织：
//   - gateway.go: Client/Dialer 接口、事件类型、注册表
//   - fake.go: 脚本化假驱动（开发与测试）
package gateway

import (
	"context"
	"errors"
	"time"

	"session-keeper/internal/shared/model"
)

// 错误分类哨兵，驱动实现用 %w 包装具体错误
var (
	// ErrTerminal 不可重试的失败（凭据无效、账号封禁）
	ErrTerminal = errors.New("terminal gateway failure")

	// ErrTransient 可重试的失败（网络抖动、服务端断开）
	ErrTransient = errors.New("transient gateway failure")
)

// ChallengeKind 质询类型
type ChallengeKind string

const (
	// ChallengeTOTP 基于共享密钥的一次性口令，可自动应答
	ChallengeTOTP ChallengeKind = "totp"

	// ChallengeEmailCode 邮箱验证码，需人工提交
	ChallengeEmailCode ChallengeKind = "email-code"

	// ChallengeDeviceApprove 设备确认，需人工在别处批准
	ChallengeDeviceApprove ChallengeKind = "device-approve"
)

// ============================================================================
// Event - 网关异步事件
// ============================================================================

// Event 网关异步事件的密封联合
type Event interface{ isEvent() }

// Connected 底层连接建立（尚未认证）
type Connected struct{}

// ChallengeRequested 平台要求补充认证
type ChallengeRequested struct {
	Kind   ChallengeKind
	Prompt string
}

// Authenticated 认证完成，会话在线
type Authenticated struct {
	Identity string
}

// Disconnected 连接意外断开（瞬时，可重试）
type Disconnected struct {
	Reason string
	Err    error
}

// MessageReceived 收到平台消息
type MessageReceived struct {
	From string
	Text string
	At   time.Time
}

// Fatal 终端性失败（不可重试）
type Fatal struct {
	Reason string
	Err    error
}

func (Connected) isEvent()          {}
func (ChallengeRequested) isEvent() {}
func (Authenticated) isEvent()      {}
func (Disconnected) isEvent()       {}
func (MessageReceived) isEvent()    {}
func (Fatal) isEvent()              {}

// ============================================================================
// Client / Dialer 接口
// ============================================================================

// Client 单个账号的平台会话客户端
//
// 实现注意事项：
//   - Connect 返回 nil 只表示连接流程已启动且未当场失败，
//     后续进展（质询、认证完成、断开）从 Events() 流出
//   - Identity 必须反映底层连接的即时状态，失效即返回空串
//   - LogOff 应在 ctx 结束时放弃等待并返回 ctx 错误
type Client interface {
	// Connect 用凭据发起登录
	Connect(ctx context.Context, creds model.Credentials) error

	// SubmitChallenge 提交质询答案（仅认证中有效）
	SubmitChallenge(code string) error

	// SetPresence 设置在线可见性
	SetPresence(invisible bool) error

	// StartIdling 开始挂机指定条目
	StartIdling(titles []string) error

	// SendMessage 向平台联系人发送消息
	SendMessage(to, text string) error

	// LogOff 礼貌下线
	LogOff(ctx context.Context) error

	// Identity 返回当前连接的平台身份，连接不可用时为空串
	Identity() string

	// Events 返回异步事件通道，客户端关闭时通道关闭
	Events() <-chan Event
}

// Dialer 按账号创建 Client 的工厂
type Dialer interface {
	// Name 返回驱动名称，用于 Registry 查找
	Name() string

	// Dial 为账号创建一个新客户端（尚未连接）
	Dial(accountID string) Client
}

// ============================================================================
// Registry - 驱动注册表
// ============================================================================

// Registry 网关驱动注册表
type Registry struct {
	dialers map[string]Dialer
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{dialers: make(map[string]Dialer)}
}

// Register 注册驱动
func (r *Registry) Register(d Dialer) {
	r.dialers[d.Name()] = d
}

// Get 获取驱动
func (r *Registry) Get(name string) (Dialer, bool) {
	d, ok := r.dialers[name]
	return d, ok
}

// List 列出所有驱动名称
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.dialers))
	for name := range r.dialers {
		names = append(names, name)
	}
	return names
}

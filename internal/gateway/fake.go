// Package gateway 外部平台会话客户端的接口边界
//
// fake.go 脚本化假驱动：行为按账号预设，覆盖真实平台的主要时序
// （直连成功、质询、瞬时失败、致命失败、下线挂起），供开发运行
// 与编排层测试使用。
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"session-keeper/internal/shared/model"
)

// fakeEventBuf 假客户端事件通道容量，写满即丢弃（仅假驱动如此）
const fakeEventBuf = 32

// Behavior 单个账号的脚本行为
type Behavior struct {
	ConnectDelay    time.Duration // Connect 的人为延迟
	ConnectFailures int           // 前 N 次 Connect 以瞬时错误失败
	FailTerminal    bool          // Connect 直接致命失败（凭据无效）
	Challenge       ChallengeKind // 非空时登录要求质询
	ChallengeAnswer string        // 期望答案，空串接受任意
	HangOnLogOff    bool          // LogOff 挂起直到 ctx 结束
	Identity        string        // 认证成功后的身份，默认 fake:<account>
}

// ============================================================================
// FakeDialer
// ============================================================================

// FakeDialer 假驱动工厂
type FakeDialer struct {
	mu        sync.Mutex
	behaviors map[string]Behavior
	attempts  map[string]int
	clients   map[string][]*FakeClient
}

// NewFakeDialer 创建假驱动
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{
		behaviors: make(map[string]Behavior),
		attempts:  make(map[string]int),
		clients:   make(map[string][]*FakeClient),
	}
}

// Name 实现 Dialer
func (d *FakeDialer) Name() string { return "fake" }

// SetBehavior 预设账号的脚本行为
func (d *FakeDialer) SetBehavior(accountID string, b Behavior) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.behaviors[strings.ToLower(accountID)] = b
}

// Dial 实现 Dialer
func (d *FakeDialer) Dial(accountID string) Client {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := strings.ToLower(accountID)
	c := &FakeClient{
		dialer:  d,
		account: key,
		events:  make(chan Event, fakeEventBuf),
	}
	d.clients[key] = append(d.clients[key], c)
	return c
}

// LastClient 返回账号最近一次拨出的客户端（测试用）
func (d *FakeDialer) LastClient(accountID string) (*FakeClient, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.clients[strings.ToLower(accountID)]
	if len(list) == 0 {
		return nil, false
	}
	return list[len(list)-1], true
}

// DialCount 返回账号累计拨号次数（测试用）
func (d *FakeDialer) DialCount(accountID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients[strings.ToLower(accountID)])
}

// behaviorFor 取账号行为并累加连接计数
func (d *FakeDialer) behaviorFor(account string) (Behavior, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts[account]++
	return d.behaviors[account], d.attempts[account]
}

// ============================================================================
// FakeClient
// ============================================================================

// FakeClient 脚本化假客户端
type FakeClient struct {
	dialer  *FakeDialer
	account string

	mu        sync.Mutex
	identity  string
	awaiting  bool
	behavior  Behavior
	closed    bool
	events    chan Event
	commands  []string
}

var _ Client = (*FakeClient)(nil)

// Connect 实现 Client
func (c *FakeClient) Connect(ctx context.Context, creds model.Credentials) error {
	behavior, attempt := c.dialer.behaviorFor(c.account)

	c.mu.Lock()
	c.behavior = behavior
	c.mu.Unlock()

	if behavior.ConnectDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(behavior.ConnectDelay):
		}
	}

	if creds.Password == "" {
		return fmt.Errorf("empty password for %s: %w", c.account, ErrTerminal)
	}

	c.emit(Connected{})

	if behavior.FailTerminal {
		return fmt.Errorf("invalid credentials for %s: %w", c.account, ErrTerminal)
	}
	if attempt <= behavior.ConnectFailures {
		return fmt.Errorf("connection reset by platform (attempt %d): %w", attempt, ErrTransient)
	}

	if behavior.Challenge != "" {
		c.mu.Lock()
		c.awaiting = true
		c.mu.Unlock()
		c.emit(ChallengeRequested{
			Kind:   behavior.Challenge,
			Prompt: fmt.Sprintf("enter %s code for %s", behavior.Challenge, c.account),
		})
		return nil
	}

	c.authenticate(behavior)
	return nil
}

// SubmitChallenge 实现 Client
func (c *FakeClient) SubmitChallenge(code string) error {
	c.mu.Lock()
	if !c.awaiting {
		c.mu.Unlock()
		return fmt.Errorf("no pending challenge for %s", c.account)
	}
	behavior := c.behavior
	c.mu.Unlock()

	if behavior.ChallengeAnswer != "" && code != behavior.ChallengeAnswer {
		return fmt.Errorf("challenge code rejected: %w", ErrTransient)
	}

	c.mu.Lock()
	c.awaiting = false
	c.mu.Unlock()
	c.authenticate(behavior)
	return nil
}

// SetPresence 实现 Client
func (c *FakeClient) SetPresence(invisible bool) error {
	return c.record(fmt.Sprintf("presence:invisible=%v", invisible))
}

// StartIdling 实现 Client
func (c *FakeClient) StartIdling(titles []string) error {
	return c.record("idle:" + strings.Join(titles, ","))
}

// SendMessage 实现 Client
func (c *FakeClient) SendMessage(to, text string) error {
	return c.record(fmt.Sprintf("msg:%s:%s", to, text))
}

// LogOff 实现 Client
func (c *FakeClient) LogOff(ctx context.Context) error {
	c.mu.Lock()
	hang := c.behavior.HangOnLogOff
	c.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}

	c.mu.Lock()
	c.identity = ""
	closed := c.closed
	c.closed = true
	c.mu.Unlock()
	if !closed {
		close(c.events)
	}
	return nil
}

// Identity 实现 Client
func (c *FakeClient) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Events 实现 Client
func (c *FakeClient) Events() <-chan Event {
	return c.events
}

// ============================================================================
// 测试操纵接口
// ============================================================================

// DropConnection 模拟平台侧断开（瞬时）
func (c *FakeClient) DropConnection(reason string) {
	c.mu.Lock()
	c.identity = ""
	c.mu.Unlock()
	c.emit(Disconnected{Reason: reason, Err: ErrTransient})
}

// FailFatally 模拟终端性失败（封禁等）
func (c *FakeClient) FailFatally(reason string) {
	c.mu.Lock()
	c.identity = ""
	c.mu.Unlock()
	c.emit(Fatal{Reason: reason, Err: ErrTerminal})
}

// LoseIdentity 静默失效底层身份，不发任何事件（陈旧句柄场景）
func (c *FakeClient) LoseIdentity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = ""
}

// PushMessage 注入一条平台消息
func (c *FakeClient) PushMessage(from, text string) {
	c.emit(MessageReceived{From: from, Text: text, At: time.Now()})
}

// Commands 返回已执行的命令记录（测试用）
func (c *FakeClient) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.commands))
	copy(out, c.commands)
	return out
}

// authenticate 完成认证并发布身份
func (c *FakeClient) authenticate(behavior Behavior) {
	identity := behavior.Identity
	if identity == "" {
		identity = "fake:" + c.account
	}

	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
	c.emit(Authenticated{Identity: identity})
}

// record 记录命令，要求连接在线
func (c *FakeClient) record(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == "" {
		return fmt.Errorf("not connected: %w", ErrTransient)
	}
	c.commands = append(c.commands, cmd)
	return nil
}

// emit 非阻塞投递事件，已关闭或写满时丢弃
func (c *FakeClient) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

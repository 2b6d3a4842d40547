// Package keeper 会话编排核心
//
// SessionRegistry 管理所有账号的长连接会话：
//   - 准入控制：连接尝试先过并发闸（信号量）再过频控（滑动窗口），
//     通过后才创建句柄并发起登录
//   - 生命周期：idle → connecting → authenticating → active，
//     意外断线走 disconnected → reconnecting 退避重连，
//     重连预算耗尽进入 failed 终态，终端性错误进入 error
//   - 事件泵：每个连接一个 goroutine 消费网关事件并驱动状态迁移，
//     凭代次（gen）丢弃过期连接的残留事件
//   - 持久化：快照视图由 state.Manager 写盘，重启后按设置恢复
package keeper

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"session-keeper/internal/accounts"
	"session-keeper/internal/archive"
	"session-keeper/internal/gateway"
	"session-keeper/internal/limiter"
	"session-keeper/internal/secrets"
	"session-keeper/internal/shared/eventbus"
	"session-keeper/internal/shared/model"
	"session-keeper/internal/state"
	"session-keeper/pkg/logging"
)

const (
	// defaultLogoffTimeout 礼貌下线的最长等待，超时即放弃句柄
	defaultLogoffTimeout = 5 * time.Second

	// eventQueueSize 事件发布队列容量，满时丢弃新事件
	eventQueueSize = 256

	// publishTimeout 单条事件发布到总线的超时
	publishTimeout = 3 * time.Second

	// archiveTimeout 单条消息归档的超时
	archiveTimeout = 5 * time.Second
)

// SettingsSource 提供当前运行时设置，每次决策时读取，改动即时生效
type SettingsSource interface {
	Current() model.Settings
}

// Config 编排器依赖配置
type Config struct {
	// Dialer 网关拨号器（必填）
	Dialer gateway.Dialer

	// Accounts 账号凭据存储（必填）
	Accounts *accounts.Store

	// Settings 运行时设置来源（必填）
	Settings SettingsSource

	// State 快照管理器，nil 表示不持久化
	State *state.Manager

	// Bus 事件总线，nil 退化为 NoOp
	Bus eventbus.SessionEventBus

	// Archive 消息归档存储，nil 表示不归档
	Archive archive.Store

	// Rate 全局连接频控（必填）
	Rate *limiter.RateLimiter

	// Semaphore 并发连接闸（必填）
	Semaphore *limiter.ConcurrencyLimiter

	// Backoff 按账号键的指数退避（必填）
	Backoff *limiter.Backoff

	// LogoffTimeout 礼貌下线超时，零值用默认 5s
	LogoffTimeout time.Duration

	// Logger 组件日志器，nil 用默认
	Logger *logging.Logger
}

// ============================================================================
// SessionRegistry
// ============================================================================

// SessionRegistry 会话编排器
//
// 不变式：
//   - 同一账号同时至多一个受管连接（代次机制保证旧连接静默作废）
//   - 任何连接尝试都先通过并发闸与频控，绝不绕过
//   - 在线判定 = state==active 且句柄身份非空
type SessionRegistry struct {
	cfg Config
	log *logging.Logger
	bus eventbus.SessionEventBus

	// 根上下文，Close 时取消，所有会话 goroutine 由它派生
	ctx       context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool

	events     chan *model.SessionEvent
	errorCount atomic.Int64
	startedAt  time.Time
}

// NewSessionRegistry 创建会话编排器
func NewSessionRegistry(cfg Config) (*SessionRegistry, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("keeper: dialer is required")
	}
	if cfg.Accounts == nil {
		return nil, errors.New("keeper: account store is required")
	}
	if cfg.Settings == nil {
		return nil, errors.New("keeper: settings source is required")
	}
	if cfg.Rate == nil || cfg.Semaphore == nil || cfg.Backoff == nil {
		return nil, errors.New("keeper: rate, semaphore and backoff limiters are required")
	}
	if cfg.LogoffTimeout <= 0 {
		cfg.LogoffTimeout = defaultLogoffTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default("keeper")
	}
	if cfg.Bus == nil {
		cfg.Bus = eventbus.NewNoOpEventBus()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &SessionRegistry{
		cfg:       cfg,
		log:       cfg.Logger,
		bus:       cfg.Bus,
		ctx:       ctx,
		cancelAll: cancel,
		sessions:  make(map[string]*session),
		events:    make(chan *model.SessionEvent, eventQueueSize),
		startedAt: time.Now(),
	}
	r.wg.Add(1)
	go r.publishLoop()
	return r, nil
}

// ============================================================================
// 操作员命令
// ============================================================================

// Start 启动账号会话
//
// 立即迁入 connecting 并返回，准入（并发闸 + 频控）与登录在后台进行。
// connecting 覆盖排队等待期，期间重复 Start 返回 ErrSessionBusy。
func (r *SessionRegistry) Start(ctx context.Context, accountID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	account, ok := r.cfg.Accounts.Get(accountID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	key := account.Key()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	sess := r.sessions[key]
	if sess == nil {
		sess = newSession(account.ID, key)
		r.sessions[key] = sess
	}
	if !sess.state.Startable() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrSessionBusy, account.ID, sess.state)
	}
	sess.supersede()
	sess.client = nil
	sess.challenge = ""
	sess.lastError = ""
	sess.reconnects = 0
	r.transitionLocked(sess, model.SessionStateConnecting, "operator start")
	connCtx, cancel := context.WithCancel(r.ctx)
	sess.cancel = cancel
	gen := sess.gen
	r.mu.Unlock()

	// 显式 Start 是从 error/failed 走出来的唯一通道，退避历史一并清零
	r.cfg.Backoff.Reset(key)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runAdmission(connCtx, key, gen)
	}()
	return nil
}

// Stop 停止账号会话
//
// 作废当前连接代次，在 LogoffTimeout 内礼貌下线，超时强制清除句柄。
// 无论下线是否成功，会话最终回到 idle 且退避历史清零。
// 对 error/failed 等终态调用 Stop 等价于复位到 idle。
func (r *SessionRegistry) Stop(ctx context.Context, accountID string) error {
	key := r.keyFor(accountID)

	r.mu.Lock()
	sess := r.sessions[key]
	if sess == nil || sess.state == model.SessionStateIdle {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotInFlight, accountID)
	}
	sess.supersede()
	client := sess.client
	r.transitionLocked(sess, model.SessionStateDisconnecting, "operator stop")
	r.mu.Unlock()

	if client != nil {
		logoffCtx, cancel := context.WithTimeout(ctx, r.cfg.LogoffTimeout)
		err := client.LogOff(logoffCtx)
		cancel()
		if err != nil {
			r.log.WithAccount(accountID).Warn("logoff incomplete, clearing handle", "error", err)
		}
	}

	r.mu.Lock()
	sess.client = nil
	sess.challenge = ""
	sess.activeSince = time.Time{}
	sess.reconnects = 0
	sess.lastError = ""
	r.transitionLocked(sess, model.SessionStateIdle, "stopped")
	r.mu.Unlock()

	r.cfg.Backoff.Reset(key)
	return nil
}

// SubmitChallenge 人工应答认证质询，仅在 authenticating 状态下有效
func (r *SessionRegistry) SubmitChallenge(accountID, code string) error {
	key := r.keyFor(accountID)

	r.mu.RLock()
	sess := r.sessions[key]
	if sess == nil || sess.state != model.SessionStateAuthenticating || sess.client == nil {
		r.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrNoChallenge, accountID)
	}
	client := sess.client
	kind := sess.challenge
	id := sess.accountID
	r.mu.RUnlock()

	if err := client.SubmitChallenge(code); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRejected, err)
	}
	r.publish(&model.SessionEvent{
		AccountID: id,
		Type:      model.EventChallengeAnswered,
		Payload:   map[string]any{"auto": false, "kind": string(kind)},
	})
	return nil
}

// SendMessage 通过在线会话发送消息
func (r *SessionRegistry) SendMessage(accountID, to, text string) error {
	key := r.keyFor(accountID)

	r.mu.RLock()
	sess := r.sessions[key]
	if sess == nil || !sess.active() {
		r.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrNotActive, accountID)
	}
	client := sess.client
	r.mu.RUnlock()

	return client.SendMessage(to, text)
}

// RefreshPresence 按当前设置重设所有在线会话的可见性
func (r *SessionRegistry) RefreshPresence() {
	invisible := r.cfg.Settings.Current().InvisibleMode

	r.mu.RLock()
	var clients []gateway.Client
	for _, sess := range r.sessions {
		if sess.active() {
			clients = append(clients, sess.client)
		}
	}
	r.mu.RUnlock()

	for _, c := range clients {
		if err := c.SetPresence(invisible); err != nil {
			r.log.Warn("refresh presence", "error", err)
		}
	}
}

// ============================================================================
// 只读视图
// ============================================================================

// Get 返回单个账号的会话视图，从未启动的已知账号报告 idle
func (r *SessionRegistry) Get(accountID string) (model.SessionInfo, error) {
	account, known := r.cfg.Accounts.Get(accountID)
	key := r.keyFor(accountID)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if sess := r.sessions[key]; sess != nil {
		return sess.info(), nil
	}
	if !known {
		return model.SessionInfo{}, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	return model.SessionInfo{AccountID: account.ID, State: model.SessionStateIdle}, nil
}

// List 返回全部账号的会话视图，按账号 ID 排序
//
// 包含从未启动的账号（idle）以及账号已删除但会话记录尚存的条目。
func (r *SessionRegistry) List() []model.SessionInfo {
	ids := r.cfg.Accounts.SortedIDs()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.SessionInfo, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		key := strings.ToLower(strings.TrimSpace(id))
		seen[key] = true
		if sess := r.sessions[key]; sess != nil {
			out = append(out, sess.info())
		} else {
			out = append(out, model.SessionInfo{AccountID: id, State: model.SessionStateIdle})
		}
	}

	var orphans []model.SessionInfo
	for key, sess := range r.sessions {
		if !seen[key] {
			orphans = append(orphans, sess.info())
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].AccountID < orphans[j].AccountID })
	return append(out, orphans...)
}

// ActiveCount 返回在线会话数（state==active 且句柄身份非空）
func (r *SessionRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, sess := range r.sessions {
		if sess.active() {
			n++
		}
	}
	return n
}

// Stats 运行时汇总，供 API 与指标采集使用
type Stats struct {
	Accounts      int               `json:"accounts"`
	Sessions      int               `json:"sessions"`
	Active        int               `json:"active"`
	ByState       map[string]int    `json:"by_state"`
	Reconnects    int               `json:"reconnects"`
	Errors        int64             `json:"errors"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Rate          limiter.Usage     `json:"rate"`
	Connects      limiter.Occupancy `json:"connects"`
}

// Snapshot 返回当前运行时汇总
func (r *SessionRegistry) Snapshot() Stats {
	st := Stats{
		Accounts:      r.cfg.Accounts.Count(),
		ByState:       make(map[string]int),
		Errors:        r.errorCount.Load(),
		UptimeSeconds: int64(time.Since(r.startedAt).Seconds()),
		Rate:          r.cfg.Rate.Stats(),
		Connects:      r.cfg.Semaphore.Stats(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	st.Sessions = len(r.sessions)
	for _, sess := range r.sessions {
		st.ByState[string(sess.state)]++
		st.Reconnects += sess.reconnects
		if sess.active() {
			st.Active++
		}
	}
	return st
}

// ============================================================================
// 持久化与恢复
// ============================================================================

// PersistedState 构造写入快照的状态负载
func (r *SessionRegistry) PersistedState() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.persistedLocked()
}

func (r *SessionRegistry) persistedLocked() map[string]any {
	list := make([]model.PersistedSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		list = append(list, sess.persisted())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].AccountID < list[j].AccountID })
	return map[string]any{"sessions": list}
}

// SaveState 立即写一次状态快照
func (r *SessionRegistry) SaveState() error {
	if r.cfg.State == nil {
		return nil
	}
	if err := r.cfg.State.Save(r.PersistedState()); err != nil {
		return err
	}
	r.publish(&model.SessionEvent{Type: model.EventSnapshotSaved})
	return nil
}

// Restore 从快照恢复会话记录
//
// 终态（error/failed）原样保留供运维查看，其余记录回 idle。
// 退出时仍在连接/保活中的会话在 AutoReconnect 开启时按
// settings.StartupDelay 间隔逐个拉起，避免重启风暴。
func (r *SessionRegistry) Restore(ctx context.Context) error {
	if r.cfg.State == nil {
		return nil
	}
	snap, err := r.cfg.State.Load()
	if err != nil {
		if errors.Is(err, state.ErrNoSnapshot) {
			return nil
		}
		return fmt.Errorf("load snapshot: %w", err)
	}

	restored := decodePersisted(snap)
	if len(restored) == 0 {
		return nil
	}

	var resume []string
	r.mu.Lock()
	for _, p := range restored {
		account, known := r.cfg.Accounts.Get(p.AccountID)
		if !known {
			// 快照里的账号已被移除
			r.log.WithAccount(p.AccountID).Warn("snapshot references unknown account, skipping")
			continue
		}
		key := account.Key()
		sess := newSession(account.ID, key)
		sess.reconnects = p.Reconnects
		if !p.LastSeenAt.IsZero() {
			sess.updatedAt = p.LastSeenAt
		}
		switch {
		case p.WasRunning:
			resume = append(resume, account.ID)
		case p.State == model.SessionStateError || p.State == model.SessionStateFailed:
			sess.state = p.State
		}
		r.sessions[key] = sess
	}
	r.mu.Unlock()

	settings := r.cfg.Settings.Current()
	r.log.Info("sessions restored from snapshot",
		"total", len(restored), "resume", len(resume), "auto_reconnect", settings.AutoReconnect)

	if !settings.AutoReconnect || len(resume) == 0 {
		return nil
	}
	r.wg.Add(1)
	go r.resumeSessions(resume, settings.StartupDelay())
	return nil
}

// resumeSessions 按间隔逐个拉起快照里在线过的会话
func (r *SessionRegistry) resumeSessions(accountIDs []string, delay time.Duration) {
	defer r.wg.Done()
	for i, id := range accountIDs {
		if i > 0 {
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if err := r.Start(r.ctx, id); err != nil {
			r.log.WithAccount(id).Warn("resume failed", "error", err)
		}
	}
}

// decodePersisted 从快照负载解出会话记录，经 JSON 往返兼容两种来源：
// 进程内保存的 []model.PersistedSession 与从盘上读回的 []any
func decodePersisted(snap map[string]any) []model.PersistedSession {
	raw, ok := snap["sessions"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var list []model.PersistedSession
	if err := json.Unmarshal(data, &list); err != nil {
		return nil
	}
	return list
}

// ============================================================================
// 关闭
// ============================================================================

// Close 关闭编排器
//
// 拒绝新命令，先取持久化视图（保留 WasRunning 语义），再并行礼貌下线
// 所有持句柄的会话；LogoffTimeout 内未完成的直接放弃句柄。最后写出
// 最终快照。重复调用无副作用。
func (r *SessionRegistry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	snapshot := r.persistedLocked()

	type target struct {
		id     string
		client gateway.Client
	}
	var targets []target
	for _, sess := range r.sessions {
		sess.supersede()
		if sess.client != nil {
			targets = append(targets, target{sess.accountID, sess.client})
		}
	}
	r.mu.Unlock()

	r.log.Info("registry closing", "logoffs", len(targets))
	r.cancelAll()

	var lwg sync.WaitGroup
	for _, t := range targets {
		lwg.Add(1)
		go func(id string, client gateway.Client) {
			defer lwg.Done()
			logoffCtx, cancel := context.WithTimeout(ctx, r.cfg.LogoffTimeout)
			defer cancel()
			if err := client.LogOff(logoffCtx); err != nil {
				r.log.WithAccount(id).Warn("logoff incomplete during shutdown", "error", err)
			}
		}(t.id, t.client)
	}
	lwg.Wait()
	r.wg.Wait()

	r.mu.Lock()
	for _, sess := range r.sessions {
		sess.client = nil
		sess.challenge = ""
		sess.activeSince = time.Time{}
		if sess.state.InFlight() {
			sess.state = model.SessionStateIdle
			sess.updatedAt = time.Now()
		}
	}
	r.mu.Unlock()

	if r.cfg.State == nil {
		return nil
	}
	if err := r.cfg.State.Save(snapshot); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	return nil
}

// ============================================================================
// 准入与连接
// ============================================================================

// runAdmission 一次完整的准入 + 登录尝试
//
// 并发闸名额覆盖频控等待和整个 Connect 调用，Connect 返回后立即归还，
// 认证的后续进展由事件泵驱动。
func (r *SessionRegistry) runAdmission(ctx context.Context, key string, gen int) {
	err := r.cfg.Semaphore.Run(ctx, func() error {
		if err := r.cfg.Rate.Acquire(ctx); err != nil {
			return err
		}
		return r.connectOnce(ctx, key, gen)
	})
	switch {
	case err == nil:
	case errors.Is(err, errSuperseded):
		// Stop/Close/新 Start 抢先，状态已由对方接管
	case ctx.Err() != nil:
	case errors.Is(err, errCredentials) || errors.Is(err, gateway.ErrTerminal):
		r.enterError(key, gen, err.Error())
	default:
		r.onDisconnect(key, gen, fmt.Sprintf("connect failed: %v", err))
	}
}

// connectOnce 解析凭据、拨号、挂载句柄、启动事件泵并发起登录
func (r *SessionRegistry) connectOnce(ctx context.Context, key string, gen int) error {
	creds, err := r.cfg.Accounts.Credentials(key)
	if err != nil {
		return fmt.Errorf("%w: %v", errCredentials, err)
	}

	client := r.cfg.Dialer.Dial(key)

	r.mu.Lock()
	sess := r.sessions[key]
	if sess == nil || !sess.current(gen) || sess.state != model.SessionStateConnecting {
		r.mu.Unlock()
		return errSuperseded
	}
	sess.client = client
	r.mu.Unlock()

	// 事件泵先于 Connect 启动：登录过程中网关就会开始投递事件
	r.wg.Add(1)
	go r.pumpEvents(ctx, key, gen, client)

	return client.Connect(ctx, creds)
}

// ============================================================================
// 事件泵
// ============================================================================

// pumpEvents 消费单个连接的网关事件流
//
// 代次被作废（ctx 取消）或事件通道关闭时退出。通道意外关闭
// 视作断线，交给重连判定。
func (r *SessionRegistry) pumpEvents(ctx context.Context, key string, gen int, client gateway.Client) {
	defer r.wg.Done()
	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				r.onDisconnect(key, gen, "event stream closed")
				return
			}
			r.dispatch(ctx, key, gen, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (r *SessionRegistry) dispatch(ctx context.Context, key string, gen int, ev gateway.Event) {
	switch e := ev.(type) {
	case gateway.Connected:
		r.onConnected(key, gen)
	case gateway.ChallengeRequested:
		r.onChallenge(ctx, key, gen, e)
	case gateway.Authenticated:
		r.onAuthenticated(key, gen, e)
	case gateway.Disconnected:
		reason := e.Reason
		if e.Err != nil {
			reason = fmt.Sprintf("%s: %v", e.Reason, e.Err)
		}
		r.onDisconnect(key, gen, reason)
	case gateway.MessageReceived:
		r.onMessage(key, gen, e)
	case gateway.Fatal:
		reason := e.Reason
		if e.Err != nil {
			reason = fmt.Sprintf("%s: %v", e.Reason, e.Err)
		}
		r.enterError(key, gen, reason)
	}
}

// onConnected 链路建立，进入认证阶段
func (r *SessionRegistry) onConnected(key string, gen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.sessions[key]
	if sess == nil || !sess.current(gen) || sess.state != model.SessionStateConnecting {
		return
	}
	r.transitionLocked(sess, model.SessionStateAuthenticating, "link established")
}

// onChallenge 网关要求补充认证
//
// 记录质询类型并广播等待人工应答；TOTP 质询且账号带共享密钥时
// 自动计算并提交动态码。authenticating 无超时，人工质询等多久都行。
func (r *SessionRegistry) onChallenge(ctx context.Context, key string, gen int, e gateway.ChallengeRequested) {
	r.mu.Lock()
	sess := r.sessions[key]
	if sess == nil || !sess.current(gen) {
		r.mu.Unlock()
		return
	}
	switch sess.state {
	case model.SessionStateConnecting, model.SessionStateAuthenticating:
	default:
		r.mu.Unlock()
		return
	}
	sess.challenge = e.Kind
	if sess.state != model.SessionStateAuthenticating {
		r.transitionLocked(sess, model.SessionStateAuthenticating, "challenge: "+string(e.Kind))
	}
	id := sess.accountID
	client := sess.client
	r.mu.Unlock()

	r.publish(&model.SessionEvent{
		AccountID: id,
		Type:      model.EventChallengeRequested,
		Reason:    e.Prompt,
		Payload:   map[string]any{"kind": string(e.Kind)},
	})

	if e.Kind != gateway.ChallengeTOTP || client == nil {
		return
	}
	if account, ok := r.cfg.Accounts.Get(key); !ok || !account.HasSharedSecret() {
		return
	}
	r.wg.Add(1)
	go r.autoAnswer(ctx, key, gen, client)
}

// autoAnswer 用账号共享密钥计算 TOTP 并提交
//
// 失败只记日志，会话停留在 authenticating 等人工处理。
func (r *SessionRegistry) autoAnswer(ctx context.Context, key string, gen int, client gateway.Client) {
	defer r.wg.Done()

	creds, err := r.cfg.Accounts.Credentials(key)
	if err != nil || creds.SharedSecret == "" {
		r.log.WithAccount(key).Warn("totp auto answer unavailable", "error", err)
		return
	}
	code, err := secrets.TOTPCode(creds.SharedSecret, time.Now())
	if err != nil {
		r.log.WithAccount(key).WithError(err).Warn("totp code generation failed")
		return
	}
	if ctx.Err() != nil {
		return
	}
	if err := client.SubmitChallenge(code); err != nil {
		r.log.WithAccount(key).WithError(err).Warn("totp auto answer rejected")
		return
	}

	r.mu.RLock()
	id := key
	if sess := r.sessions[key]; sess != nil && sess.current(gen) {
		id = sess.accountID
	}
	r.mu.RUnlock()
	r.publish(&model.SessionEvent{
		AccountID: id,
		Type:      model.EventChallengeAnswered,
		Payload:   map[string]any{"auto": true, "kind": string(gateway.ChallengeTOTP)},
	})
}

// onAuthenticated 登录完成，进入在线保活
//
// 退避历史与重连计数清零，随后按当前设置应用在线形态
// （隐身、挂机标题）。
func (r *SessionRegistry) onAuthenticated(key string, gen int, e gateway.Authenticated) {
	r.mu.Lock()
	sess := r.sessions[key]
	if sess == nil || !sess.current(gen) {
		r.mu.Unlock()
		return
	}
	switch sess.state {
	case model.SessionStateConnecting, model.SessionStateAuthenticating:
	default:
		r.mu.Unlock()
		return
	}
	sess.challenge = ""
	sess.reconnects = 0
	sess.activeSince = time.Now()
	r.transitionLocked(sess, model.SessionStateActive, "authenticated as "+e.Identity)
	client := sess.client
	r.mu.Unlock()

	r.cfg.Backoff.Reset(key)

	settings := r.cfg.Settings.Current()
	if client == nil {
		return
	}
	if err := client.SetPresence(settings.InvisibleMode); err != nil {
		r.log.WithAccount(key).Warn("set presence", "error", err)
	}
	if account, ok := r.cfg.Accounts.Get(key); ok && len(account.Titles) > 0 {
		if err := client.StartIdling(account.Titles); err != nil {
			r.log.WithAccount(key).Warn("start idling", "error", err)
		}
	}
}

// onDisconnect 断线处理与重连判定
//
// 仅对当前代次且处于 connecting/authenticating/active 的会话生效，
// 其余（主动下线、过期事件）一律忽略。自动重连开启时记一次失败，
// 超出 MaxReconnectAttempts 进入 failed 终态，否则退避后重试。
func (r *SessionRegistry) onDisconnect(key string, gen int, reason string) {
	r.mu.Lock()
	sess := r.sessions[key]
	if sess == nil || !sess.current(gen) {
		r.mu.Unlock()
		return
	}
	switch sess.state {
	case model.SessionStateConnecting, model.SessionStateAuthenticating, model.SessionStateActive:
	default:
		r.mu.Unlock()
		return
	}

	sess.supersede()
	sess.client = nil
	sess.challenge = ""
	sess.activeSince = time.Time{}
	r.transitionLocked(sess, model.SessionStateDisconnected, reason)

	settings := r.cfg.Settings.Current()
	if !settings.AutoReconnect || r.closed {
		r.mu.Unlock()
		return
	}

	attempts := r.cfg.Backoff.RecordFailure(key)
	if attempts > settings.MaxReconnectAttempts {
		r.transitionLocked(sess, model.SessionStateFailed,
			fmt.Sprintf("reconnect budget exhausted (%d/%d)", attempts-1, settings.MaxReconnectAttempts))
		r.mu.Unlock()
		return
	}

	sess.reconnects++
	r.transitionLocked(sess, model.SessionStateReconnecting,
		fmt.Sprintf("retry %d/%d", attempts, settings.MaxReconnectAttempts))
	connCtx, cancel := context.WithCancel(r.ctx)
	sess.cancel = cancel
	nextGen := sess.gen
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runReconnect(connCtx, key, nextGen)
}

// runReconnect 退避等待后重新走完整准入
func (r *SessionRegistry) runReconnect(ctx context.Context, key string, gen int) {
	defer r.wg.Done()

	if err := r.cfg.Backoff.Wait(ctx, key); err != nil {
		return
	}

	r.mu.Lock()
	sess := r.sessions[key]
	if sess == nil || !sess.current(gen) || sess.state != model.SessionStateReconnecting {
		r.mu.Unlock()
		return
	}
	r.transitionLocked(sess, model.SessionStateConnecting,
		fmt.Sprintf("reconnect attempt %d", sess.reconnects))
	r.mu.Unlock()

	r.runAdmission(ctx, key, gen)
}

// enterError 终端性错误，不自动重试，只能由操作员 Start/Stop 走出
func (r *SessionRegistry) enterError(key string, gen int, reason string) {
	r.mu.Lock()
	sess := r.sessions[key]
	if sess == nil || !sess.current(gen) {
		r.mu.Unlock()
		return
	}
	sess.supersede()
	sess.client = nil
	sess.challenge = ""
	sess.activeSince = time.Time{}
	r.transitionLocked(sess, model.SessionStateError, reason)
	id := sess.accountID
	r.mu.Unlock()

	r.errorCount.Add(1)
	r.publish(&model.SessionEvent{
		AccountID: id,
		Type:      model.EventError,
		Reason:    reason,
		Payload:   map[string]any{"terminal": true},
	})
}

// onMessage 收到平台消息，广播事件并按设置归档
func (r *SessionRegistry) onMessage(key string, gen int, e gateway.MessageReceived) {
	r.mu.RLock()
	sess := r.sessions[key]
	if sess == nil || !sess.current(gen) {
		r.mu.RUnlock()
		return
	}
	id := sess.accountID
	r.mu.RUnlock()

	r.publish(&model.SessionEvent{
		AccountID: id,
		Type:      model.EventMessageReceived,
		Payload:   map[string]any{"from": e.From, "text": e.Text},
	})

	settings := r.cfg.Settings.Current()
	if !settings.SaveMessages || r.cfg.Archive == nil {
		return
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	msg := &model.Message{AccountID: id, Sender: e.From, Body: e.Text, ReceivedAt: at}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := r.cfg.Archive.SaveMessage(ctx, msg); err != nil {
		r.log.WithAccount(id).WithError(err).Warn("archive message failed")
	}
}

// ============================================================================
// 状态迁移与事件发布
// ============================================================================

// transitionLocked 执行状态迁移，调用方必须持有 r.mu 写锁
func (r *SessionRegistry) transitionLocked(sess *session, to model.SessionState, reason string) {
	from := sess.state
	if from == to {
		return
	}
	sess.state = to
	sess.updatedAt = time.Now()
	switch to {
	case model.SessionStateDisconnected, model.SessionStateError, model.SessionStateFailed:
		sess.lastError = reason
	case model.SessionStateActive:
		sess.lastError = ""
	}

	r.log.SessionLog("transition", sess.accountID, string(to), "from", string(from), "reason", reason)
	r.publish(&model.SessionEvent{
		AccountID: sess.accountID,
		Type:      model.EventStateChanged,
		From:      from,
		To:        to,
		Reason:    reason,
	})
}

// publish 把事件排入发布队列，队列满时丢弃并记日志
//
// 发布走独立 goroutine，总线（如 Redis）的网络延迟不会阻塞状态迁移。
func (r *SessionRegistry) publish(ev *model.SessionEvent) {
	if ev.ID == "" {
		ev.ID = newEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case r.events <- ev:
	default:
		r.log.Warn("event queue full, dropping event", "type", string(ev.Type), "account", ev.AccountID)
	}
}

// publishLoop 顺序消费发布队列，保证事件按产生顺序到达总线
func (r *SessionRegistry) publishLoop() {
	defer r.wg.Done()
	flush := func(ev *model.SessionEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := r.bus.PublishEvent(ctx, ev); err != nil {
			r.log.Warn("publish event", "type", string(ev.Type), "error", err)
		}
	}
	for {
		select {
		case ev := <-r.events:
			flush(ev)
		case <-r.ctx.Done():
			// 排空队列里剩余的事件再退出
			for {
				select {
				case ev := <-r.events:
					flush(ev)
				default:
					return
				}
			}
		}
	}
}

// keyFor 解析账号键：已知账号用其规范键，未知输入按同样规则归一
func (r *SessionRegistry) keyFor(accountID string) string {
	if account, ok := r.cfg.Accounts.Get(accountID); ok {
		return account.Key()
	}
	return strings.ToLower(strings.TrimSpace(accountID))
}

// newEventID 生成事件 ID，形如 evt_a1b2c3d4e5f6
func newEventID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + hex.EncodeToString(buf)
}

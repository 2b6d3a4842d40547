// Package server HTTP API 测试
//
// 用 httptest 启动完整路由（含中间件链），编排器接假驱动网关，
// 覆盖会话、账号、设置、备份、统计各组接口以及认证开关。
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"session-keeper/internal/accounts"
	"session-keeper/internal/apiserver/auth"
	"session-keeper/internal/config"
	"session-keeper/internal/gateway"
	"session-keeper/internal/keeper"
	"session-keeper/internal/limiter"
	"session-keeper/internal/shared/eventbus"
	"session-keeper/internal/shared/model"
	"session-keeper/internal/state"
	"session-keeper/pkg/logging"
)

// testMetrics 包级单例，promauto 全局注册不允许重复建指标
var testMetrics = NewMetrics("server_test")

// ============================================================================
// 测试基建
// ============================================================================

// memArchive 按账号过滤的内存归档
type memArchive struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (f *memArchive) SaveMessage(ctx context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = int64(len(f.msgs) + 1)
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *memArchive) ListMessages(ctx context.Context, accountID string, limit, offset int) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Message
	for _, m := range f.msgs {
		if accountID == "" || m.AccountID == accountID {
			out = append(out, m)
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *memArchive) CountMessages(ctx context.Context, accountID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.msgs {
		if accountID == "" || m.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (f *memArchive) DeleteMessages(ctx context.Context, accountID string) (int64, error) {
	return 0, nil
}

func (f *memArchive) Close() error { return nil }

// testServer 组装完整 API 栈：真实编排器 + 假驱动 + httptest
type testServer struct {
	t        *testing.T
	dialer   *gateway.FakeDialer
	accounts *accounts.Store
	settings *config.SettingsStore
	states   *state.Manager
	bus      eventbus.SessionEventBus
	archive  *memArchive
	registry *keeper.SessionRegistry
	handler  *Handler
	srv      *httptest.Server
}

func acct(id string) model.Account {
	return model.Account{ID: id, Password: "pw-" + id}
}

func newTestServer(t *testing.T, authCfg auth.Config, accts ...model.Account) *testServer {
	t.Helper()
	dir := t.TempDir()

	store := accounts.NewStore(filepath.Join(dir, "accounts.json"), nil, nil)
	for _, a := range accts {
		if err := store.Add(a); err != nil {
			t.Fatalf("add account %s: %v", a.ID, err)
		}
	}

	settings := config.NewSettingsStore(filepath.Join(dir, "settings.json"), nil)
	if err := settings.Load(); err != nil {
		t.Fatalf("load settings: %v", err)
	}

	states, err := state.NewManager(state.Config{Dir: filepath.Join(dir, "state")}, nil)
	if err != nil {
		t.Fatalf("state manager: %v", err)
	}

	ts := &testServer{
		t:        t,
		dialer:   gateway.NewFakeDialer(),
		accounts: store,
		settings: settings,
		states:   states,
		bus:      eventbus.NewMemoryBus(),
		archive:  &memArchive{},
	}

	reg, err := keeper.NewSessionRegistry(keeper.Config{
		Dialer:        ts.dialer,
		Accounts:      store,
		Settings:      settings,
		State:         states,
		Bus:           ts.bus,
		Archive:       ts.archive,
		Rate:          limiter.NewRateLimiter(100, time.Minute),
		Semaphore:     limiter.NewConcurrencyLimiter(3),
		Backoff:       limiter.NewBackoff(5*time.Millisecond, 20*time.Millisecond, 2.0, 0),
		LogoffTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSessionRegistry: %v", err)
	}
	ts.registry = reg

	ts.handler = &Handler{
		registry: reg,
		accounts: store,
		settings: settings,
		states:   states,
		bus:      ts.bus,
		archive:  ts.archive,
		authCfg:  authCfg,
		metrics:  testMetrics,
		log:      logging.Default("server_test"),
	}
	ts.srv = httptest.NewServer(ts.handler.Router())

	t.Cleanup(func() {
		ts.srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = reg.Close(ctx)
	})
	return ts
}

// call 发送请求并按需解析 JSON 响应，返回状态码
func (ts *testServer) call(method, path string, body, out any) int {
	return ts.callWith(method, path, "", body, out)
}

func (ts *testServer) callWith(method, path, token string, body, out any) int {
	ts.t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			ts.t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	if err != nil {
		ts.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			ts.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// waitSessionState 轮询会话详情接口直到达到目标状态
func (ts *testServer) waitSessionState(id string, want model.SessionState) {
	ts.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var info model.SessionInfo
		if code := ts.call("GET", "/api/v1/sessions/"+id, nil, &info); code == http.StatusOK && info.State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	ts.t.Fatalf("session %s did not reach %s over HTTP", id, want)
}

// sessionList GET /api/v1/sessions 的响应
type sessionList struct {
	Sessions []model.SessionInfo `json:"sessions"`
	Count    int                 `json:"count"`
}

// ============================================================================
// 健康与会话接口
// ============================================================================

func TestHealth(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"))

	var body map[string]any
	if code := ts.call("GET", "/health", nil, &body); code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", code)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

// 未启动过的账号也要出现在列表里（idle）
func TestListSessionsIncludesIdleAccounts(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("bob"), acct("alice"))

	var list sessionList
	if code := ts.call("GET", "/api/v1/sessions", nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", code)
	}
	if list.Count != 2 || len(list.Sessions) != 2 {
		t.Fatalf("count = %d (%d entries), want 2", list.Count, len(list.Sessions))
	}
	if list.Sessions[0].AccountID != "alice" || list.Sessions[1].AccountID != "bob" {
		t.Errorf("list not sorted: %s, %s", list.Sessions[0].AccountID, list.Sessions[1].AccountID)
	}
	for _, s := range list.Sessions {
		if s.State != model.SessionStateIdle {
			t.Errorf("session %s state = %s, want idle", s.AccountID, s.State)
		}
	}
}

// 完整生命周期：启动到在线、停止回 idle，全部经 HTTP 驱动
func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"))

	if code := ts.call("POST", "/api/v1/sessions/alice/start", nil, nil); code != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202", code)
	}
	ts.waitSessionState("alice", model.SessionStateActive)

	var info model.SessionInfo
	ts.call("GET", "/api/v1/sessions/alice", nil, &info)
	if info.Identity != "fake:alice" {
		t.Errorf("identity = %q, want fake:alice", info.Identity)
	}
	if !info.Active {
		t.Error("session should report active")
	}

	if code := ts.call("POST", "/api/v1/sessions/alice/stop", nil, nil); code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", code)
	}
	ts.waitSessionState("alice", model.SessionStateIdle)
}

func TestStartValidation(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"))

	if code := ts.call("POST", "/api/v1/sessions/ghost/start", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown account start = %d, want 404", code)
	}

	// 连接期间重复启动必须 409
	ts.dialer.SetBehavior("alice", gateway.Behavior{ConnectDelay: 300 * time.Millisecond})
	if code := ts.call("POST", "/api/v1/sessions/alice/start", nil, nil); code != http.StatusAccepted {
		t.Fatalf("first start = %d, want 202", code)
	}
	if code := ts.call("POST", "/api/v1/sessions/alice/start", nil, nil); code != http.StatusConflict {
		t.Errorf("double start = %d, want 409", code)
	}
}

func TestStopIdleConflict(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"))

	if code := ts.call("POST", "/api/v1/sessions/alice/stop", nil, nil); code != http.StatusConflict {
		t.Errorf("stop idle = %d, want 409", code)
	}
}

// 质询流程：错误码 400、正确码走到在线
func TestChallengeEndpoint(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"), acct("bob"))
	ts.dialer.SetBehavior("alice", gateway.Behavior{
		Challenge:       gateway.ChallengeEmailCode,
		ChallengeAnswer: "424242",
	})

	ts.call("POST", "/api/v1/sessions/alice/start", nil, nil)
	ts.waitSessionState("alice", model.SessionStateAuthenticating)

	var info model.SessionInfo
	ts.call("GET", "/api/v1/sessions/alice", nil, &info)
	if info.ChallengeKind != string(gateway.ChallengeEmailCode) {
		t.Errorf("challenge kind = %q, want email-code", info.ChallengeKind)
	}

	if code := ts.call("POST", "/api/v1/sessions/alice/challenge", map[string]string{"code": ""}, nil); code != http.StatusBadRequest {
		t.Errorf("empty code = %d, want 400", code)
	}
	if code := ts.call("POST", "/api/v1/sessions/alice/challenge", map[string]string{"code": "000000"}, nil); code != http.StatusBadRequest {
		t.Errorf("wrong code = %d, want 400", code)
	}
	if code := ts.call("POST", "/api/v1/sessions/bob/challenge", map[string]string{"code": "424242"}, nil); code != http.StatusConflict {
		t.Errorf("no pending challenge = %d, want 409", code)
	}

	if code := ts.call("POST", "/api/v1/sessions/alice/challenge", map[string]string{"code": "424242"}, nil); code != http.StatusAccepted {
		t.Fatalf("valid code = %d, want 202", code)
	}
	ts.waitSessionState("alice", model.SessionStateActive)
}

func TestSendMessageEndpoint(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"), acct("bob"))

	ts.call("POST", "/api/v1/sessions/alice/start", nil, nil)
	ts.waitSessionState("alice", model.SessionStateActive)

	if code := ts.call("POST", "/api/v1/sessions/alice/message", map[string]string{"to": "bob", "text": "hi"}, nil); code != http.StatusOK {
		t.Fatalf("send = %d, want 200", code)
	}
	client, ok := ts.dialer.LastClient("alice")
	if !ok {
		t.Fatal("no client dialed for alice")
	}
	found := false
	for _, cmd := range client.Commands() {
		if cmd == "msg:bob:hi" {
			found = true
		}
	}
	if !found {
		t.Errorf("commands = %v, want msg:bob:hi", client.Commands())
	}

	if code := ts.call("POST", "/api/v1/sessions/alice/message", map[string]string{"to": "bob"}, nil); code != http.StatusBadRequest {
		t.Errorf("missing text = %d, want 400", code)
	}
	if code := ts.call("POST", "/api/v1/sessions/bob/message", map[string]string{"to": "alice", "text": "yo"}, nil); code != http.StatusConflict {
		t.Errorf("idle session send = %d, want 409", code)
	}
}

func TestListMessagesEndpoint(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"))

	ctx := context.Background()
	ts.archive.SaveMessage(ctx, &model.Message{AccountID: "alice", Sender: "bob", Body: "one"})
	ts.archive.SaveMessage(ctx, &model.Message{AccountID: "alice", Sender: "bob", Body: "two"})
	ts.archive.SaveMessage(ctx, &model.Message{AccountID: "carol", Sender: "dan", Body: "other"})

	var body struct {
		Count int `json:"count"`
		Total int `json:"total"`
	}
	if code := ts.call("GET", "/api/v1/sessions/alice/messages", nil, &body); code != http.StatusOK {
		t.Fatalf("list messages = %d, want 200", code)
	}
	if body.Count != 2 || body.Total != 2 {
		t.Errorf("count/total = %d/%d, want 2/2", body.Count, body.Total)
	}

	// 归档未启用时 503
	bare := *ts.handler
	bare.archive = nil
	req := httptest.NewRequest("GET", "/api/v1/sessions/alice/messages", nil)
	rec := httptest.NewRecorder()
	bare.ListMessages(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("archive disabled = %d, want 503", rec.Code)
	}
}

// ============================================================================
// 账号接口
// ============================================================================

func TestAccountEndpoints(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"), acct("bob"))

	var list struct {
		Accounts []model.Account `json:"accounts"`
		Count    int             `json:"count"`
	}
	if code := ts.call("GET", "/api/v1/accounts", nil, &list); code != http.StatusOK {
		t.Fatalf("list accounts = %d, want 200", code)
	}
	if list.Count != 2 {
		t.Fatalf("count = %d, want 2", list.Count)
	}
	for _, a := range list.Accounts {
		if a.Password != "••••••" {
			t.Errorf("password of %s leaked: %q", a.ID, a.Password)
		}
	}

	if code := ts.call("POST", "/api/v1/accounts", model.Account{ID: "carol", Password: "pw"}, nil); code != http.StatusCreated {
		t.Fatalf("add account = %d, want 201", code)
	}
	if code := ts.call("POST", "/api/v1/accounts", model.Account{ID: "carol", Password: "pw"}, nil); code != http.StatusConflict {
		t.Errorf("duplicate add = %d, want 409", code)
	}
	if code := ts.call("POST", "/api/v1/accounts", model.Account{ID: "dan"}, nil); code != http.StatusBadRequest {
		t.Errorf("missing password = %d, want 400", code)
	}
	if code := ts.call("POST", "/api/v1/accounts", model.Account{Password: "pw"}, nil); code != http.StatusBadRequest {
		t.Errorf("missing id = %d, want 400", code)
	}

	if code := ts.call("DELETE", "/api/v1/accounts/carol", nil, nil); code != http.StatusOK {
		t.Fatalf("remove account = %d, want 200", code)
	}
	if code := ts.call("DELETE", "/api/v1/accounts/ghost", nil, nil); code != http.StatusNotFound {
		t.Errorf("remove unknown = %d, want 404", code)
	}

	ts.call("GET", "/api/v1/accounts", nil, &list)
	if list.Count != 2 {
		t.Errorf("count after churn = %d, want 2", list.Count)
	}
}

// 删除在线账号要先停会话再移除凭据
func TestRemoveAccountStopsActiveSession(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"), acct("bob"))

	ts.call("POST", "/api/v1/sessions/alice/start", nil, nil)
	ts.waitSessionState("alice", model.SessionStateActive)

	if code := ts.call("DELETE", "/api/v1/accounts/alice", nil, nil); code != http.StatusOK {
		t.Fatalf("remove active account = %d, want 200", code)
	}

	if _, ok := ts.accounts.Get("alice"); ok {
		t.Error("account should be removed from store")
	}
	info, err := ts.registry.Get("alice")
	if err != nil {
		t.Fatalf("residual session record: %v", err)
	}
	if info.State != model.SessionStateIdle {
		t.Errorf("state after removal = %s, want idle", info.State)
	}
}

// ============================================================================
// 设置接口
// ============================================================================

func TestSettingsEndpoints(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"))

	var cur model.Settings
	if code := ts.call("GET", "/api/v1/settings", nil, &cur); code != http.StatusOK {
		t.Fatalf("get settings = %d, want 200", code)
	}
	if !cur.AutoReconnect || cur.StartupDelayMs != 2500 {
		t.Errorf("defaults = %+v", cur)
	}

	// 越界值被拒绝，旧值保留
	bad := cur
	bad.StartupDelayMs = 100
	if code := ts.call("PUT", "/api/v1/settings", bad, nil); code != http.StatusBadRequest {
		t.Errorf("out of range put = %d, want 400", code)
	}
	if got := ts.settings.Current().StartupDelayMs; got != 2500 {
		t.Errorf("startupDelay after rejected put = %d, want 2500", got)
	}

	// 合法更新生效并即时应用在线可见性
	ts.call("POST", "/api/v1/sessions/alice/start", nil, nil)
	ts.waitSessionState("alice", model.SessionStateActive)

	next := cur
	next.InvisibleMode = true
	next.SaveMessages = true
	if code := ts.call("PUT", "/api/v1/settings", next, nil); code != http.StatusOK {
		t.Fatalf("valid put = %d, want 200", code)
	}
	if got := ts.settings.Current(); !got.InvisibleMode || !got.SaveMessages {
		t.Errorf("settings not applied: %+v", got)
	}

	client, _ := ts.dialer.LastClient("alice")
	deadline := time.Now().Add(time.Second)
	applied := false
	for time.Now().Before(deadline) && !applied {
		for _, cmd := range client.Commands() {
			if cmd == "presence:invisible=true" {
				applied = true
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !applied {
		t.Errorf("presence refresh not applied: %v", client.Commands())
	}
}

// ============================================================================
// 统计、事件与备份接口
// ============================================================================

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"), acct("bob"))

	var stats keeper.Stats
	if code := ts.call("GET", "/api/v1/stats", nil, &stats); code != http.StatusOK {
		t.Fatalf("stats = %d, want 200", code)
	}
	if stats.Accounts != 2 {
		t.Errorf("accounts = %d, want 2", stats.Accounts)
	}
	if stats.Connects.Max != 3 {
		t.Errorf("connect slots max = %d, want 3", stats.Connects.Max)
	}
	if stats.Rate.Max != 100 {
		t.Errorf("rate max = %d, want 100", stats.Rate.Max)
	}
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"))

	ts.call("POST", "/api/v1/sessions/alice/start", nil, nil)
	ts.waitSessionState("alice", model.SessionStateActive)

	// 事件经独立协程发布，轮询等待落入总线
	var body struct {
		Events []*model.SessionEvent `json:"events"`
		Count  int                   `json:"count"`
		Total  int64                 `json:"total"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ts.call("GET", "/api/v1/events", nil, &body)
		if body.Count >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if body.Count < 3 {
		t.Fatalf("events = %d, want >= 3 (connecting/authenticating/active)", body.Count)
	}

	seenActive := false
	for _, ev := range body.Events {
		if ev.AccountID != "alice" {
			t.Errorf("event account = %q, want alice", ev.AccountID)
		}
		if ev.Type == model.EventStateChanged && ev.To == model.SessionStateActive {
			seenActive = true
		}
	}
	if !seenActive {
		t.Error("missing state_changed event to active")
	}
}

func TestBackupEndpoints(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"))

	var created map[string]string
	if code := ts.call("POST", "/api/v1/backups", nil, &created); code != http.StatusCreated {
		t.Fatalf("create backup = %d, want 201", code)
	}
	name := created["name"]
	if name == "" {
		t.Fatal("backup name missing")
	}

	var list struct {
		Backups []state.BackupInfo `json:"backups"`
		Count   int                `json:"count"`
	}
	if code := ts.call("GET", "/api/v1/backups", nil, &list); code != http.StatusOK {
		t.Fatalf("list backups = %d, want 200", code)
	}
	if list.Count != 1 || list.Backups[0].Name != name {
		t.Errorf("backups = %+v, want single %s", list, name)
	}

	if code := ts.call("POST", "/api/v1/backups/"+name+"/restore", nil, nil); code != http.StatusOK {
		t.Errorf("restore = %d, want 200", code)
	}
	if code := ts.call("POST", "/api/v1/backups/nope.json/restore", nil, nil); code != http.StatusBadRequest {
		t.Errorf("restore bogus = %d, want 400", code)
	}
}

// ============================================================================
// 认证开关
// ============================================================================

func TestAuthProtectedRoutes(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	cfg := auth.Config{
		JWTSecret:         "unit-test-secret",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   time.Hour,
		AdminUser:         "admin",
		AdminPasswordHash: hash,
	}
	ts := newTestServer(t, cfg, acct("alice"))

	if code := ts.call("GET", "/api/v1/sessions", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", code)
	}
	if code := ts.call("GET", "/health", nil, nil); code != http.StatusOK {
		t.Errorf("health is public, got %d", code)
	}

	if code := ts.call("POST", "/api/v1/auth/login",
		map[string]string{"username": "admin", "password": "wrong"}, nil); code != http.StatusUnauthorized {
		t.Errorf("bad login = %d, want 401", code)
	}

	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if code := ts.call("POST", "/api/v1/auth/login",
		map[string]string{"username": "admin", "password": "hunter2"}, &tokens); code != http.StatusOK {
		t.Fatalf("login = %d, want 200", code)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatal("login did not return tokens")
	}

	if code := ts.callWith("GET", "/api/v1/sessions", tokens.AccessToken, nil, nil); code != http.StatusOK {
		t.Errorf("with token = %d, want 200", code)
	}

	// 刷新令牌换新的访问令牌
	var refreshed struct {
		AccessToken string `json:"access_token"`
	}
	if code := ts.call("POST", "/api/v1/auth/refresh",
		map[string]string{"refresh_token": tokens.RefreshToken}, &refreshed); code != http.StatusOK {
		t.Fatalf("refresh = %d, want 200", code)
	}
	if refreshed.AccessToken == "" {
		t.Fatal("refresh did not return access token")
	}
	if code := ts.callWith("GET", "/api/v1/sessions", refreshed.AccessToken, nil, nil); code != http.StatusOK {
		t.Errorf("refreshed token = %d, want 200", code)
	}
}

// ============================================================================
// 中间件与纯函数
// ============================================================================

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, acct("alice"))

	req, _ := http.NewRequest("OPTIONS", ts.srv.URL+"/api/v1/sessions", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("preflight = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q, want *", got)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/api/v1/sessions", "/api/v1/sessions"},
		{"/api/v1/sessions/alice", "/api/v1/sessions/{id}"},
		{"/api/v1/sessions/alice/start", "/api/v1/sessions/{id}/start"},
		{"/api/v1/sessions/alice/messages", "/api/v1/sessions/{id}/messages"},
		{"/api/v1/accounts/bob", "/api/v1/accounts/{id}"},
		{"/api/v1/backups/state-20260101T000000.000Z.json/restore", "/api/v1/backups/{name}/restore"},
		{"/health", "/health"},
	}
	for _, c := range cases {
		if got := normalizePath(c.in); got != c.want {
			t.Errorf("normalizePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStatusForKeeperErr(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{keeper.ErrUnknownAccount, http.StatusNotFound},
		{fmt.Errorf("%w: alice", keeper.ErrUnknownAccount), http.StatusNotFound},
		{keeper.ErrSessionBusy, http.StatusConflict},
		{keeper.ErrNotInFlight, http.StatusConflict},
		{keeper.ErrNoChallenge, http.StatusConflict},
		{keeper.ErrNotActive, http.StatusConflict},
		{keeper.ErrChallengeRejected, http.StatusBadRequest},
		{keeper.ErrShuttingDown, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusForKeeperErr(c.err); got != c.want {
			t.Errorf("statusForKeeperErr(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

// Package server 提供 HTTP API 处理器
//
// 本包实现 session-keeper 的 RESTful API，包括：
//   - 会话管理（启动/停止/质询/消息）接口
//   - 账号凭据接口（脱敏展示）
//   - 运行时设置接口
//   - 快照备份接口
//   - WebSocket 实时监控推送
//
// 文件组织：
//   - common.go: 通用工具函数和 Handler 定义
//   - handler.go: 路由配置与中间件链
//   - sessions.go: 会话相关接口
//   - accounts.go: 账号相关接口
//   - settings.go: 设置接口
//   - backups.go: 备份接口
//   - stats.go: 统计与事件历史接口
//   - monitor_ws.go: WebSocket 监控推送
//   - metrics.go: Prometheus 指标
package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"session-keeper/internal/accounts"
	"session-keeper/internal/apiserver/auth"
	"session-keeper/internal/archive"
	"session-keeper/internal/config"
	"session-keeper/internal/keeper"
	"session-keeper/internal/shared/eventbus"
	"session-keeper/internal/state"
	"session-keeper/pkg/logging"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责把请求分发到编排器、
// 凭据存储、设置存储与快照管理器。
type Handler struct {
	registry *keeper.SessionRegistry
	accounts *accounts.Store
	settings *config.SettingsStore
	states   *state.Manager          // 快照与备份，可为 nil
	bus      eventbus.SessionEventBus
	archive  archive.Store           // 消息归档，可为 nil
	authCfg  auth.Config
	metrics  *Metrics
	log      *logging.Logger
}

// Deps Handler 依赖集合
type Deps struct {
	Registry *keeper.SessionRegistry
	Accounts *accounts.Store
	Settings *config.SettingsStore
	State    *state.Manager
	Bus      eventbus.SessionEventBus
	Archive  archive.Store
	Auth     auth.Config
	Logger   *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(deps Deps) *Handler {
	log := deps.Logger
	if log == nil {
		log = logging.Default("apiserver")
	}
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.NewNoOpEventBus()
	}
	return &Handler{
		registry: deps.Registry,
		accounts: deps.Accounts,
		settings: deps.Settings,
		states:   deps.State,
		bus:      bus,
		archive:  deps.Archive,
		authCfg:  deps.Auth,
		metrics:  NewMetrics("keeper"),
		log:      log,
	}
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// generateID 生成带前缀的唯一标识符，格式为 prefix_xxxxxxxxxxxx
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "_" + hex.EncodeToString(b)
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"active": h.registry.ActiveCount(),
	})
}

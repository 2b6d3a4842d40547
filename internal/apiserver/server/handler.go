// Package server 路由配置与中间件链
package server

import (
	"net/http"

	"session-keeper/internal/apiserver/auth"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康与指标:
//   - GET  /health  - 服务健康检查
//   - GET  /metrics - Prometheus 指标
//
// 认证 (Auth):
//   - POST /api/v1/auth/login   - 操作员登录
//   - POST /api/v1/auth/refresh - 刷新访问令牌
//   - GET  /api/v1/auth/me      - 当前操作员
//
// 会话管理 (Session):
//   - GET  /api/v1/sessions                - 列出所有会话
//   - GET  /api/v1/sessions/{id}           - 获取会话详情
//   - POST /api/v1/sessions/{id}/start     - 启动会话
//   - POST /api/v1/sessions/{id}/stop      - 停止会话
//   - POST /api/v1/sessions/{id}/challenge - 应答认证质询
//   - POST /api/v1/sessions/{id}/message   - 发送消息
//   - GET  /api/v1/sessions/{id}/messages  - 查询归档消息
//
// 账号管理 (Account):
//   - GET    /api/v1/accounts      - 列出账号（脱敏）
//   - POST   /api/v1/accounts      - 添加账号
//   - DELETE /api/v1/accounts/{id} - 删除账号
//
// 设置 (Settings):
//   - GET /api/v1/settings - 读取运行时设置
//   - PUT /api/v1/settings - 更新运行时设置
//
// 运维 (Ops):
//   - GET  /api/v1/stats                  - 运行时统计
//   - GET  /api/v1/events                 - 最近事件
//   - GET  /api/v1/backups                - 列出快照备份
//   - POST /api/v1/backups                - 立即创建备份
//   - POST /api/v1/backups/{name}/restore - 回滚到指定备份
//
// WebSocket:
//   - GET /ws/monitor - 实时会话监控推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler())

	// 会话接口
	mux.HandleFunc("GET /api/v1/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.GetSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/start", h.StartSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/stop", h.StopSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/challenge", h.SubmitChallenge)
	mux.HandleFunc("POST /api/v1/sessions/{id}/message", h.SendMessage)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", h.ListMessages)

	// 账号接口
	mux.HandleFunc("GET /api/v1/accounts", h.ListAccounts)
	mux.HandleFunc("POST /api/v1/accounts", h.AddAccount)
	mux.HandleFunc("DELETE /api/v1/accounts/{id}", h.RemoveAccount)

	// 设置接口
	mux.HandleFunc("GET /api/v1/settings", h.GetSettings)
	mux.HandleFunc("PUT /api/v1/settings", h.PutSettings)

	// 运维接口
	mux.HandleFunc("GET /api/v1/stats", h.GetStats)
	mux.HandleFunc("GET /api/v1/events", h.GetEvents)
	mux.HandleFunc("GET /api/v1/backups", h.ListBackups)
	mux.HandleFunc("POST /api/v1/backups", h.CreateBackup)
	mux.HandleFunc("POST /api/v1/backups/{name}/restore", h.RestoreBackup)

	// Auth 路由
	authHandler := auth.NewHandler(h.authCfg)
	authHandler.RegisterRoutes(mux)

	// 应用指标中间件到 REST API
	apiHandler := h.metrics.MetricsMiddleware(mux)

	// 应用认证中间件
	authedHandler := auth.Middleware(h.authCfg)(apiHandler)

	// 应用 CORS 中间件
	corsHandler := corsMiddleware(authedHandler)

	// 顶层路由：WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	monitorWS := NewMonitorWSHandler(h)
	topMux.HandleFunc("GET /ws/monitor", monitorWS.HandleWebSocket)
	topMux.Handle("/", corsHandler)

	return topMux
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

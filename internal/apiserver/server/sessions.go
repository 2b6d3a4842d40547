// Package server 会话管理接口
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"session-keeper/internal/keeper"
)

// statusForKeeperErr 将编排层错误映射为 HTTP 状态码
func statusForKeeperErr(err error) int {
	switch {
	case errors.Is(err, keeper.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, keeper.ErrSessionBusy),
		errors.Is(err, keeper.ErrNotInFlight),
		errors.Is(err, keeper.ErrNoChallenge),
		errors.Is(err, keeper.ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, keeper.ErrChallengeRejected):
		return http.StatusBadRequest
	case errors.Is(err, keeper.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ListSessions 列出所有会话
//
// 路由: GET /api/v1/sessions
//
// 响应:
//
//	{
//	  "sessions": [{"account_id": "alice", "state": "active", ...}],
//	  "count": 2
//	}
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession 获取单个会话详情
//
// 路由: GET /api/v1/sessions/{id}
//
// 路径参数:
//   - id: 账号 ID
//
// 错误响应:
//   - 404 Not Found: 账号不存在
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusForKeeperErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// StartSession 启动会话
//
// 路由: POST /api/v1/sessions/{id}/start
//
// 路径参数:
//   - id: 账号 ID
//
// 响应:
//   - 202 Accepted: 连接流程已入队（受速率与并发闸门约束，异步推进）
//   - 404 Not Found: 账号不存在
//   - 409 Conflict: 会话已在运行
//   - 503 Service Unavailable: 服务正在关闭
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Start(r.Context(), id); err != nil {
		writeError(w, statusForKeeperErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"account_id": id, "status": "starting"})
}

// StopSession 停止会话
//
// 路由: POST /api/v1/sessions/{id}/stop
//
// 路径参数:
//   - id: 账号 ID
//
// 响应:
//   - 200 OK: 会话已回到 idle
//   - 404 Not Found: 账号不存在
//   - 409 Conflict: 会话本就处于 idle
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Stop(r.Context(), id); err != nil {
		writeError(w, statusForKeeperErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account_id": id, "status": "stopped"})
}

// SubmitChallenge 应答认证质询
//
// 路由: POST /api/v1/sessions/{id}/challenge
//
// 路径参数:
//   - id: 账号 ID
//
// 请求体:
//
//	{"code": "123456"}
//
// 响应:
//   - 202 Accepted: 应答已提交，结果通过会话状态与事件流反馈
//   - 400 Bad Request: 请求体格式错误或 code 为空
//   - 409 Conflict: 会话当前没有待应答的质询
func (h *Handler) SubmitChallenge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.registry.SubmitChallenge(id, req.Code); err != nil {
		writeError(w, statusForKeeperErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"account_id": id, "status": "submitted"})
}

// SendMessage 通过活跃会话发送消息
//
// 路由: POST /api/v1/sessions/{id}/message
//
// 路径参数:
//   - id: 账号 ID
//
// 请求体:
//
//	{"to": "bob", "text": "hello"}
//
// 响应:
//   - 200 OK: 消息已交给网关
//   - 400 Bad Request: to 或 text 为空
//   - 409 Conflict: 会话未处于 active 状态
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		To   string `json:"to"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "to and text are required")
		return
	}

	if err := h.registry.SendMessage(id, req.To, req.Text); err != nil {
		writeError(w, statusForKeeperErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account_id": id, "status": "sent"})
}

// ListMessages 查询账号的归档消息
//
// 路由: GET /api/v1/sessions/{id}/messages
//
// 路径参数:
//   - id: 账号 ID
//
// 查询参数:
//   - limit: 返回数量限制，默认 50，最大 500
//   - offset: 偏移量，默认 0
//
// 响应:
//
//	{"messages": [...], "count": 10, "total": 42}
//
// 错误响应:
//   - 503 Service Unavailable: 消息归档未启用
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "message archive is not enabled")
		return
	}

	id := r.PathValue("id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	messages, err := h.archive.ListMessages(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	total, err := h.archive.CountMessages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
		"total":    total,
	})
}

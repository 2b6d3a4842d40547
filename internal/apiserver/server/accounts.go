// Package server 账号管理接口
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"session-keeper/internal/accounts"
	"session-keeper/internal/keeper"
	"session-keeper/internal/shared/model"
)

// ListAccounts 列出所有账号（凭据脱敏）
//
// 路由: GET /api/v1/accounts
//
// 响应:
//
//	{
//	  "accounts": [{"id": "alice", "password": "••••••", ...}],
//	  "count": 2
//	}
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	list := h.accounts.List()
	redacted := make([]model.Account, len(list))
	for i, a := range list {
		redacted[i] = a.Redacted()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": redacted,
		"count":    len(redacted),
	})
}

// AddAccount 添加账号
//
// 路由: POST /api/v1/accounts
//
// 请求体:
//
//	{"id": "alice", "password": "secret", "sharedSecret": "JBSW...", "titles": ["ops"]}
//
// 响应:
//   - 201 Created: 返回脱敏后的账号
//   - 400 Bad Request: id 或 password 为空
//   - 409 Conflict: 账号已存在
func (h *Handler) AddAccount(w http.ResponseWriter, r *http.Request) {
	var acct model.Account
	if err := json.NewDecoder(r.Body).Decode(&acct); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if acct.Key() == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if acct.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	if err := h.accounts.Add(acct); err != nil {
		if errors.Is(err, accounts.ErrDuplicate) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to add account")
		return
	}

	h.log.WithAccount(acct.Key()).Info("account added")
	writeJSON(w, http.StatusCreated, acct.Redacted())
}

// RemoveAccount 删除账号
//
// 先停止该账号的会话（若有），再从存储中移除。
//
// 路由: DELETE /api/v1/accounts/{id}
//
// 路径参数:
//   - id: 账号 ID
//
// 响应:
//   - 200 OK: 账号已删除
//   - 404 Not Found: 账号不存在
func (h *Handler) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.registry.Stop(r.Context(), id); err != nil &&
		!errors.Is(err, keeper.ErrNotInFlight) &&
		!errors.Is(err, keeper.ErrUnknownAccount) &&
		!errors.Is(err, keeper.ErrShuttingDown) {
		writeError(w, statusForKeeperErr(err), err.Error())
		return
	}

	if err := h.accounts.Remove(id); err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove account")
		return
	}

	h.log.WithAccount(id).Info("account removed")
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "removed"})
}

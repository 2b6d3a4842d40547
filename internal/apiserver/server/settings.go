// Package server 运行时设置接口
package server

import (
	"encoding/json"
	"net/http"
)

// GetSettings 读取运行时设置
//
// 路由: GET /api/v1/settings
//
// 响应:
//
//	{"autoReconnect": true, "invisibleMode": false, "saveMessages": true, ...}
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Current())
}

// PutSettings 更新运行时设置
//
// 更新后立即对所有活跃会话重新应用在线状态，使 invisibleMode
// 的变更即刻生效，无需重启会话。
//
// 路由: PUT /api/v1/settings
//
// 请求体: 完整的设置对象（整体替换）
//
// 响应:
//   - 200 OK: 返回更新后的设置
//   - 400 Bad Request: 请求体格式错误或取值越界
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	next := h.settings.Current()
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.settings.Update(next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.registry.RefreshPresence()
	h.log.Info("settings updated")
	writeJSON(w, http.StatusOK, h.settings.Current())
}

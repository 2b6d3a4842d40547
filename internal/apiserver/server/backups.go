// Package server 快照备份接口
package server

import (
	"net/http"
	"time"

	"session-keeper/internal/shared/model"
)

// ListBackups 列出快照备份
//
// 路由: GET /api/v1/backups
//
// 响应:
//
//	{
//	  "backups": [{"name": "state-20260821-120000.json", "size": 512, "created_at": "..."}],
//	  "count": 3
//	}
//
// 错误响应:
//   - 503 Service Unavailable: 快照持久化未启用
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	if h.states == nil {
		writeError(w, http.StatusServiceUnavailable, "state persistence is not enabled")
		return
	}

	backups, err := h.states.ListBackups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backups": backups,
		"count":   len(backups),
	})
}

// CreateBackup 立即创建快照备份
//
// 先把当前会话状态写入快照文件，再从快照文件复制出备份，
// 保证备份内容总是最新的。超出保留上限时最旧的备份被轮换删除。
//
// 路由: POST /api/v1/backups
//
// 响应:
//   - 201 Created: 返回 {"name": "state-....json"}
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	if h.states == nil {
		writeError(w, http.StatusServiceUnavailable, "state persistence is not enabled")
		return
	}

	if err := h.registry.SaveState(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save state")
		return
	}

	name, err := h.states.CreateBackup(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create backup")
		return
	}

	h.bus.PublishEvent(r.Context(), &model.SessionEvent{
		ID:        generateID("evt"),
		Type:      model.EventBackupCreated,
		Timestamp: time.Now(),
		Payload:   map[string]any{"name": name},
	})

	h.log.Info("backup created", "name", name)
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

// RestoreBackup 回滚到指定备份
//
// 备份内容覆盖当前快照文件，下次进程启动时按该快照恢复会话。
// 运行中的会话不受影响。
//
// 路由: POST /api/v1/backups/{name}/restore
//
// 路径参数:
//   - name: 备份文件名（来自 ListBackups）
//
// 响应:
//   - 200 OK: 快照已回滚
//   - 400 Bad Request: 备份名非法或不存在
func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	if h.states == nil {
		writeError(w, http.StatusServiceUnavailable, "state persistence is not enabled")
		return
	}

	name := r.PathValue("name")
	if err := h.states.RestoreBackup(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.log.Info("backup restored", "name", name)
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "restored"})
}

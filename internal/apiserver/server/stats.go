// Package server 统计与事件历史接口
package server

import (
	"net/http"
	"strconv"
)

// GetStats 运行时统计
//
// 同时把汇总写入 Prometheus 指标，使抓取与轮询看到一致的数据。
//
// 路由: GET /api/v1/stats
//
// 响应:
//
//	{
//	  "accounts": 5,
//	  "sessions": 3,
//	  "active": 2,
//	  "by_state": {"active": 2, "reconnecting": 1},
//	  "rate": {"used": 4, "max": 30, "percent": 13.3},
//	  "connects": {"running": 1, "waiting": 0, "max": 3},
//	  ...
//	}
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.Snapshot()
	h.metrics.SetSessionStats(stats)
	writeJSON(w, http.StatusOK, stats)
}

// GetEvents 最近的会话事件
//
// 路由: GET /api/v1/events
//
// 查询参数:
//   - count: 返回数量限制，默认 100，最大 1000
//
// 响应:
//
//	{"events": [...], "count": 10, "total": 42}
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	count, _ := strconv.ParseInt(r.URL.Query().Get("count"), 10, 64)
	if count <= 0 || count > 1000 {
		count = 100
	}

	events, err := h.bus.GetEvents(r.Context(), count)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}
	total, err := h.bus.GetEventCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"total":  total,
	})
}

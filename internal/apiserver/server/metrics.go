// Package server Prometheus 指标导出
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"session-keeper/internal/keeper"
)

// Metrics 包含所有 API Server 指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// 会话指标
	SessionsActive  prometheus.Gauge
	SessionsByState *prometheus.GaugeVec
	ReconnectsTotal prometheus.Gauge
	SessionErrors   prometheus.Gauge

	// 限流指标
	RateWindowUsed      prometheus.Gauge
	RateWindowMax       prometheus.Gauge
	ConnectSlotsRunning prometheus.Gauge
	ConnectSlotsWaiting prometheus.Gauge

	// WebSocket 指标
	WSConnectionsActive prometheus.Gauge
	WSMessagesTotal     *prometheus.CounterVec
}

// NewMetrics 创建指标实例
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Sessions currently authenticated with a live identity",
			},
		),
		SessionsByState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_by_state",
				Help:      "Sessions grouped by lifecycle state",
			},
			[]string{"state"},
		),
		ReconnectsTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_reconnects",
				Help:      "Sum of consecutive reconnect attempts across sessions",
			},
		),
		SessionErrors: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_errors_total",
				Help:      "Total fatal session errors since start",
			},
		),
		RateWindowUsed: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_window_used",
				Help:      "Connection attempts consumed in the current rate window",
			},
		),
		RateWindowMax: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_window_max",
				Help:      "Connection attempts allowed per rate window",
			},
		),
		ConnectSlotsRunning: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connect_slots_running",
				Help:      "Connection attempts currently holding a slot",
			},
		),
		ConnectSlotsWaiting: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connect_slots_waiting",
				Help:      "Connection attempts queued for a slot",
			},
		),
		WSConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections_active",
				Help:      "Active WebSocket connections",
			},
		),
		WSMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_total",
				Help:      "Total WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// MetricsMiddleware 创建 HTTP 指标中间件
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// 包装 ResponseWriter 以捕获状态码
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath 规范化路径，将账号 ID 替换为占位符，避免高基数
//
// 例如 /api/v1/sessions/alice/start -> /api/v1/sessions/{id}/start
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/sessions/"):
		rest := path[len("/api/v1/sessions/"):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/api/v1/sessions/{id}/" + rest[i+1:]
		}
		return "/api/v1/sessions/{id}"
	case strings.HasPrefix(path, "/api/v1/accounts/"):
		return "/api/v1/accounts/{id}"
	case strings.HasPrefix(path, "/api/v1/backups/"):
		return "/api/v1/backups/{name}/restore"
	default:
		return path
	}
}

// MetricsHandler 返回 Prometheus HTTP Handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// SetSessionStats 将会话运行时汇总写入指标
func (m *Metrics) SetSessionStats(stats keeper.Stats) {
	m.SessionsActive.Set(float64(stats.Active))
	m.SessionsByState.Reset()
	for state, count := range stats.ByState {
		m.SessionsByState.WithLabelValues(state).Set(float64(count))
	}
	m.ReconnectsTotal.Set(float64(stats.Reconnects))
	m.SessionErrors.Set(float64(stats.Errors))
	m.RateWindowUsed.Set(float64(stats.Rate.Used))
	m.RateWindowMax.Set(float64(stats.Rate.Max))
	m.ConnectSlotsRunning.Set(float64(stats.Connects.Running))
	m.ConnectSlotsWaiting.Set(float64(stats.Connects.Waiting))
}

// RecordWSMessage 记录 WebSocket 消息
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessagesTotal.WithLabelValues(direction, msgType).Inc()
}

// WSConnectionOpened WebSocket 连接打开
func (m *Metrics) WSConnectionOpened() {
	m.WSConnectionsActive.Inc()
}

// WSConnectionClosed WebSocket 连接关闭
func (m *Metrics) WSConnectionClosed() {
	m.WSConnectionsActive.Dec()
}

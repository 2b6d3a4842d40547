// Package server 会话监控 WebSocket
//
// 本文件提供会话状态的 WebSocket 实时推送功能。
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"session-keeper/internal/shared/model"
)

var monitorUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域（开发环境）
	},
}

// MonitorMessage WebSocket 消息
type MonitorMessage struct {
	Type      string      `json:"type"`      // sessions, stats, event
	Data      interface{} `json:"data"`      // 消息数据
	Timestamp time.Time   `json:"timestamp"` // 时间戳
}

// MonitorWSHandler WebSocket 监控连接处理器
//
// 推送内容：
//   - 每 3 秒全量推送会话列表与运行时统计
//   - 订阅事件总线，状态迁移等事件即时转发
//
// 所有写操作都收敛到 broadcastLoop 单协程执行，
// 避免 gorilla/websocket 不允许的并发写。
type MonitorWSHandler struct {
	handler *Handler
	clients map[*websocket.Conn]bool
	joined  chan *websocket.Conn
	mu      sync.RWMutex
}

// NewMonitorWSHandler 创建监控 WebSocket 处理器
func NewMonitorWSHandler(h *Handler) *MonitorWSHandler {
	mws := &MonitorWSHandler{
		handler: h,
		clients: make(map[*websocket.Conn]bool),
		joined:  make(chan *websocket.Conn, 8),
	}
	// 启动广播协程
	go mws.broadcastLoop()
	return mws
}

// HandleWebSocket 处理 WebSocket 连接
//
// 路由: GET /ws/monitor
func (m *MonitorWSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := monitorUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[MonitorWS] Upgrade error: %v", err)
		return
	}

	m.mu.Lock()
	m.clients[conn] = true
	total := len(m.clients)
	m.mu.Unlock()

	m.handler.metrics.WSConnectionOpened()
	log.Printf("[MonitorWS] Client connected, total: %d", total)

	// 交给广播协程发送初始数据；通道满时下一个周期推送会补上
	select {
	case m.joined <- conn:
	default:
	}

	// 读取客户端消息（保持连接）
	go m.readPump(conn)
}

func (m *MonitorWSHandler) readPump(conn *websocket.Conn) {
	defer func() {
		m.mu.Lock()
		delete(m.clients, conn)
		remaining := len(m.clients)
		m.mu.Unlock()
		conn.Close()
		m.handler.metrics.WSConnectionClosed()
		log.Printf("[MonitorWS] Client disconnected, remaining: %d", remaining)
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[MonitorWS] Read error: %v", err)
			}
			break
		}
	}
}

// subscribe 订阅事件总线，失败时返回 nil 通道（select 中永远阻塞）
func (m *MonitorWSHandler) subscribe() <-chan *model.SessionEvent {
	ch, err := m.handler.bus.SubscribeEvents(context.Background())
	if err != nil {
		log.Printf("[MonitorWS] Subscribe error: %v", err)
		return nil
	}
	return ch
}

func (m *MonitorWSHandler) broadcastLoop() {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	events := m.subscribe()

	for {
		select {
		case conn := <-m.joined:
			m.sendSnapshot(conn)

		case ev, ok := <-events:
			if !ok {
				// 总线已关闭，保留周期推送
				events = nil
				continue
			}
			m.broadcast(MonitorMessage{
				Type:      "event",
				Data:      ev,
				Timestamp: time.Now(),
			})

		case <-ticker.C:
			// 统计始终写入 Prometheus，与是否有客户端无关
			stats := m.handler.registry.Snapshot()
			m.handler.metrics.SetSessionStats(stats)

			m.mu.RLock()
			clientCount := len(m.clients)
			m.mu.RUnlock()

			if clientCount == 0 {
				continue
			}

			// 广播会话列表
			m.broadcast(MonitorMessage{
				Type:      "sessions",
				Data:      m.handler.registry.List(),
				Timestamp: time.Now(),
			})

			// 广播统计更新
			m.broadcast(MonitorMessage{
				Type:      "stats",
				Data:      stats,
				Timestamp: time.Now(),
			})

			// 发送心跳
			m.mu.RLock()
			for conn := range m.clients {
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Printf("[MonitorWS] Ping error: %v", err)
				}
			}
			m.mu.RUnlock()
		}
	}
}

// sendSnapshot 向单个客户端发送当前会话列表与统计
func (m *MonitorWSHandler) sendSnapshot(conn *websocket.Conn) {
	m.sendToClient(conn, MonitorMessage{
		Type:      "sessions",
		Data:      m.handler.registry.List(),
		Timestamp: time.Now(),
	})
	m.sendToClient(conn, MonitorMessage{
		Type:      "stats",
		Data:      m.handler.registry.Snapshot(),
		Timestamp: time.Now(),
	})
}

func (m *MonitorWSHandler) sendToClient(conn *websocket.Conn, msg MonitorMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[MonitorWS] Marshal error: %v", err)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[MonitorWS] Write error: %v", err)
		return
	}
	m.handler.metrics.RecordWSMessage("out", msg.Type)
}

func (m *MonitorWSHandler) broadcast(msg MonitorMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[MonitorWS] Marshal error: %v", err)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for conn := range m.clients {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[MonitorWS] Broadcast error: %v", err)
			continue
		}
		m.handler.metrics.RecordWSMessage("out", msg.Type)
	}
}

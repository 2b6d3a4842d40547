// Package eventbus 会话事件总线抽象接口
//
// 编排器每次状态迁移、质询、消息与错误都会发布一条 SessionEvent，
// 消费方包括 WebSocket 监控推送与可选的 Redis Streams 外部订阅。
// 实现：
//   - memory.go: 进程内总线（默认，喂给 WS 监控）
//   - redis/: Redis Streams 驱动（跨进程消费）
//   - mock.go: 空操作实现（测试）
package eventbus

import (
	"context"

	"session-keeper/internal/shared/model"
)

// 事件流常量
const (
	// MaxStreamLength 事件流保留上限，超出后丢弃最旧事件
	MaxStreamLength = 1000

	// SubscriberBuffer 单个订阅者的通道缓冲，写满即丢（慢消费者不拖垮发布方）
	SubscriberBuffer = 100
)

// SessionEventBus 会话事件总线接口
type SessionEventBus interface {
	// PublishEvent 发布一条会话事件
	PublishEvent(ctx context.Context, event *model.SessionEvent) error

	// GetEvents 返回最近 count 条事件（时间正序），count<=0 表示全部保留内容
	GetEvents(ctx context.Context, count int64) ([]*model.SessionEvent, error)

	// GetEventCount 返回累计发布的事件数
	GetEventCount(ctx context.Context) (int64, error)

	// SubscribeEvents 订阅后续事件，取消 ctx 即退订；总线关闭时通道关闭
	SubscribeEvents(ctx context.Context) (<-chan *model.SessionEvent, error)

	// Close 关闭事件总线
	Close() error
}

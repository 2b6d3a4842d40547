// Package eventbus 事件总线 mock 实现
package eventbus

import (
	"context"

	"session-keeper/internal/shared/model"
)

// ============================================================================
// NoOpEventBus - 空操作的 SessionEventBus 实现（用于测试）
// ============================================================================

// NoOpEventBus 是一个不做任何操作的 SessionEventBus 实现
type NoOpEventBus struct{}

// NewNoOpEventBus 创建 NoOpEventBus 实例
func NewNoOpEventBus() *NoOpEventBus {
	return &NoOpEventBus{}
}

func (e *NoOpEventBus) PublishEvent(ctx context.Context, event *model.SessionEvent) error {
	return nil
}

func (e *NoOpEventBus) GetEvents(ctx context.Context, count int64) ([]*model.SessionEvent, error) {
	return []*model.SessionEvent{}, nil
}

func (e *NoOpEventBus) GetEventCount(ctx context.Context) (int64, error) {
	return 0, nil
}

func (e *NoOpEventBus) SubscribeEvents(ctx context.Context) (<-chan *model.SessionEvent, error) {
	ch := make(chan *model.SessionEvent)
	close(ch)
	return ch, nil
}

// Close 关闭事件总线
func (e *NoOpEventBus) Close() error {
	return nil
}

// 确保 NoOpEventBus 实现了 SessionEventBus 接口
var _ SessionEventBus = (*NoOpEventBus)(nil)

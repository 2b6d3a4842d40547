// Package eventbus 进程内事件总线实现
package eventbus

import (
	"context"
	"errors"
	"sync"

	"session-keeper/internal/shared/model"
)

// ErrBusClosed 总线已关闭
var ErrBusClosed = errors.New("event bus closed")

// ============================================================================
// MemoryBus - 进程内事件总线（默认实现）
// ============================================================================

// MemoryBus 进程内事件总线
//
// 行为约定：
//   - 最近 MaxStreamLength 条事件保留在环形缓冲中，供 GetEvents 查询
//   - 订阅者通道缓冲 SubscriberBuffer 条，写满丢弃（发布方永不阻塞）
//   - 订阅以 ctx 取消退订，Close 关闭所有订阅者通道
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[int]chan *model.SessionEvent
	nextID int
	recent []*model.SessionEvent
	total  int64
	closed bool
}

// NewMemoryBus 创建进程内事件总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[int]chan *model.SessionEvent),
	}
}

// PublishEvent 实现 SessionEventBus
func (b *MemoryBus) PublishEvent(ctx context.Context, event *model.SessionEvent) error {
	if event == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	b.total++
	b.recent = append(b.recent, event)
	if len(b.recent) > MaxStreamLength {
		b.recent = b.recent[len(b.recent)-MaxStreamLength:]
	}

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// GetEvents 实现 SessionEventBus
func (b *MemoryBus) GetEvents(ctx context.Context, count int64) ([]*model.SessionEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.recent)
	if count > 0 && int64(n) > count {
		n = int(count)
	}
	out := make([]*model.SessionEvent, n)
	copy(out, b.recent[len(b.recent)-n:])
	return out, nil
}

// GetEventCount 实现 SessionEventBus
func (b *MemoryBus) GetEventCount(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, nil
}

// SubscribeEvents 实现 SessionEventBus
func (b *MemoryBus) SubscribeEvents(ctx context.Context) (<-chan *model.SessionEvent, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}

	id := b.nextID
	b.nextID++
	ch := make(chan *model.SessionEvent, SubscriberBuffer)
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()

	return ch, nil
}

// Close 实现 SessionEventBus
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}

// unsubscribe 摘除订阅者并关闭其通道，幂等
func (b *MemoryBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// 确保 MemoryBus 实现了 SessionEventBus 接口
var _ SessionEventBus = (*MemoryBus)(nil)

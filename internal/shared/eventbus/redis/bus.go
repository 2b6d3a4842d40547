// Package redis 会话事件总线的 Redis Streams 实现
//
// 所有事件写入单条 Stream（键名可配），XADD 带 MAXLEN 近似裁剪，
// 订阅用 XREAD 阻塞轮询。适合守护进程之外的消费者（告警、审计）。
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"session-keeper/internal/shared/eventbus"
	"session-keeper/internal/shared/model"
)

// subscribeBlock XREAD 单次阻塞时长
const subscribeBlock = 5 * time.Second

// Bus Redis Streams 事件总线
type Bus struct {
	client *redis.Client
	stream string
}

// NewBus 从 URL 创建 Redis 事件总线并验证连通性
func NewBus(redisURL, stream string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	log.Printf("[redis.eventbus] connected addr=%s stream=%s", opts.Addr, stream)
	return &Bus{client: client, stream: stream}, nil
}

// PublishEvent 实现 SessionEventBus
func (b *Bus) PublishEvent(ctx context.Context, event *model.SessionEvent) error {
	if event == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"type":       string(event.Type),
			"account_id": event.AccountID,
			"timestamp":  event.Timestamp.Format(time.RFC3339Nano),
			"data":       string(data),
		},
	}

	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish session event: %w", err)
	}
	return nil
}

// GetEvents 实现 SessionEventBus
func (b *Bus) GetEvents(ctx context.Context, count int64) ([]*model.SessionEvent, error) {
	if count <= 0 {
		count = eventbus.MaxStreamLength
	}

	msgs, err := b.client.XRevRangeN(ctx, b.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read session events: %w", err)
	}

	// XREVRANGE 返回新→旧，翻转为时间正序
	events := make([]*model.SessionEvent, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if ev := decodeMessage(msgs[i]); ev != nil {
			events = append(events, ev)
		}
	}
	return events, nil
}

// GetEventCount 实现 SessionEventBus
func (b *Bus) GetEventCount(ctx context.Context) (int64, error) {
	return b.client.XLen(ctx, b.stream).Result()
}

// SubscribeEvents 实现 SessionEventBus
func (b *Bus) SubscribeEvents(ctx context.Context) (<-chan *model.SessionEvent, error) {
	ch := make(chan *model.SessionEvent, eventbus.SubscriberBuffer)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := b.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   10,
				Block:   subscribeBlock,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				log.Printf("[redis.eventbus] subscribe error: %v", err)
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					ev := decodeMessage(msg)
					if ev == nil {
						lastID = msg.ID
						continue
					}
					select {
					case ch <- ev:
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

// Close 实现 SessionEventBus
func (b *Bus) Close() error {
	return b.client.Close()
}

// decodeMessage 从 Stream 条目还原事件，损坏条目返回 nil
func decodeMessage(msg redis.XMessage) *model.SessionEvent {
	dataStr, ok := msg.Values["data"].(string)
	if !ok {
		return nil
	}
	var ev model.SessionEvent
	if err := json.Unmarshal([]byte(dataStr), &ev); err != nil {
		return nil
	}
	if ev.ID == "" {
		ev.ID = msg.ID
	}
	return &ev
}

// 确保 Bus 实现了 SessionEventBus 接口
var _ eventbus.SessionEventBus = (*Bus)(nil)

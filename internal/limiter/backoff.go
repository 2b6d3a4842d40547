// Package limiter 提供连接准入控制原语
//
// backoff.go 包含按键指数退避：
//   - Backoff：每个键独立的失败计数与退避延迟
package limiter

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ============================================================================
// Backoff - 按键指数退避
// ============================================================================

// Backoff 按键指数退避管理器
//
// 延迟 = min(base * factor^attempts, max) ± jitter 比例的均匀抖动。
// 各键的失败计数相互独立，未知键视为零次失败。
type Backoff struct {
	mu       sync.Mutex
	base     time.Duration
	max      time.Duration
	factor   float64
	jitter   float64
	attempts map[string]int
}

// NewBackoff 创建退避管理器
//
// factor 小于 1 时按 1 处理（不允许递减）；jitter 为抖动占比，取值 [0,1]。
func NewBackoff(base, max time.Duration, factor, jitter float64) *Backoff {
	if factor < 1 {
		factor = 1
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Backoff{
		base:     base,
		max:      max,
		factor:   factor,
		jitter:   jitter,
		attempts: make(map[string]int),
	}
}

// RecordFailure 记录一次失败，返回该键的累计失败次数
func (b *Backoff) RecordFailure(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts[key]++
	return b.attempts[key]
}

// Reset 清除键的失败计数，下次延迟回到 base
func (b *Backoff) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.attempts, key)
}

// Attempts 返回键的累计失败次数
func (b *Backoff) Attempts(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[key]
}

// DelayFor 计算键当前的退避延迟
func (b *Backoff) DelayFor(key string) time.Duration {
	b.mu.Lock()
	n := b.attempts[key]
	b.mu.Unlock()

	d := float64(b.base) * math.Pow(b.factor, float64(n))
	if d > float64(b.max) {
		d = float64(b.max)
	}
	if b.jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Wait 按当前退避延迟休眠，ctx 结束时提前返回
func (b *Backoff) Wait(ctx context.Context, key string) error {
	d := b.DelayFor(key)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

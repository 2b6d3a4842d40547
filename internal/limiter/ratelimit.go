// Package limiter 提供连接准入控制原语
//
// ratelimit.go 包含滑动窗口限频器：
//   - RateLimiter：任意 window 长度区间内放行次数不超过 max
//   - Usage：窗口占用统计
package limiter

import (
	"context"
	"sync"
	"time"
)

// acquirePollInterval Acquire 的轮询间隔
const acquirePollInterval = 100 * time.Millisecond

// Usage 窗口占用统计
type Usage struct {
	Used    int     `json:"used"`
	Max     int     `json:"max"`
	Percent float64 `json:"percent"`
}

// ============================================================================
// RateLimiter - 滑动窗口限频器
// ============================================================================

// RateLimiter 滑动窗口限频器
//
// 每次放行记录一个时间戳，窗口外的条目在下一次调用时惰性清理。
// 空闲期间允许保留过期条目，不影响准入判定。
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time
}

// NewRateLimiter 创建滑动窗口限频器
//
// max <= 0 表示全部拒绝（退化但有定义）。
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:    max,
		window: window,
	}
}

// TryAcquire 非阻塞申请一次放行
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.prune(now)
	if r.max <= 0 || len(r.stamps) >= r.max {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}

// Acquire 阻塞申请，直到放行成功或 ctx 结束
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.TryAcquire() {
		return nil
	}

	ticker := time.NewTicker(acquirePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if r.TryAcquire() {
				return nil
			}
		}
	}
}

// Stats 返回清理后的窗口占用
func (r *RateLimiter) Stats() Usage {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(time.Now())
	u := Usage{Used: len(r.stamps), Max: r.max}
	if r.max > 0 {
		u.Percent = float64(u.Used) / float64(r.max) * 100
	}
	return u
}

// prune 移除窗口外的时间戳，调用方需持锁
func (r *RateLimiter) prune(now time.Time) {
	cut := now.Add(-r.window)
	i := 0
	for i < len(r.stamps) && !r.stamps[i].After(cut) {
		i++
	}
	if i > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[i:]...)
	}
}

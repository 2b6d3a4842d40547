// Package limiter 提供连接准入控制原语
//
// semaphore.go 包含 FIFO 公平的计数信号量：
//   - ConcurrencyLimiter：并发名额控制，唤醒顺序严格按到达顺序
//   - Occupancy：名额占用统计
package limiter

import (
	"context"
	"sync"
)

// Occupancy 名额占用统计
type Occupancy struct {
	Running int `json:"running"`
	Waiting int `json:"waiting"`
	Max     int `json:"max"`
}

// ============================================================================
// ConcurrencyLimiter - FIFO 计数信号量
// ============================================================================

// ConcurrencyLimiter FIFO 公平的计数信号量
//
// 不变式：
//   - running 不超过 max
//   - 等待者按到达顺序唤醒，后来者不得插队
//   - 排队期间取消不泄漏名额
//
// Release 在有等待者时直接移交名额（running 不变），队首等待者被唤醒。
type ConcurrencyLimiter struct {
	mu      sync.Mutex
	max     int
	running int
	waiters []chan struct{}
}

// NewConcurrencyLimiter 创建计数信号量，max 最小为 1
func NewConcurrencyLimiter(max int) *ConcurrencyLimiter {
	if max < 1 {
		max = 1
	}
	return &ConcurrencyLimiter{max: max}
}

// Run 占用一个名额执行 task
//
// 无论 task 正常返回、出错还是 panic，名额都会归还。
// 排队期间 ctx 结束则不执行 task，返回 ctx 错误。
func (c *ConcurrencyLimiter) Run(ctx context.Context, task func() error) error {
	if err := c.Acquire(ctx); err != nil {
		return err
	}
	defer c.Release()
	return task()
}

// Acquire 占用一个名额，必要时按到达顺序排队
func (c *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.running < c.max && len(c.waiters) == 0 {
		c.running++
		c.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	c.waiters = append(c.waiters, ready)
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		select {
		case <-ready:
			// 取消与移交同时发生，名额已到手，原样退还
			c.releaseLocked()
		default:
			c.removeWaiter(ready)
		}
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Release 归还一个名额
//
// 未配对的 Release 属于编程错误，直接 panic。
func (c *ConcurrencyLimiter) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running <= 0 {
		panic("limiter: Release without matching Acquire")
	}
	c.releaseLocked()
}

// Stats 返回当前占用快照
func (c *ConcurrencyLimiter) Stats() Occupancy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Occupancy{
		Running: c.running,
		Waiting: len(c.waiters),
		Max:     c.max,
	}
}

// releaseLocked 释放名额或移交给队首等待者，调用方需持锁
func (c *ConcurrencyLimiter) releaseLocked() {
	if len(c.waiters) > 0 {
		ready := c.waiters[0]
		c.waiters = c.waiters[1:]
		close(ready)
		return
	}
	c.running--
}

// removeWaiter 从队列中移除指定等待者，调用方需持锁
func (c *ConcurrencyLimiter) removeWaiter(ready chan struct{}) {
	for i, w := range c.waiters {
		if w == ready {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

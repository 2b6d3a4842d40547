package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_WindowCap(t *testing.T) {
	rl := NewRateLimiter(5, 200*time.Millisecond)

	// 窗口内只放行 max 次
	granted := 0
	for i := 0; i < 20; i++ {
		if rl.TryAcquire() {
			granted++
		}
	}
	if granted != 5 {
		t.Fatalf("expected 5 grants in window, got %d", granted)
	}

	u := rl.Stats()
	if u.Used != 5 || u.Max != 5 {
		t.Errorf("expected usage 5/5, got %d/%d", u.Used, u.Max)
	}

	// 窗口滑过后重新放行
	time.Sleep(250 * time.Millisecond)
	if !rl.TryAcquire() {
		t.Error("expected grant after window slid past")
	}
}

func TestRateLimiter_SlidingProperty(t *testing.T) {
	const max = 3
	window := 100 * time.Millisecond
	rl := NewRateLimiter(max, window)

	// 持续申请约 3.5 个窗口，记录每次放行时刻
	var grants []time.Time
	deadline := time.Now().Add(350 * time.Millisecond)
	for time.Now().Before(deadline) {
		if rl.TryAcquire() {
			grants = append(grants, time.Now())
		}
		time.Sleep(2 * time.Millisecond)
	}

	if len(grants) < max {
		t.Fatalf("expected at least %d grants, got %d", max, len(grants))
	}

	// 任意窗口长度区间内放行次数不得超过 max
	for i := range grants {
		count := 1
		for j := i + 1; j < len(grants); j++ {
			if grants[j].Sub(grants[i]) < window {
				count++
			}
		}
		if count > max {
			t.Fatalf("window starting at grant %d admitted %d > %d", i, count, max)
		}
	}
}

func TestRateLimiter_AcquireBlocksUntilWindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, 150*time.Millisecond)
	if !rl.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}

	start := time.Now()
	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("acquire returned too early: %v", elapsed)
	}
}

func TestRateLimiter_AcquireContextCancel(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	if !rl.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	err := rl.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRateLimiter_ZeroMax(t *testing.T) {
	rl := NewRateLimiter(0, time.Second)
	if rl.TryAcquire() {
		t.Error("zero-capacity limiter must reject everything")
	}

	u := rl.Stats()
	if u.Used != 0 || u.Percent != 0 {
		t.Errorf("expected empty usage, got %+v", u)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(10, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.TryAcquire() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Fatalf("expected exactly 10 grants under contention, got %d", granted)
	}
}

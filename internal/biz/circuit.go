package biz

import (
	"sync"
	"time"

	"OAuthGuard/internal/model"
)

// Circuit 单个受保护操作的失败计数状态机
// failureCount 只在 Failure 时增加，只在 Success 或超时自动复位时清零；
// 没有半开状态：超时后直接回到关闭状态
type Circuit struct {
	mu              sync.Mutex
	failureCount    int
	lastFailureTime time.Time
	threshold       int
	openTimeout     time.Duration
	now             func() time.Time
}

func newCircuit(threshold int, openTimeout time.Duration, now func() time.Time) *Circuit {
	return &Circuit{
		threshold:   threshold,
		openTimeout: openTimeout,
		now:         now,
	}
}

// IsOpen reports whether calls must be refused.
// An expired open state is cleared as part of the same check.
func (c *Circuit) IsOpen() bool {
	open, _ := c.check()
	return open
}

// check 返回是否打开，以及本次检查是否触发了超时复位
func (c *Circuit) check() (open, reset bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failureCount < c.threshold || c.lastFailureTime.IsZero() {
		return false, false
	}
	if c.now().Sub(c.lastFailureTime) <= c.openTimeout {
		return true, false
	}

	c.failureCount = 0
	c.lastFailureTime = time.Time{}
	return false, true
}

// Failure 记录一次失败，返回这次失败是否使熔断打开
func (c *Circuit) Failure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.failureCount
	c.failureCount++
	c.lastFailureTime = c.now()
	return before < c.threshold && c.failureCount >= c.threshold
}

// Success 清零失败计数
func (c *Circuit) Success() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount = 0
	c.lastFailureTime = time.Time{}
}

// FailureCount 当前失败计数
func (c *Circuit) FailureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureCount
}

// Stats 状态快照，不触发自动复位
func (c *Circuit) Stats(operation string) model.CircuitStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := model.CircuitStats{
		Operation:        operation,
		FailureCount:     c.failureCount,
		FailureThreshold: c.threshold,
		OpenTimeout:      c.openTimeout,
	}
	if !c.lastFailureTime.IsZero() {
		t := c.lastFailureTime
		stats.LastFailureTime = &t
		stats.Open = c.failureCount >= c.threshold && c.now().Sub(t) <= c.openTimeout
	}
	return stats
}

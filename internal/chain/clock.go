package chain

import (
	"sync"
	"time"
)

// ManualClock 可手动推进的时钟，测试里替代系统时钟
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewManualClock 以指定起点创建手动时钟
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{t: start}
}

// Now 当前时刻
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance 前进 d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Set 直接设置时刻
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

package events

import (
	"sync"

	"github.com/dcabot/govault/internal/metrics"
)

// Bus 进程内事件总线：协议组件发布，websocket/落库等消费方订阅。
// Publish 不阻塞：订阅者缓冲满时丢弃该条，慢消费方不拖慢协议执行。
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan any]struct{}
	buffer int
	closed bool
}

// NewBus 创建事件总线，buffer 为每个订阅者的缓冲长度
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[chan any]struct{}),
		buffer: buffer,
	}
}

// Subscribe 注册订阅者，返回事件通道和取消函数
func (b *Bus) Subscribe() (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan any, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish 广播一条事件
func (b *Bus) Publish(evt any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- evt:
		default: // 缓冲满，丢弃
			metrics.EventsDropped.Add(1)
		}
	}
}

// Close 关闭总线并断开所有订阅者
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

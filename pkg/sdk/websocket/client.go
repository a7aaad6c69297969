package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventClient 订阅 govault 守护进程的 /ws 事件流。
// 事件同时派发给回调和 Messages() 通道；通道满时丢弃新事件，
// 慢消费者不阻塞读取循环。断线后自动重连。
type EventClient struct {
	// 连接相关
	conn      *websocket.Conn
	connMu    sync.Mutex
	url       string
	config    *Config
	running   bool
	runningMu sync.RWMutex

	// 事件处理
	handler Handler

	// 消息通道
	msgChan chan Envelope
	errChan chan error

	// 生命周期管理
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	doneCh chan struct{}

	// 重连状态
	reconnectAttempts int
	reconnectMu       sync.Mutex
}

// NewEventClient 创建事件流客户端。baseURL 是守护进程地址（http:// 或 ws:// 均可），
// handler 可以为 nil，此时只通过 Messages() 消费。
func NewEventClient(baseURL string, handler Handler) *EventClient {
	return NewEventClientWithConfig(baseURL, handler, DefaultConfig())
}

// NewEventClientWithConfig 使用自定义配置创建事件流客户端
func NewEventClientWithConfig(baseURL string, handler Handler, config *Config) *EventClient {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &EventClient{
		url:     EventStreamURL(baseURL),
		config:  config,
		handler: handler,
		msgChan: make(chan Envelope, config.MessageBufferSize),
		errChan: make(chan error, config.ErrorBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// EventStreamURL 把守护进程地址换算成 /ws 事件流端点
func EventStreamURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "http://"):
		u = "ws" + strings.TrimPrefix(u, "http")
	case strings.HasPrefix(u, "https://"):
		u = "wss" + strings.TrimPrefix(u, "https")
	}
	if !strings.HasSuffix(u, "/ws") {
		u += "/ws"
	}
	return u
}

// Start 连接到事件流并开始监听
func (c *EventClient) Start(ctx context.Context) error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return fmt.Errorf("事件流客户端已在运行")
	}
	c.running = true
	c.runningMu.Unlock()

	if ctx != nil {
		c.ctx = ctx
	}

	if err := c.connect(); err != nil {
		c.runningMu.Lock()
		c.running = false
		c.runningMu.Unlock()
		return fmt.Errorf("初始连接失败: %w", err)
	}

	go c.readLoop()

	log.Printf("[事件流] 已连接 %s", c.url)
	return nil
}

// Stop 优雅地关闭连接
func (c *EventClient) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	c.cancel()
	close(c.stopCh)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		log.Printf("[事件流] 关闭超时")
	}
}

// Messages 返回事件通道
func (c *EventClient) Messages() <-chan Envelope {
	return c.msgChan
}

// Errors 返回错误通道
func (c *EventClient) Errors() <-chan error {
	return c.errChan
}

// IsRunning 检查客户端是否正在运行
func (c *EventClient) IsRunning() bool {
	c.runningMu.RLock()
	defer c.runningMu.RUnlock()
	return c.running
}

// connect 建立 WebSocket 连接
func (c *EventClient) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	headers := make(http.Header)
	headers.Set("User-Agent", "govault-sdk")

	var conn *websocket.Conn
	var err error
	for i := 0; i < defaultMaxRetries; i++ {
		conn, _, err = dialer.Dial(c.url, headers)
		if err == nil {
			break
		}
		if i < defaultMaxRetries-1 {
			log.Printf("[事件流] 连接尝试 %d/%d 失败: %v, 重试中...", i+1, defaultMaxRetries, err)
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	c.conn = conn

	c.reconnectMu.Lock()
	c.reconnectAttempts = 0
	c.reconnectMu.Unlock()

	return nil
}

// readLoop 持续从连接读取事件
func (c *EventClient) readLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if c.config.ReconnectEnabled {
				c.reconnect()
			}
			time.Sleep(1 * time.Second)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[事件流] 连接正常关闭")
				return
			}
			if !c.IsRunning() {
				return
			}
			log.Printf("[事件流] 读取错误: %v, 重连中...", err)
			if c.config.ReconnectEnabled {
				c.reconnect()
			} else {
				time.Sleep(1 * time.Second)
			}
			continue
		}

		c.handleMessage(message)
	}
}

// reconnect 重连逻辑（带退避）
func (c *EventClient) reconnect() {
	c.reconnectMu.Lock()
	c.reconnectAttempts++
	attempts := c.reconnectAttempts
	c.reconnectMu.Unlock()

	if attempts > c.config.MaxReconnectAttempts {
		select {
		case c.errChan <- fmt.Errorf("达到最大重连次数 (%d)", c.config.MaxReconnectAttempts):
		default:
		}
		return
	}

	delay := c.config.ReconnectDelay * time.Duration(attempts)
	if delay > c.config.MaxReconnectDelay {
		delay = c.config.MaxReconnectDelay
	}

	log.Printf("[事件流] %v 后重连 (尝试 %d/%d)...", delay, attempts, c.config.MaxReconnectAttempts)

	select {
	case <-c.ctx.Done():
		return
	case <-c.stopCh:
		return
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		log.Printf("[事件流] 重连失败: %v", err)
	}
}

// handleMessage 解析并派发一条事件
func (c *EventClient) handleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		preview := string(data)
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		select {
		case c.errChan <- fmt.Errorf("解析事件失败: %w (数据: %s)", err, preview):
		default:
		}
		return
	}

	if c.handler != nil {
		c.handler(env)
	}

	select {
	case c.msgChan <- env:
	default:
	}
}

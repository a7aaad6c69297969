// Package websocket 提供协议事件流的 WebSocket 客户端
package websocket

import (
	"encoding/json"
	"time"
)

const (
	// 重连设置
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second

	// 消息通道缓冲区大小
	defaultMessageBufferSize = 256
	defaultErrorBufferSize   = 16

	// 连接重试设置
	defaultMaxRetries = 3
)

// EventType 服务端推送的事件类型
type EventType string

const (
	EventVaultCreated         EventType = "vault_created"
	EventVaultCopied          EventType = "vault_copied"
	EventDeposit              EventType = "deposit"
	EventWithdraw             EventType = "withdraw"
	EventFill                 EventType = "fill"
	EventConfigUpdated        EventType = "config_updated"
	EventOwnershipTransferred EventType = "ownership_transferred"
	EventMetaTxExecuted       EventType = "meta_tx_executed"
	EventRelayerFeeUpdated    EventType = "relayer_fee_updated"
)

// Envelope 推送消息信封，Data 是事件的原始 JSON
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handler 事件回调，在读取 goroutine 里同步调用
type Handler func(Envelope)

// Config 客户端配置
type Config struct {
	// 重连设置
	ReconnectEnabled     bool          // 是否启用自动重连
	ReconnectDelay       time.Duration // 重连延迟
	MaxReconnectDelay    time.Duration // 最大重连延迟
	MaxReconnectAttempts int           // 最大重连尝试次数

	// 缓冲区设置
	MessageBufferSize int // 消息通道缓冲区大小
	ErrorBufferSize   int // 错误通道缓冲区大小

	// 连接设置
	HandshakeTimeout time.Duration // 握手超时时间
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ReconnectEnabled:     true,
		ReconnectDelay:       defaultReconnectDelay,
		MaxReconnectDelay:    defaultMaxReconnectDelay,
		MaxReconnectAttempts: 10,
		MessageBufferSize:    defaultMessageBufferSize,
		ErrorBufferSize:      defaultErrorBufferSize,
		HandshakeTimeout:     15 * time.Second,
	}
}

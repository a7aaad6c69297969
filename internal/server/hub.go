package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dcabot/govault/internal/events"
	"github.com/dcabot/govault/pkg/logger"
)

// Hub 把协议事件实时推送给所有 websocket 订阅端。
// 写失败的连接直接剔除，慢客户端不影响其他订阅端。
type Hub struct {
	clients  map[*websocket.Conn]struct{}
	mu       sync.Mutex
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// eventEnvelope websocket 下行消息：type 区分事件种类，data 为事件本体
type eventEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func eventName(evt any) string {
	switch evt.(type) {
	case events.VaultCreatedEvent:
		return "vault_created"
	case events.VaultCopiedEvent:
		return "vault_copied"
	case events.DepositEvent:
		return "deposit"
	case events.WithdrawEvent:
		return "withdraw"
	case events.FillEvent:
		return "fill"
	case events.ConfigUpdatedEvent:
		return "config_updated"
	case events.OwnershipTransferredEvent:
		return "ownership_transferred"
	case events.MetaTxExecutedEvent:
		return "meta_tx_executed"
	case events.RelayerFeeUpdatedEvent:
		return "relayer_fee_updated"
	default:
		return "event"
	}
}

// Broadcast 向所有在线连接推送一条事件
func (h *Hub) Broadcast(evt any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msg, err := json.Marshal(eventEnvelope{Type: eventName(evt), Data: evt})
	if err != nil {
		logger.Warnf("事件序列化失败: %v", err)
		return
	}
	for c := range h.clients {
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Debugf("websocket 写入失败，剔除连接: %v", err)
			c.Close()
			delete(h.clients, c)
		}
	}
}

// Run 消费事件通道并广播，通道关闭或 ctx 取消时退出
func (h *Hub) Run(ctx context.Context, ch <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(evt)
		}
	}
}

// ClientCount 当前在线连接数
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handler 接受 websocket 连接并登记到广播列表
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnf("websocket 升级失败: %v", err)
			return
		}
		h.mu.Lock()
		h.clients[conn] = struct{}{}
		h.mu.Unlock()
		go func() {
			defer func() {
				h.mu.Lock()
				delete(h.clients, conn)
				h.mu.Unlock()
				conn.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}
}

package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"signalhub/internal/signal"
)

// client 的出站走带缓冲的 send channel，writePump 独占写 socket。
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 维护 conn_id → client 的映射，并实现 signal.Sender。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

func (h *Hub) add(connID string, c *client) {
	h.mu.Lock()
	h.clients[connID] = c
	h.mu.Unlock()
}

func (h *Hub) remove(connID string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if ok {
		delete(h.clients, connID)
	}
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
}

// Send 把事件打包成 {"type","data"} 信封投进连接的发送队列。
// 队列满说明客户端写不动了，丢帧并返回 false，不阻塞信令路径。
func (h *Hub) Send(connID, event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal payload")
		return false
	}
	frame, err := json.Marshal(signal.Envelope{Type: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal envelope")
		return false
	}

	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		log.Warn().Str("conn_id", connID).Str("event", event).Msg("send queue full, frame dropped")
		return false
	}
}

// Alive 报告连接是否仍挂在 hub 上。
func (h *Hub) Alive(connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[connID]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

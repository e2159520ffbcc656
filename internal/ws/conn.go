package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"signalhub/internal/metrics"
	"signalhub/internal/signal"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendQueueSize  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 信令面向浏览器多源调试，来源控制交给部署层。
	CheckOrigin: func(*http.Request) bool { return true },
}

// Serve 返回 /ws 的处理函数：升级连接、分配 conn_id、
// 起读写泵，连接断开后走 handler 的级联清理。
func Serve(hub *Hub, handler *signal.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket upgrade")
			return
		}

		connID := uuid.NewString()
		cl := &client{conn: conn, send: make(chan []byte, sendQueueSize)}
		hub.add(connID, cl)
		metrics.WsConnections.Inc()
		log.Info().Str("conn_id", connID).Msg("connection opened")

		go writePump(cl)
		go readPump(hub, handler, connID, cl)
	}
}

func readPump(hub *Hub, handler *signal.Handler, connID string, cl *client) {
	defer func() {
		hub.remove(connID)
		metrics.WsConnections.Dec()
		cl.conn.Close()
		handler.Disconnected(connID)
		log.Info().Str("conn_id", connID).Msg("connection closed")
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn_id", connID).Msg("unexpected close")
			}
			return
		}
		handler.HandleFrame(connID, raw)
	}
}

func writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/AIHouse/internal/bus"
	"github.com/Corphon/AIHouse/internal/utils"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
)

// Hub 把总线上的 show.event 推送给所有 websocket 客户端
type Hub struct {
	bus      *bus.Bus
	upgrader websocket.Upgrader
	logger   *utils.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	delivered atomic.Int64
	dropped   atomic.Int64
}

// wsClient 一个 websocket 连接
type wsClient struct {
	conn      *websocket.Conn
	remote    string
	send      chan []byte
	done      chan struct{}
	once      sync.Once
	createdAt time.Time
	lastPing  atomic.Int64
}

// NewHub 创建推送中心
func NewHub(b *bus.Bus, logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Hub{
		bus: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 面向本地导演台，不限制来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run 订阅节目事件并广播，阻塞直到 ctx 结束或总线关闭；退出时断开所有客户端
func (h *Hub) Run(ctx context.Context) error {
	sub, err := h.bus.Subscribe(bus.TopicShowEvent)
	if err != nil {
		return err
	}
	defer sub.Close()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ex, ok := <-sub.C():
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ex.Content)
			if err != nil {
				h.logger.Warn("⚠️ 序列化节目事件失败", map[string]interface{}{"error": err.Error()})
				continue
			}
			h.broadcast(payload)
		}
	}
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
			h.delivered.Add(1)
		default:
			// 慢客户端丢弃本条，不阻塞其他客户端
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("✅ WebSocket 客户端已连接", map[string]interface{}{"remote": c.remote, "clients": n})
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	if ok {
		h.logger.Info("🔌 WebSocket 客户端已断开", map[string]interface{}{"remote": c.remote, "clients": n})
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Status 连接状态
func (h *Hub) Status() map[string]interface{} {
	h.mu.RLock()
	clients := make([]map[string]interface{}, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, map[string]interface{}{
			"remote":       c.remote,
			"connected_at": c.createdAt.Format(time.RFC3339),
			"last_ping":    time.Unix(0, c.lastPing.Load()).Format(time.RFC3339),
		})
	}
	h.mu.RUnlock()

	return map[string]interface{}{
		"total_connections":    len(clients),
		"clients":              clients,
		"delivered":            h.delivered.Load(),
		"dropped":              h.dropped.Load(),
		"ping_timeout_seconds": int(wsPongTimeout.Seconds()),
	}
}

// ServeWS 升级连接并阻塞到连接关闭
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("❌ WebSocket 升级失败", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &wsClient{
		conn:      conn,
		remote:    r.RemoteAddr,
		send:      make(chan []byte, wsSendBuffer),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	c.touch()

	welcome, _ := json.Marshal(map[string]interface{}{
		"type":      "connected",
		"timestamp": time.Now(),
	})
	c.send <- welcome

	h.register(c)
	defer h.unregister(c)

	go c.writePump(h.logger)
	c.readPump()
}

func (c *wsClient) touch() { c.lastPing.Store(time.Now().UnixNano()) }

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump 客户端只发 ping；读到错误即结束
func (c *wsClient) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
			pong, _ := json.Marshal(map[string]interface{}{"type": "pong", "timestamp": time.Now()})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

func (c *wsClient) writePump(logger *utils.Logger) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("WebSocket 写入失败", map[string]interface{}{"error": err.Error()})
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

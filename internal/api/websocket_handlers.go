// internal/api/websocket_handlers.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
)

// ShowWebSocket 订阅节目事件流 (GET /ws/show)
func (h *Handler) ShowWebSocket(c *gin.Context) {
	h.Hub.ServeWS(c.Writer, c.Request)
}

// GetWebSocketStatus 获取 WebSocket 连接状态
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := h.Hub.Status()
	status["timestamp"] = time.Now().Format(time.RFC3339)
	h.Response.Success(c, status)
}

// internal/mcpserver/server.go
package mcpserver

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/server"

	"github.com/Corphon/AIHouse/internal/app"
	"github.com/Corphon/AIHouse/internal/utils"
)

const (
	serverName    = "aihouse"
	serverVersion = "1.0.0"
)

// Server 通过 MCP 暴露节目控制工具
type Server struct {
	mcp      *server.MCPServer
	handlers *Handlers
	logger   *utils.Logger
}

// New 基于组装好的应用注册全部工具
func New(a *app.App) *Server {
	logger := a.Logger.With(map[string]interface{}{"component": "mcp"})
	handlers := NewHandlers(a.Show, a.Reflector, a.Registry, logger)

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	for _, t := range handlers.Tools() {
		mcpServer.AddTool(t.Tool, t.Handler)
	}

	return &Server{mcp: mcpServer, handlers: handlers, logger: logger}
}

// ServeStdio 在给定的读写流上服务，阻塞直到 ctx 结束或输入关闭
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("🔌 MCP stdio 服务已启动", map[string]interface{}{"tools": len(s.handlers.Tools())})
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// MCP 底层服务，供测试与其他传输使用
func (s *Server) MCP() *server.MCPServer { return s.mcp }

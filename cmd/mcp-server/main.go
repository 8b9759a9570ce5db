// cmd/mcp-server/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Corphon/AIHouse/internal/app"
	"github.com/Corphon/AIHouse/internal/config"
	"github.com/Corphon/AIHouse/internal/mcpserver"
	"github.com/Corphon/AIHouse/internal/observability"
	"github.com/Corphon/AIHouse/internal/utils"
)

var version = "dev"

func main() {
	// stdout 是协议通道，日志只能写 stderr
	logger := utils.NewStderrLogger(utils.INFO)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("❌ 加载配置失败", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	logger.Info("🚀 AIHouse MCP 服务器启动中...", map[string]interface{}{"version": version})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, "aihouse-mcp", version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("⚠️ 追踪初始化失败，继续运行", map[string]interface{}{"error": err.Error()})
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error("❌ 追踪关闭出错", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("❌ 应用组装失败", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		logger.Error("❌ 应用启动失败", map[string]interface{}{"error": err.Error()})
		return
	}

	if err := mcpserver.New(a).ServeStdio(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("❌ MCP 服务异常", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("✅ MCP 服务器已关闭", nil)
}

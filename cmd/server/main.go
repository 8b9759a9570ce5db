// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Corphon/AIHouse/internal/api"
	"github.com/Corphon/AIHouse/internal/app"
	"github.com/Corphon/AIHouse/internal/config"
	"github.com/Corphon/AIHouse/internal/observability"
	"github.com/Corphon/AIHouse/internal/utils"
)

var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		utils.GetLogger().Error("❌ 服务器异常退出", map[string]interface{}{"error": err.Error()})
		utils.GetLogger().Sync()
		os.Exit(1)
	}
}

func run() error {
	logger := utils.GetLogger()
	logger.Info("🚀 启动 AIHouse 服务器...", map[string]interface{}{"version": version})

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "aihouse.log")); err != nil {
		logger.Warn("⚠️ 日志文件初始化失败，仅输出到控制台", map[string]interface{}{"error": err.Error()})
	}
	defer logger.Sync()
	logger.Info("✅ 配置加载完成", map[string]interface{}{
		"port":         cfg.Port,
		"data_dir":     cfg.DataDir,
		"llm_provider": cfg.LLMProvider,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. 追踪
	shutdownTracer, err := observability.InitTracer(ctx, "aihouse", version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("⚠️ 追踪初始化失败，继续运行", map[string]interface{}{"error": err.Error()})
		shutdownTracer = func(context.Context) error { return nil }
	}

	// 3. 组装应用并启动后台循环
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		a.Close()
		return err
	}
	logger.Info("✅ 节目核心已启动", map[string]interface{}{
		"characters": len(a.Show.Characters()),
		"arcs":       len(a.Registry.AllArcs()),
		"scenarios":  len(a.Registry.AllScenarios()),
	})

	// 4. HTTP 层
	srv := api.NewServer(a)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverCtx, cancelServer := context.WithCancel(ctx)
	defer cancelServer()
	hubDone := make(chan error, 1)
	go func() { hubDone <- srv.Run(serverCtx) }()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("🌐 服务器监听中", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 5. 等待信号或监听失败
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("🛑 收到关闭信号，正在优雅关闭...", nil)
	case err, ok := <-serveErr:
		if ok {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("❌ HTTP 服务器关闭失败", map[string]interface{}{"error": err.Error()})
	}
	cancelServer()
	<-hubDone

	if err := a.Close(); err != nil {
		logger.Error("❌ 应用关闭出错", map[string]interface{}{"error": err.Error()})
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("⚠️ 追踪关闭出错", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("✅ 服务器已关闭", nil)
	return runErr
}

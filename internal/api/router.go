// internal/api/router.go
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/Corphon/AIHouse/internal/app"
)

const (
	// 每个IP每分钟的请求上限
	defaultRateLimit = 120
	chatRateLimit    = 30
)

// Server HTTP 层：路由、推送中心与限流器
type Server struct {
	Engine  *gin.Engine
	Handler *Handler
	Hub     *Hub

	limiters []*RateLimiter
}

// NewServer 基于组装好的应用配置路由
func NewServer(a *app.App) *Server {
	if !a.Config.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := NewHub(a.Bus, a.Logger.With(map[string]interface{}{"component": "websocket"}))
	directorAuth := NewDirectorAuth(a.Config.DirectorSecret, a.Logger)
	handler := NewHandler(a, hub, directorAuth)

	general := NewRateLimiter(defaultRateLimit, time.Minute)
	chat := NewRateLimiter(chatRateLimit, time.Minute)

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(a.Logger), CORS())

	rh := handler.Response
	director := directorAuth.Require(rh)

	r.GET("/ws/show", handler.ShowWebSocket)

	api := r.Group("/api", general.Middleware(rh))
	{
		api.GET("/ping", handler.Ping)
		api.GET("/status", handler.GetStatus)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/ws/status", handler.GetWebSocketStatus)
		api.POST("/auth/token", handler.IssueToken)

		// ===============================
		// 角色
		// ===============================
		characters := api.Group("/characters")
		{
			characters.GET("", handler.GetCharacters)
			characters.GET("/:id/status", handler.GetCharacterStatus)
			characters.POST("/:id/init", director, handler.InitCharacter)
			characters.POST("/:id/message", director, chat.Middleware(rh), handler.SendAgentMessage)
		}

		// ===============================
		// 对话
		// ===============================
		chatGroup := api.Group("/chat")
		{
			chatGroup.POST("", director, chat.Middleware(rh), handler.Chat)
			chatGroup.GET("/history", handler.GetChatHistory)
		}

		// ===============================
		// 场景
		// ===============================
		scene := api.Group("/scene")
		{
			scene.GET("/summary", handler.GetSceneSummary)
			scene.GET("/summaries", handler.GetSceneSummaries)
			scene.GET("/stats", handler.GetSceneStats)
			scene.GET("/context/:id", handler.GetSceneContext)
		}

		// ===============================
		// 剧本
		// ===============================
		scenarios := api.Group("/scenarios")
		{
			scenarios.GET("", handler.GetScenarios)
			scenarios.GET("/history", handler.GetScenarioHistory)
			scenarios.POST("/:id/activate", director, handler.ActivateScenario)
			scenarios.POST("/:id/deactivate", director, handler.DeactivateScenario)
			scenarios.POST("/:id/execute", director, handler.ExecuteScenario)
		}

		// ===============================
		// 剧情弧
		// ===============================
		arcs := api.Group("/arcs")
		{
			arcs.GET("", handler.GetArcs)
			arcs.GET("/lore", handler.GetLoreArcs)
			arcs.GET("/context", handler.GetArcContext)
			arcs.GET("/history", handler.GetArcHistory)
			arcs.POST("/update", director, handler.UpdateArcs)
			arcs.POST("/:id/activate", director, handler.ActivateArc)
		}

		// ===============================
		// 导出、档案与设置
		// ===============================
		api.POST("/episodes/export", director, handler.ExportEpisode)
		api.GET("/archive/messages", handler.GetArchiveMessages)

		settings := api.Group("/settings", director)
		{
			settings.GET("", handler.GetSettings)
			settings.POST("/llm", handler.UpdateLLMSettings)
		}
	}

	return &Server{
		Engine:   r,
		Handler:  handler,
		Hub:      hub,
		limiters: []*RateLimiter{general, chat},
	}
}

// Run 启动推送中心与限流器清理，阻塞直到 ctx 结束
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.limiters {
		g.Go(func() error {
			l.Run(gctx)
			return nil
		})
	}
	g.Go(func() error { return s.Hub.Run(gctx) })
	return g.Wait()
}

// internal/api/handlers.go
package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/AIHouse/internal/app"
	"github.com/Corphon/AIHouse/internal/cast"
	"github.com/Corphon/AIHouse/internal/narrative"
	"github.com/Corphon/AIHouse/internal/reflector"
	"github.com/Corphon/AIHouse/internal/services"
	"github.com/Corphon/AIHouse/internal/storage"
	"github.com/Corphon/AIHouse/internal/utils"
)

const (
	defaultHistoryLimit = 50
	exportTimeout       = 30 * time.Second
)

// Handler 处理API请求
type Handler struct {
	Show      *services.ShowService
	Reflector *reflector.Reflector
	Registry  *narrative.Registry
	Archive   *storage.Archive
	Settings  *services.SettingsService
	LLM       *services.LLMService
	Usage     *services.UsageTracker
	Metrics   *utils.ShowMetrics

	Auth     *DirectorAuth
	Hub      *Hub
	Response *ResponseHelper
	logger   *utils.Logger
}

// NewHandler 从组装好的应用创建处理器
func NewHandler(a *app.App, hub *Hub, directorAuth *DirectorAuth) *Handler {
	return &Handler{
		Show:      a.Show,
		Reflector: a.Reflector,
		Registry:  a.Registry,
		Archive:   a.Archive,
		Settings:  a.Settings,
		LLM:       a.LLM,
		Usage:     a.Usage,
		Metrics:   a.Metrics,
		Auth:      directorAuth,
		Hub:       hub,
		Response:  NewResponseHelper(),
		logger:    a.Logger,
	}
}

// ChatRequest 用户发言
type ChatRequest struct {
	CharacterID string `json:"character_id" binding:"required"`
	Message     string `json:"message" binding:"required"`
}

// AgentRequest 直接调用某个角色
type AgentRequest struct {
	Message string                 `json:"message" binding:"required"`
	Context map[string]interface{} `json:"context"`
}

// ArcUpdateRequest 手动推进剧情弧
type ArcUpdateRequest struct {
	SceneContent     string   `json:"scene_content"`
	ActiveCharacters []string `json:"active_characters"`
}

// ExportRequest 导出请求
type ExportRequest struct {
	Format   string `json:"format"`
	Download bool   `json:"download"`
}

// TokenRequest 换取导演令牌
type TokenRequest struct {
	Secret  string `json:"secret" binding:"required"`
	Subject string `json:"subject"`
}

// LLMSettingsRequest 切换LLM提供者
type LLMSettingsRequest struct {
	Provider string            `json:"provider" binding:"required"`
	Config   map[string]string `json:"config"`
}

func queryLimit(c *gin.Context, def int) int {
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return def
}

// ========================================
// 基础
// ========================================

// Ping 健康检查
func (h *Handler) Ping(c *gin.Context) {
	h.Response.Success(c, gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)})
}

// GetStatus 节目整体状态
func (h *Handler) GetStatus(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"show":      h.Show.Status(),
		"llm":       h.LLM.Status(),
		"usage":     h.Usage.Stats(),
		"websocket": h.Hub.ClientCount(),
		"auth":      h.Auth.Enabled(),
	})
}

// GetMetrics 指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.Collector().GetMetrics())
}

// IssueToken 以导演密钥换取令牌
func (h *Handler) IssueToken(c *gin.Context) {
	if !h.Auth.Enabled() {
		h.Response.Conflict(c, ErrorConflict, "未启用导演鉴权")
		return
	}
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}
	raw, tok, err := h.Auth.Issue(req.Secret, req.Subject)
	if err != nil {
		h.Response.Unauthorized(c, "导演密钥错误")
		return
	}
	h.Response.Created(c, gin.H{
		"token":      raw,
		"subject":    tok.Subject,
		"expires_at": tok.Expiry(),
	}, "令牌已签发")
}

// ========================================
// 角色
// ========================================

// GetCharacters 角色名单
func (h *Handler) GetCharacters(c *gin.Context) {
	h.Response.Success(c, h.Show.Characters())
}

// InitCharacter 初始化角色
func (h *Handler) InitCharacter(c *gin.Context) {
	st, err := h.Show.InitCharacter(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, st, "角色已就绪")
}

// GetCharacterStatus 角色状态
func (h *Handler) GetCharacterStatus(c *gin.Context) {
	st, err := h.Show.CharacterStatus(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, st)
}

// SendAgentMessage 直接调用角色，不写入场景日志
func (h *Handler) SendAgentMessage(c *gin.Context) {
	var req AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}
	h.Response.Success(c, h.Show.RouteMessageToAgent(c.Request.Context(), c.Param("id"), req.Message, req.Context))
}

// ========================================
// 对话
// ========================================

// Chat 用户对某个角色发言
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}
	res, err := h.Show.SendMessage(c.Request.Context(), req.CharacterID, req.Message)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, res)
}

// GetChatHistory 最近的场景消息
func (h *Handler) GetChatHistory(c *gin.Context) {
	h.Response.Success(c, h.Show.ChatHistory(queryLimit(c, defaultHistoryLimit)))
}

// ========================================
// 场景
// ========================================

// GetSceneSummary 当前摘要
func (h *Handler) GetSceneSummary(c *gin.Context) {
	summary, ok := h.Reflector.CurrentSummary()
	if !ok {
		h.Response.NotFound(c, "summary", "场景还没有任何消息")
		return
	}
	h.Response.Success(c, summary)
}

// GetSceneSummaries 全部保留的摘要
func (h *Handler) GetSceneSummaries(c *gin.Context) {
	h.Response.Success(c, h.Reflector.Summaries())
}

// GetSceneStats 场景统计
func (h *Handler) GetSceneStats(c *gin.Context) {
	h.Response.Success(c, h.Reflector.Stats())
}

// GetSceneContext 某个角色视角的场景上下文与完整的聊天上下文
func (h *Handler) GetSceneContext(c *gin.Context) {
	persona, ok := cast.LookupPersona(c.Param("id"))
	if !ok {
		h.Response.NotFound(c, "character", c.Param("id"))
		return
	}
	id := persona.ID
	h.Response.Success(c, gin.H{
		"character_id":  id,
		"scene_context": h.Reflector.SceneContextFor(id),
		"chat_context":  h.Show.Contexts().BuildContext(id, c.Query("message")),
	})
}

// ========================================
// 剧本
// ========================================

// GetScenarios 全部剧本
func (h *Handler) GetScenarios(c *gin.Context) {
	active := make(map[string]bool)
	for _, s := range h.Registry.ActiveScenarios() {
		active[s.ScenarioID] = true
	}
	out := make([]gin.H, 0)
	for _, s := range h.Registry.AllScenarios() {
		out = append(out, gin.H{
			"scenario_id": s.ScenarioID,
			"title":       s.Title,
			"description": s.Description,
			"triggers":    s.Triggers,
			"characters":  s.Characters,
			"priority":    s.Priority,
			"executed":    s.Executed,
			"active":      active[s.ScenarioID],
		})
	}
	h.Response.Success(c, out)
}

// ActivateScenario 激活剧本
func (h *Handler) ActivateScenario(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.Registry.GetScenario(id); !ok {
		h.Response.NotFound(c, "scenario", id)
		return
	}
	if !h.Registry.ActivateScenario(id) {
		h.Response.Conflict(c, ErrorConflict, "剧本已激活")
		return
	}
	h.Response.Success(c, gin.H{"scenario_id": id, "active": true})
}

// DeactivateScenario 停用剧本
func (h *Handler) DeactivateScenario(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.Registry.GetScenario(id); !ok {
		h.Response.NotFound(c, "scenario", id)
		return
	}
	if !h.Registry.DeactivateScenario(id) {
		h.Response.Conflict(c, ErrorScenarioNotActive, "剧本未激活")
		return
	}
	h.Response.Success(c, gin.H{"scenario_id": id, "active": false})
}

// ExecuteScenario 立即演出剧本，等待全部台词写入日志
func (h *Handler) ExecuteScenario(c *gin.Context) {
	playback, err := h.Show.ExecuteScenario(c.Request.Context(), c.Param("id"))
	if err != nil {
		if playback != nil {
			h.Response.Success(c, playback, "演出被中断")
			return
		}
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, playback)
}

// GetScenarioHistory 剧本执行历史
func (h *Handler) GetScenarioHistory(c *gin.Context) {
	h.Response.Success(c, h.Registry.ScenarioHistory())
}

// ========================================
// 剧情弧
// ========================================

// GetArcs 全部剧情弧状态
func (h *Handler) GetArcs(c *gin.Context) {
	h.Response.Success(c, h.Registry.ArcStatuses())
}

// GetLoreArcs 设定文档中的剧情弧与世界观
func (h *Handler) GetLoreArcs(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"arcs":  h.Registry.LoreArcs(),
		"world": h.Registry.WorldContext(),
	})
}

// ActivateArc 激活剧情弧
func (h *Handler) ActivateArc(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.Registry.GetArc(id); !ok {
		h.Response.NotFound(c, "arc", id)
		return
	}
	if !h.Registry.ActivateNarrativeArc(id) {
		h.Response.Conflict(c, ErrorArcAlreadyActive, "剧情弧已激活")
		return
	}
	h.Response.Success(c, gin.H{"arc_id": id, "context": h.Registry.CurrentArcContext()})
}

// UpdateArcs 用给定场景推进剧情弧；缺省时使用当前摘要与活跃角色
func (h *Handler) UpdateArcs(c *gin.Context) {
	var req ArcUpdateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.Response.BadRequest(c, "无效的请求格式", err.Error())
			return
		}
	}
	if req.SceneContent == "" {
		if s, ok := h.Reflector.CurrentSummary(); ok {
			req.SceneContent = s.Summary
		}
	}
	if req.ActiveCharacters == nil {
		req.ActiveCharacters = h.Reflector.ActiveCharacters()
	}

	transitions := h.Registry.UpdateNarrativeArcs(narrative.ArcContext{
		SceneContent:     req.SceneContent,
		ActiveCharacters: req.ActiveCharacters,
	})
	if transitions == nil {
		transitions = []string{}
	}
	h.Response.Success(c, gin.H{"transitions": transitions, "arcs": h.Registry.ArcStatuses()})
}

// GetArcContext 当前剧情弧上下文
func (h *Handler) GetArcContext(c *gin.Context) {
	ctx := h.Registry.CurrentArcContext()
	arcID, phaseID := services.ExtractArcPhase(ctx)
	h.Response.Success(c, gin.H{"context": ctx, "arc_id": arcID, "phase_id": phaseID})
}

// GetArcHistory 剧情弧事件历史
func (h *Handler) GetArcHistory(c *gin.Context) {
	h.Response.Success(c, h.Registry.ArcHistory())
}

// ========================================
// 导出与档案
// ========================================

// ExportEpisode 导出本期节目
func (h *Handler) ExportEpisode(c *gin.Context) {
	var req ExportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.Response.BadRequest(c, "无效的请求格式", err.Error())
			return
		}
	}
	if req.Format == "" {
		req.Format = c.Query("format")
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), exportTimeout)
	defer cancel()

	report, err := h.Show.ExportEpisode(ctx, req.Format)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.ExportResponse(c, report, req.Download || c.Query("download") == "true")
}

// GetArchiveMessages 档案库中的历史消息
func (h *Handler) GetArchiveMessages(c *gin.Context) {
	if h.Archive == nil {
		h.Response.NotFound(c, "archive", "未配置 DATABASE_PATH")
		return
	}
	msgs, err := h.Archive.RecentMessages(c.Request.Context(), queryLimit(c, defaultHistoryLimit))
	if err != nil {
		h.Response.InternalError(c, "读取档案失败", err.Error())
		return
	}
	counts, err := h.Archive.Counts(c.Request.Context())
	if err != nil {
		h.Response.InternalError(c, "读取档案失败", err.Error())
		return
	}
	h.Response.Success(c, gin.H{"messages": msgs, "counts": counts})
}

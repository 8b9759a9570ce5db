// internal/api/settings_handlers.go
package api

import (
	"github.com/gin-gonic/gin"
)

// GetSettings 当前LLM设置（密钥已脱敏）与变更历史
func (h *Handler) GetSettings(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"llm":     h.Settings.LLM(),
		"usage":   h.Usage.Stats(),
		"history": h.Settings.GetChangeHistory(queryLimit(c, 20)),
	})
}

// UpdateLLMSettings 切换LLM提供者，立即对后续回合生效
func (h *Handler) UpdateLLMSettings(c *gin.Context) {
	var req LLMSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}
	if req.Config == nil {
		req.Config = map[string]string{}
	}

	director := directorFromContext(c)
	if err := h.Settings.UpdateLLMConfig(req.Provider, req.Config, director); err != nil {
		h.logger.Warn("⚠️ LLM设置更新失败", map[string]interface{}{
			"provider": req.Provider,
			"by":       director,
			"error":    err.Error(),
		})
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, h.Settings.LLM(), "LLM设置已更新")
}

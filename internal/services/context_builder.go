// internal/services/context_builder.go
package services

import (
	"strings"

	"github.com/Corphon/AIHouse/internal/lore"
	"github.com/Corphon/AIHouse/internal/narrative"
	"github.com/Corphon/AIHouse/internal/reflector"
)

// ChatContext 一次角色发言所需的上下文
type ChatContext struct {
	SceneContext string   `json:"scene_context"`
	ArcContext   string   `json:"arc_context"`
	ArcID        string   `json:"arc_id,omitempty"`
	PhaseID      string   `json:"phase_id,omitempty"`
	CoreDream    string   `json:"core_dream,omitempty"`
	Traits       []string `json:"traits,omitempty"`
	Law          string   `json:"law"`
	UserMessage  string   `json:"user_message"`
}

// ContextBuilder 汇总场景、剧情弧与设定，只读取各组件的副本
type ContextBuilder struct {
	reflector *reflector.Reflector
	registry  *narrative.Registry
	lore      *lore.Engine
}

// NewContextBuilder 创建上下文构建器，lore 可以为 nil
func NewContextBuilder(r *reflector.Reflector, reg *narrative.Registry, engine *lore.Engine) *ContextBuilder {
	return &ContextBuilder{reflector: r, registry: reg, lore: engine}
}

// BuildContext characterID 为空时场景上下文取当前摘要文本，且不读取角色设定
func (b *ContextBuilder) BuildContext(characterID, userMessage string) ChatContext {
	ctx := ChatContext{UserMessage: userMessage}

	if characterID != "" {
		ctx.SceneContext = b.reflector.SceneContextFor(characterID)
	} else if summary, ok := b.reflector.CurrentSummary(); ok {
		ctx.SceneContext = summary.Summary
	}

	ctx.ArcContext = b.registry.CurrentArcContext()
	ctx.ArcID, ctx.PhaseID = ExtractArcPhase(ctx.ArcContext)

	if b.lore != nil {
		if characterID != "" {
			ctx.CoreDream, _ = b.lore.CoreDream(characterID)
			ctx.Traits, _ = b.lore.Traits(characterID)
		}
		ctx.Law = b.lore.LawOfEmergence()
	}
	return ctx
}

// ExtractArcPhase 读取第一个 arc_id:/phase_id: 标记
func ExtractArcPhase(arcContext string) (arcID, phaseID string) {
	return tokenAfter(arcContext, "arc_id:"), tokenAfter(arcContext, "phase_id:")
}

func tokenAfter(s, marker string) string {
	_, rest, ok := strings.Cut(s, marker)
	if !ok {
		return ""
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Prompt 拼成角色提示词
func (c ChatContext) Prompt() string {
	var b strings.Builder
	if c.SceneContext != "" {
		b.WriteString(c.SceneContext)
		b.WriteString("\n\n")
	}
	if c.ArcContext != "" {
		b.WriteString(c.ArcContext)
		b.WriteString("\n\n")
	}
	b.WriteString(c.UserMessage)
	return b.String()
}

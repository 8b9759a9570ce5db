// internal/narrative/phase.go
package narrative

import (
	"regexp"
	"strings"
	"time"
)

// PhaseStatus 阶段/剧情弧状态
type PhaseStatus string

const (
	StatusPending   PhaseStatus = "pending"
	StatusActive    PhaseStatus = "active"
	StatusCompleted PhaseStatus = "completed"
	// StatusFailed 保留的状态值，当前没有任何路径会设置它
	StatusFailed PhaseStatus = "failed"
)

// ArcContext 条件判断所用的场景上下文
type ArcContext struct {
	SceneContent     string   `json:"scene_content"`
	ActiveCharacters []string `json:"active_characters"`
}

// ArcPhase 剧情弧中的一个阶段
type ArcPhase struct {
	Name                 string        `json:"name" yaml:"name"`
	Description          string        `json:"description" yaml:"description"`
	Prompt               string        `json:"prompt" yaml:"prompt"`
	EntryConditions      []string      `json:"entry_conditions" yaml:"entry_conditions"`
	CompletionConditions []string      `json:"completion_conditions" yaml:"completion_conditions"`
	Duration             time.Duration `json:"duration" yaml:"duration"`
	RequiredCharacters   []string      `json:"required_characters" yaml:"required_characters"`
	Goals                []string      `json:"goals" yaml:"goals"`

	Status    PhaseStatus `json:"status" yaml:"-"`
	StartTime time.Time   `json:"start_time,omitempty" yaml:"-"`
	EndTime   time.Time   `json:"end_time,omitempty" yaml:"-"`
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// ID 阶段名的 slug 形式，用于 arc context 中的 phase_id
func (p *ArcPhase) ID() string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(p.Name), "_"), "_")
}

// matchConditions 任一条件在场景文本中出现（不区分大小写），或等于某个活跃角色
func matchConditions(conditions []string, ctx ArcContext) bool {
	content := strings.ToLower(ctx.SceneContent)
	for _, cond := range conditions {
		if cond == "" {
			continue
		}
		if strings.Contains(content, strings.ToLower(cond)) {
			return true
		}
		for _, c := range ctx.ActiveCharacters {
			if c == cond {
				return true
			}
		}
	}
	return false
}

// CanStart 无入场条件，或任一条件命中
func (p *ArcPhase) CanStart(ctx ArcContext) bool {
	if len(p.EntryConditions) == 0 {
		return true
	}
	return matchConditions(p.EntryConditions, ctx)
}

// CanComplete 无完成条件时按持续时间判断；否则任一条件命中即可，忽略持续时间
func (p *ArcPhase) CanComplete(ctx ArcContext, now time.Time) bool {
	if len(p.CompletionConditions) == 0 {
		if p.StartTime.IsZero() {
			return false
		}
		return now.Sub(p.StartTime) >= p.Duration
	}
	return matchConditions(p.CompletionConditions, ctx)
}

// Start 进入 active
func (p *ArcPhase) Start(now time.Time) {
	p.Status = StatusActive
	p.StartTime = now
	p.EndTime = time.Time{}
}

// Complete 进入 completed
func (p *ArcPhase) Complete(now time.Time) {
	p.Status = StatusCompleted
	p.EndTime = now
}

func (p *ArcPhase) reset() {
	p.Status = StatusPending
	p.StartTime = time.Time{}
	p.EndTime = time.Time{}
}

func (p ArcPhase) clone() ArcPhase {
	c := p
	c.EntryConditions = append([]string(nil), p.EntryConditions...)
	c.CompletionConditions = append([]string(nil), p.CompletionConditions...)
	c.RequiredCharacters = append([]string(nil), p.RequiredCharacters...)
	c.Goals = append([]string(nil), p.Goals...)
	return c
}

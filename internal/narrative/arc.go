// internal/narrative/arc.go
package narrative

import (
	"fmt"
	"strings"
	"time"
)

// NarrativeArc 由多个阶段串行组成的剧情弧，只通过自身方法修改状态。
// 非并发安全，由 Registry 加锁。
type NarrativeArc struct {
	ArcID       string     `json:"arc_id" yaml:"arc_id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description" yaml:"description"`
	ArcType     string     `json:"arc_type" yaml:"arc_type"`
	Phases      []ArcPhase `json:"phases" yaml:"phases"`

	Status            PhaseStatus `json:"status" yaml:"-"`
	CurrentPhaseIndex int         `json:"current_phase_index" yaml:"-"`
	CompletedPhases   []string    `json:"completed_phases" yaml:"-"`
	StartTime         time.Time   `json:"start_time,omitempty" yaml:"-"`
	EndTime           time.Time   `json:"end_time,omitempty" yaml:"-"`
}

// NewArc 构造处于 pending 的剧情弧
func NewArc(id, title, description string, phases ...ArcPhase) *NarrativeArc {
	a := &NarrativeArc{
		ArcID:       id,
		Title:       title,
		Description: description,
		ArcType:     "storyline",
		Phases:      phases,
	}
	a.normalize()
	return a
}

func (a *NarrativeArc) normalize() {
	if a.ArcType == "" {
		a.ArcType = "storyline"
	}
	a.Status = StatusPending
	a.CurrentPhaseIndex = 0
	a.CompletedPhases = []string{}
	for i := range a.Phases {
		a.Phases[i].reset()
	}
}

// CurrentPhase 当前阶段，全部完成后返回 nil
func (a *NarrativeArc) CurrentPhase() *ArcPhase {
	if a.CurrentPhaseIndex >= 0 && a.CurrentPhaseIndex < len(a.Phases) {
		return &a.Phases[a.CurrentPhaseIndex]
	}
	return nil
}

// CanStart 由第一个阶段的入场条件决定
func (a *NarrativeArc) CanStart(ctx ArcContext) bool {
	if len(a.Phases) == 0 {
		return false
	}
	return a.Phases[0].CanStart(ctx)
}

// Start 激活剧情弧并开始第一个阶段。已完成的剧情弧可重新开始，阶段重置为 pending。
func (a *NarrativeArc) Start(now time.Time) {
	for i := range a.Phases {
		a.Phases[i].reset()
	}
	a.Status = StatusActive
	a.StartTime = now
	a.EndTime = time.Time{}
	a.CurrentPhaseIndex = 0
	a.CompletedPhases = []string{}
	if len(a.Phases) > 0 {
		a.Phases[0].Start(now)
	}
}

// Update 推进状态，返回转场描述；非 active 时为空操作
func (a *NarrativeArc) Update(ctx ArcContext, now time.Time) (string, bool) {
	if a.Status != StatusActive {
		return "", false
	}

	current := a.CurrentPhase()
	if current == nil {
		a.complete(now)
		return fmt.Sprintf("🎭 Arc completed: %s", a.Title), true
	}
	if !current.CanComplete(ctx, now) {
		return "", false
	}

	current.Complete(now)
	a.CompletedPhases = append(a.CompletedPhases, current.Name)
	a.CurrentPhaseIndex++

	if next := a.CurrentPhase(); next != nil {
		next.Start(now)
		return fmt.Sprintf("🎬 Phase transition: %s → %s", current.Name, next.Name), true
	}
	a.complete(now)
	return fmt.Sprintf("🎭 Arc completed: %s", a.Title), true
}

func (a *NarrativeArc) complete(now time.Time) {
	a.Status = StatusCompleted
	a.EndTime = now
}

// Context 供提示词使用的文本上下文，首行带机器可读的 arc_id/phase_id
func (a *NarrativeArc) Context() string {
	phase := a.CurrentPhase()
	if phase == nil || a.Status == StatusCompleted {
		return fmt.Sprintf("Arc '%s' has completed.", a.Title)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "arc_id:%s phase_id:%s\n", a.ArcID, phase.ID())
	fmt.Fprintf(&b, "Current arc: %s\n", a.Title)
	fmt.Fprintf(&b, "Current phase: %s\n", phase.Name)
	fmt.Fprintf(&b, "Phase description: %s\n", phase.Description)
	fmt.Fprintf(&b, "Phase goals: %s", strings.Join(phase.Goals, ", "))
	return b.String()
}

// Clone 深拷贝，对外暴露时使用
func (a *NarrativeArc) Clone() *NarrativeArc {
	c := *a
	c.CompletedPhases = append([]string{}, a.CompletedPhases...)
	c.Phases = make([]ArcPhase, len(a.Phases))
	for i, p := range a.Phases {
		c.Phases[i] = p.clone()
	}
	return &c
}

// ArcStatus 列表用的精简状态
type ArcStatus struct {
	ArcID             string      `json:"arc_id"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	Status            PhaseStatus `json:"status"`
	Active            bool        `json:"active"`
	CurrentPhaseIndex int         `json:"current_phase_index"`
	CurrentPhase      string      `json:"current_phase,omitempty"`
	CompletedPhases   []string    `json:"completed_phases"`
	PhaseCount        int         `json:"phase_count"`
}

func (a *NarrativeArc) status(active bool) ArcStatus {
	s := ArcStatus{
		ArcID:             a.ArcID,
		Title:             a.Title,
		Description:       a.Description,
		Status:            a.Status,
		Active:            active,
		CurrentPhaseIndex: a.CurrentPhaseIndex,
		CompletedPhases:   append([]string{}, a.CompletedPhases...),
		PhaseCount:        len(a.Phases),
	}
	if p := a.CurrentPhase(); p != nil {
		s.CurrentPhase = p.Name
	}
	return s
}

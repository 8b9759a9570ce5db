// internal/narrative/registry.go
package narrative

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/AIHouse/internal/lore"
	"github.com/Corphon/AIHouse/internal/utils"
)

// EventKind 注册表事件类别
type EventKind string

const (
	EventArcActivated        EventKind = "arc_activated"
	EventPhaseTransition     EventKind = "phase_transition"
	EventArcCompleted        EventKind = "arc_completed"
	EventScenarioActivated   EventKind = "scenario_activated"
	EventScenarioDeactivated EventKind = "scenario_deactivated"
	EventScenarioExecuted    EventKind = "scenario_executed"
)

// Event 剧情状态变化
type Event struct {
	Kind       EventKind `json:"kind"`
	ArcID      string    `json:"arc_id,omitempty"`
	ScenarioID string    `json:"scenario_id,omitempty"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Option 注册表选项
type Option func(*Registry)

// WithClock 替换时钟
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithLore 绑定设定引擎，提供正典剧情钩子
func WithLore(engine *lore.Engine) Option {
	return func(r *Registry) { r.lore = engine }
}

// Registry 独占剧情弧与剧本集合，所有修改经由公开方法。
// 未知 id 返回 false 或带错误信息的结果，不会 panic。
type Registry struct {
	mu sync.RWMutex

	arcs       map[string]*NarrativeArc
	arcOrder   []string
	activeArcs []string
	arcHistory []Event

	scenarios       map[string]*Scenario
	scenarioOrder   []string
	activeScenarios []string
	scenarioHistory []ScenarioRun

	lore  *lore.Engine
	clock func() time.Time

	hookMu sync.RWMutex
	hooks  []func(Event)

	logger  *utils.Logger
	metrics *utils.ShowMetrics
}

// NewRegistry 创建空注册表
func NewRegistry(logger *utils.Logger, metrics *utils.ShowMetrics, opts ...Option) *Registry {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	r := &Registry{
		arcs:      make(map[string]*NarrativeArc),
		scenarios: make(map[string]*Scenario),
		clock:     time.Now,
		logger:    logger,
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRegistryFromCatalog 用目录填充注册表
func NewRegistryFromCatalog(cat *Catalog, logger *utils.Logger, metrics *utils.ShowMetrics, opts ...Option) *Registry {
	r := NewRegistry(logger, metrics, opts...)
	if cat == nil {
		return r
	}
	for _, a := range cat.Arcs {
		r.AddArc(a.Clone())
	}
	for _, s := range cat.Scenarios {
		r.AddScenario(s.clone())
	}
	return r
}

// OnEvent 注册事件回调，回调在锁外调用
func (r *Registry) OnEvent(fn func(Event)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *Registry) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	r.hookMu.RLock()
	hooks := slices.Clone(r.hooks)
	r.hookMu.RUnlock()
	for _, ev := range events {
		for _, fn := range hooks {
			fn(ev)
		}
	}
}

// ---------- 剧情弧 ----------

// AddArc 添加或替换剧情弧
func (r *Registry) AddArc(arc *NarrativeArc) {
	if arc == nil || arc.ArcID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.arcs[arc.ArcID]; !exists {
		r.arcOrder = append(r.arcOrder, arc.ArcID)
	}
	r.arcs[arc.ArcID] = arc
	r.logger.Debug("📝 添加剧情弧", map[string]interface{}{"arc_id": arc.ArcID, "title": arc.Title})
}

// GetArc 剧情弧快照
func (r *Registry) GetArc(arcID string) (*NarrativeArc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.arcs[arcID]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// AllArcs 按添加顺序返回全部剧情弧快照
func (r *Registry) AllArcs() []*NarrativeArc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*NarrativeArc, 0, len(r.arcOrder))
	for _, id := range r.arcOrder {
		out = append(out, r.arcs[id].Clone())
	}
	return out
}

// ActiveArcs 激活中的剧情弧快照
func (r *Registry) ActiveArcs() []*NarrativeArc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*NarrativeArc, 0, len(r.activeArcs))
	for _, id := range r.activeArcs {
		out = append(out, r.arcs[id].Clone())
	}
	return out
}

func (r *Registry) isArcActiveLocked(arcID string) bool {
	for _, id := range r.activeArcs {
		if id == arcID {
			return true
		}
	}
	return false
}

// IsArcActive 是否激活
func (r *Registry) IsArcActive(arcID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isArcActiveLocked(arcID)
}

// CheckArcTriggers 返回当前未激活、且第一个阶段可由该消息启动的剧情弧。
// 已完成的剧情弧同样可以再次触发，激活时阶段重置。
func (r *Registry) CheckArcTriggers(message, speaker string) []*NarrativeArc {
	ctx := ArcContext{SceneContent: message}
	if speaker != "" {
		ctx.ActiveCharacters = []string{speaker}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*NarrativeArc
	for _, id := range r.arcOrder {
		arc := r.arcs[id]
		if r.isArcActiveLocked(id) {
			continue
		}
		if arc.CanStart(ctx) {
			out = append(out, arc.Clone())
		}
	}
	return out
}

// ActivateNarrativeArc 激活并开始剧情弧；未知或已激活时返回 false
func (r *Registry) ActivateNarrativeArc(arcID string) bool {
	r.mu.Lock()
	arc, ok := r.arcs[arcID]
	if !ok || r.isArcActiveLocked(arcID) {
		r.mu.Unlock()
		return false
	}
	now := r.clock()
	arc.Start(now)
	r.activeArcs = append(r.activeArcs, arcID)
	ev := Event{
		Kind:      EventArcActivated,
		ArcID:     arcID,
		Message:   fmt.Sprintf("🎭 Narrative arc started: %s", arc.Title),
		Timestamp: now,
	}
	r.arcHistory = append(r.arcHistory, ev)
	r.mu.Unlock()

	r.logger.Info("🎭 剧情弧已激活", map[string]interface{}{"arc_id": arcID, "title": arc.Title})
	r.emit([]Event{ev})
	return true
}

// UpdateNarrativeArcs 推进所有激活的剧情弧，返回转场描述，并移出已完成的剧情弧
func (r *Registry) UpdateNarrativeArcs(ctx ArcContext) []string {
	r.mu.Lock()
	now := r.clock()
	var (
		messages []string
		events   []Event
		still    = make([]string, 0, len(r.activeArcs))
	)
	for _, id := range r.activeArcs {
		arc := r.arcs[id]
		if msg, changed := arc.Update(ctx, now); changed {
			messages = append(messages, msg)
			kind := EventPhaseTransition
			if arc.Status == StatusCompleted {
				kind = EventArcCompleted
			}
			events = append(events, Event{Kind: kind, ArcID: id, Message: msg, Timestamp: now})
		}
		if arc.Status != StatusCompleted {
			still = append(still, id)
		}
	}
	r.activeArcs = still
	r.arcHistory = append(r.arcHistory, events...)
	r.mu.Unlock()

	for _, ev := range events {
		r.metrics.ArcTransition()
		r.logger.Info(ev.Message, map[string]interface{}{"arc_id": ev.ArcID, "kind": string(ev.Kind)})
	}
	r.emit(events)
	return messages
}

// CurrentArcContext 拼接全部激活剧情弧的上下文，无激活时为空串
func (r *Registry) CurrentArcContext() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	parts := make([]string, 0, len(r.activeArcs))
	for _, id := range r.activeArcs {
		parts = append(parts, r.arcs[id].Context())
	}
	return strings.Join(parts, "\n\n")
}

// ArcStatuses 全部剧情弧的状态列表
func (r *Registry) ArcStatuses() []ArcStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ArcStatus, 0, len(r.arcOrder))
	for _, id := range r.arcOrder {
		out = append(out, r.arcs[id].status(r.isArcActiveLocked(id)))
	}
	return out
}

// ArcHistory 剧情弧激活与转场历史
func (r *Registry) ArcHistory() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event{}, r.arcHistory...)
}

// LoreArcs 设定文件中的正典剧情钩子，与目录剧情弧并存
func (r *Registry) LoreArcs() []lore.Arc {
	if r.lore == nil {
		return []lore.Arc{}
	}
	return r.lore.Arcs()
}

// LoreArc 按标题查找正典剧情钩子
func (r *Registry) LoreArc(title string) (lore.Arc, bool) {
	if r.lore == nil {
		return lore.Arc{}, false
	}
	return r.lore.Arc(title)
}

// WorldContext 世界观概要
func (r *Registry) WorldContext() lore.WorldContext {
	if r.lore == nil {
		return lore.WorldContext{}
	}
	return r.lore.WorldContext()
}

// ---------- 剧本 ----------

// AddScenario 添加或替换剧本
func (r *Registry) AddScenario(s *Scenario) {
	if s == nil || s.ScenarioID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.clock()
	}
	if _, exists := r.scenarios[s.ScenarioID]; !exists {
		r.scenarioOrder = append(r.scenarioOrder, s.ScenarioID)
	}
	r.scenarios[s.ScenarioID] = s
	r.logger.Debug("📝 添加剧本", map[string]interface{}{"scenario_id": s.ScenarioID, "title": s.Title})
}

// GetScenario 剧本快照
func (r *Registry) GetScenario(scenarioID string) (*Scenario, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenarios[scenarioID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// AllScenarios 全部剧本快照
func (r *Registry) AllScenarios() []*Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Scenario, 0, len(r.scenarioOrder))
	for _, id := range r.scenarioOrder {
		out = append(out, r.scenarios[id].clone())
	}
	return out
}

// ActiveScenarios 激活中的剧本快照
func (r *Registry) ActiveScenarios() []*Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Scenario, 0, len(r.activeScenarios))
	for _, id := range r.activeScenarios {
		out = append(out, r.scenarios[id].clone())
	}
	return out
}

func (r *Registry) scenarioActiveIndex(id string) int {
	for i, v := range r.activeScenarios {
		if v == id {
			return i
		}
	}
	return -1
}

// ActivateScenario 激活剧本；未知或已激活时返回 false
func (r *Registry) ActivateScenario(scenarioID string) bool {
	r.mu.Lock()
	s, ok := r.scenarios[scenarioID]
	if !ok || r.scenarioActiveIndex(scenarioID) >= 0 {
		r.mu.Unlock()
		return false
	}
	r.activeScenarios = append(r.activeScenarios, scenarioID)
	ev := Event{Kind: EventScenarioActivated, ScenarioID: scenarioID,
		Message: fmt.Sprintf("🎬 Activated scenario: %s", s.Title), Timestamp: r.clock()}
	r.mu.Unlock()

	r.logger.Info(ev.Message, map[string]interface{}{"scenario_id": scenarioID})
	r.emit([]Event{ev})
	return true
}

// DeactivateScenario 停用剧本；未激活时返回 false
func (r *Registry) DeactivateScenario(scenarioID string) bool {
	r.mu.Lock()
	idx := r.scenarioActiveIndex(scenarioID)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	r.activeScenarios = append(r.activeScenarios[:idx], r.activeScenarios[idx+1:]...)
	ev := Event{Kind: EventScenarioDeactivated, ScenarioID: scenarioID,
		Message: fmt.Sprintf("⏸️ Deactivated scenario: %s", r.scenarios[scenarioID].Title), Timestamp: r.clock()}
	r.mu.Unlock()

	r.logger.Info(ev.Message, map[string]interface{}{"scenario_id": scenarioID})
	r.emit([]Event{ev})
	return true
}

// ExecuteScenario 一次性执行，返回剧本供调用方演出。
// 未知或已执行时返回带 Error 的结果。
func (r *Registry) ExecuteScenario(scenarioID string) ExecutionResult {
	r.mu.Lock()
	s, ok := r.scenarios[scenarioID]
	if !ok {
		r.mu.Unlock()
		return ExecutionResult{ScenarioID: scenarioID, Error: fmt.Sprintf("Scenario %s not found", scenarioID)}
	}
	if s.Executed {
		r.mu.Unlock()
		return ExecutionResult{ScenarioID: scenarioID, Executed: true,
			Error: fmt.Sprintf("Scenario %s already executed", scenarioID)}
	}

	now := r.clock()
	s.Executed = true
	s.ExecutedAt = now
	script := append([]ScriptLine(nil), s.Script...)
	r.scenarioHistory = append(r.scenarioHistory, ScenarioRun{
		ScenarioID: scenarioID,
		ExecutedAt: now,
		Script:     script,
	})
	result := ExecutionResult{
		ScenarioID: scenarioID,
		Title:      s.Title,
		Script:     script,
		Characters: append([]string(nil), s.Characters...),
		Executed:   true,
	}
	ev := Event{Kind: EventScenarioExecuted, ScenarioID: scenarioID,
		Message: fmt.Sprintf("🎭 Executing scenario: %s", s.Title), Timestamp: now}
	r.mu.Unlock()

	r.metrics.ScenarioExecuted()
	r.logger.Info(ev.Message, map[string]interface{}{"scenario_id": scenarioID, "lines": len(script)})
	r.emit([]Event{ev})
	return result
}

// CheckTriggers 返回激活、未执行、包含该角色且触发词命中的剧本
func (r *Registry) CheckTriggers(message, speaker string) []*Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Scenario
	for _, id := range r.activeScenarios {
		s := r.scenarios[id]
		if s.Executed || !s.Involves(speaker) {
			continue
		}
		if s.Matches(message) {
			out = append(out, s.clone())
		}
	}
	return out
}

// ScenarioHistory 执行历史
func (r *Registry) ScenarioHistory() []ScenarioRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ScenarioRun{}, r.scenarioHistory...)
}

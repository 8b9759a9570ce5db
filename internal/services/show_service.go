// internal/services/show_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Corphon/AIHouse/internal/bus"
	"github.com/Corphon/AIHouse/internal/cast"
	"github.com/Corphon/AIHouse/internal/config"
	apperrors "github.com/Corphon/AIHouse/internal/errors"
	"github.com/Corphon/AIHouse/internal/lore"
	"github.com/Corphon/AIHouse/internal/models"
	"github.com/Corphon/AIHouse/internal/narrative"
	"github.com/Corphon/AIHouse/internal/reflector"
	"github.com/Corphon/AIHouse/internal/storage"
	"github.com/Corphon/AIHouse/internal/utils"
)

// ShowDeps ShowService 的依赖，由 app 组装后显式传入
type ShowDeps struct {
	Config    config.ShowConfig
	Reflector *reflector.Reflector
	Registry  *narrative.Registry
	Bus       *bus.Bus
	Speaker   cast.Speaker
	Lore      *lore.Engine
	Store     *storage.FileStorage
	Logger    *utils.Logger
	Metrics   *utils.ShowMetrics
}

type castMember struct {
	resident      *cast.Resident
	initializedAt time.Time
}

// ChatResult 一次用户发言的处理结果
type ChatResult struct {
	models.ChatResponse
	MessageID          string   `json:"message_id"`
	TriggeredScenarios []string `json:"triggered_scenarios"`
	ActivatedArcs      []string `json:"activated_arcs"`
	Transitions        []string `json:"transitions"`
	Fallback           bool     `json:"fallback"`
}

// AgentResult 直接调用某个角色的结果，失败时 Success 为 false 且不返回错误
type AgentResult struct {
	AgentID   string `json:"agent_id"`
	Response  string `json:"response,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// ShowStatus 节目整体状态
type ShowStatus struct {
	Characters      []string          `json:"characters"`
	Scene           models.SceneStats `json:"scene"`
	ActiveArcs      []string          `json:"active_arcs"`
	ActiveScenarios []string          `json:"active_scenarios"`
	Summarizer      string            `json:"summarizer"`
	Subscribers     int               `json:"subscribers"`
}

// ShowService 编排角色发言、剧本演出与剧情推进。
// 场景状态归 Reflector，剧情状态归 Registry，这里只持有角色表。
type ShowService struct {
	cfg       config.ShowConfig
	reflector *reflector.Reflector
	registry  *narrative.Registry
	bus       *bus.Bus
	speaker   cast.Speaker
	lore      *lore.Engine
	store     *storage.FileStorage
	contexts  *ContextBuilder
	turns     *TurnLocks

	mu   sync.RWMutex
	cast map[string]*castMember

	// 后台剧本演出；bgMu 保证 Shutdown 开始后不再 Add
	bgMu     sync.Mutex
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	// wait 剧本台词间的延迟，测试可替换
	wait func(ctx context.Context, d time.Duration) error

	logger  *utils.Logger
	metrics *utils.ShowMetrics
}

// NewShowService 创建节目服务，并注册为反射器观察者与注册表事件钩子
func NewShowService(deps ShowDeps) *ShowService {
	if deps.Logger == nil {
		deps.Logger = utils.NewNopLogger()
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	s := &ShowService{
		cfg:       deps.Config,
		reflector: deps.Reflector,
		registry:  deps.Registry,
		bus:       deps.Bus,
		speaker:   deps.Speaker,
		lore:      deps.Lore,
		store:     deps.Store,
		contexts:  NewContextBuilder(deps.Reflector, deps.Registry, deps.Lore),
		turns:     NewTurnLocks(),
		cast:      make(map[string]*castMember),
		bgCtx:     bgCtx,
		bgCancel:  cancel,
		wait:      sleepCtx,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
	s.reflector.AddObserver(s)
	s.registry.OnEvent(s.onNarrativeEvent)
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Contexts 上下文构建器
func (s *ShowService) Contexts() *ContextBuilder { return s.contexts }

// ---------- 角色 ----------

// InitCharacter 初始化角色，已初始化时直接返回状态
func (s *ShowService) InitCharacter(characterID string) (models.CharacterStatus, error) {
	id := models.NormalizeSpeaker(characterID)

	s.mu.Lock()
	member, ok := s.cast[id]
	if !ok {
		resident, err := cast.New(id, s.speaker,
			cast.WithLore(s.lore),
			cast.WithLogger(s.logger.With(map[string]interface{}{"character": id})),
		)
		if err != nil {
			s.mu.Unlock()
			return models.CharacterStatus{}, err
		}
		member = &castMember{resident: resident, initializedAt: time.Now()}
		s.cast[id] = member
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Info("🎬 角色已入住", map[string]interface{}{"character": id})
	}
	return statusOf(id, member), nil
}

func statusOf(id string, m *castMember) models.CharacterStatus {
	return models.CharacterStatus{
		CharacterID:   id,
		Status:        "active",
		Mood:          m.resident.Mood(),
		Persona:       m.resident.Persona(),
		InitializedAt: m.initializedAt,
		MemorySize:    m.resident.MemorySize(),
	}
}

// Characters 全部可用角色设定
func (s *ShowService) Characters() []models.Persona {
	return cast.Personas()
}

// CharacterStatus 已初始化角色的状态
func (s *ShowService) CharacterStatus(characterID string) (models.CharacterStatus, error) {
	id := models.NormalizeSpeaker(characterID)
	s.mu.RLock()
	member, ok := s.cast[id]
	s.mu.RUnlock()
	if !ok {
		return models.CharacterStatus{}, apperrors.NewNotFoundError(fmt.Sprintf("角色 %s 未初始化", id), nil)
	}
	return statusOf(id, member), nil
}

// initialized 已初始化角色 id，按名称排序
func (s *ShowService) initialized() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.cast))
	for id := range s.cast {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// member 获取角色，已知但未初始化的角色自动初始化
func (s *ShowService) member(characterID string) (*castMember, error) {
	id := models.NormalizeSpeaker(characterID)
	s.mu.RLock()
	m, ok := s.cast[id]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}
	if _, err := s.InitCharacter(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cast[id], nil
}

// ---------- 对话 ----------

// SendMessage 处理用户对某个角色的发言
func (s *ShowService) SendMessage(ctx context.Context, characterID, content string) (*ChatResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError("消息内容不能为空", nil)
	}
	member, err := s.member(characterID)
	if err != nil {
		return nil, err
	}
	id := member.resident.ID()

	ctx, span := otel.Tracer("aihouse/show").Start(ctx, "show.send_message")
	defer span.End()
	span.SetAttributes(attribute.String("character", id))

	// 1. 记录用户发言
	s.reflector.AddMessage(ctx, models.UserSpeaker, content, models.MessageTypeUser)

	result := &ChatResult{
		TriggeredScenarios: []string{},
		ActivatedArcs:      []string{},
		Transitions:        []string{},
	}

	// 2. 剧本触发
	for _, sc := range s.registry.CheckTriggers(content, id) {
		if exec := s.registry.ExecuteScenario(sc.ScenarioID); exec.OK() && s.playInBackground(exec) {
			result.TriggeredScenarios = append(result.TriggeredScenarios, sc.ScenarioID)
		}
	}

	// 3. 剧情弧触发与推进
	result.merge(s.advanceArcs(content, id))

	// 4. 角色回应，回应本身同样推进剧情弧
	reply, fallback, err := s.takeTurn(ctx, member, content)
	if err != nil {
		return nil, err
	}
	msg, progress := s.deliver(ctx, id, reply, models.MessageTypeAI, 0)
	result.merge(progress)

	result.ChatResponse = models.ChatResponse{
		Character: id,
		Response:  reply,
		Mood:      member.resident.Mood(),
		Timestamp: msg.Timestamp,
	}
	result.MessageID = msg.ID
	result.Fallback = fallback
	span.SetAttributes(attribute.Bool("fallback", fallback))
	return result, nil
}

// arcProgress 一条发言引起的剧情弧激活与转场
type arcProgress struct {
	Activated   []string
	Transitions []string
}

func (r *ChatResult) merge(p arcProgress) {
	r.ActivatedArcs = append(r.ActivatedArcs, p.Activated...)
	r.Transitions = append(r.Transitions, p.Transitions...)
}

// advanceArcs 对一条发言做剧情弧触发检查（按配置自动激活），再推进所有激活的剧情弧。
// speaker 计入在场角色。
func (s *ShowService) advanceArcs(content, speaker string) arcProgress {
	var p arcProgress
	for _, arc := range s.registry.CheckArcTriggers(content, speaker) {
		if !s.cfg.AutoActivateArcs {
			s.logger.Debug("剧情弧可触发但未自动激活", map[string]interface{}{"arc_id": arc.ArcID})
			continue
		}
		if s.registry.ActivateNarrativeArc(arc.ArcID) {
			p.Activated = append(p.Activated, arc.ArcID)
		}
	}
	p.Transitions = s.registry.UpdateNarrativeArcs(narrative.ArcContext{
		SceneContent:     content,
		ActiveCharacters: withMember(s.reflector.ActiveCharacters(), speaker),
	})
	return p
}

func withMember(ids []string, id string) []string {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

// takeTurn 在角色锁内生成回应；LLM 失败时降级为设定台词
func (s *ShowService) takeTurn(ctx context.Context, m *castMember, prompt string) (string, bool, error) {
	var (
		reply    string
		fallback bool
	)
	err := s.turns.Do(m.resident.ID(), func() error {
		if err := ctx.Err(); err != nil {
			return apperrors.NewTimeoutError("请求已取消", err)
		}
		cc := s.contexts.BuildContext(m.resident.ID(), prompt)
		content, err := m.resident.Think(ctx, cc.Prompt())
		if err != nil {
			reply, fallback = m.resident.CannedLine(), true
			return nil
		}
		reply = models.NormalizeContent(content)
		return nil
	})
	return reply, fallback, err
}

// deliver 把角色发言写入日志（点名时转交），推进剧情弧，再以已编排消息广播给总线订阅者
func (s *ShowService) deliver(ctx context.Context, speaker, content string, msgType models.MessageType, hops int) (models.Message, arcProgress) {
	ex := bus.Exchange{
		Source:  speaker,
		Content: content,
		Type:    bus.ExchangeText,
		Metadata: bus.Metadata{
			Hops:  hops,
			Extra: map[string]interface{}{reflector.MetaMessageType: string(msgType)},
		},
	}
	msg, _ := s.reflector.Ingest(ctx, s.bus, ex, s.cfg.MaxHandoffHops)
	progress := s.advanceArcs(content, speaker)
	if s.bus == nil {
		return msg, progress
	}

	fanout := ex
	fanout.Metadata = bus.Metadata{
		Orchestrated: true,
		Hops:         hops,
		Extra: map[string]interface{}{
			reflector.MetaMessageType: string(msgType),
			"message_id":              msg.ID,
		},
	}
	if err := s.bus.Publish(ctx, bus.CharacterTopic(speaker), fanout); err != nil {
		s.logger.Debug("总线广播失败", map[string]interface{}{"speaker": speaker, "error": err.Error()})
	}
	return msg, progress
}

// RouteMessageToAgent 直接让某个角色思考一条消息，不写入场景日志
func (s *ShowService) RouteMessageToAgent(ctx context.Context, agentID, message string, extra map[string]interface{}) AgentResult {
	start := time.Now()
	result := AgentResult{AgentID: models.NormalizeSpeaker(agentID)}

	member, err := s.member(agentID)
	if err != nil {
		result.Error = err.Error()
		result.ElapsedMs = time.Since(start).Milliseconds()
		return result
	}

	prompt := message
	if len(extra) > 0 {
		keys := make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, extra[k]))
		}
		prompt = fmt.Sprintf("%s\n\nContext: %s", message, strings.Join(parts, ", "))
	}

	var reply models.Content
	err = s.turns.Do(member.resident.ID(), func() error {
		var thinkErr error
		reply, thinkErr = member.resident.Think(ctx, prompt)
		return thinkErr
	})
	result.ElapsedMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Response = models.NormalizeContent(reply)
	result.Success = true
	return result
}

// ChatHistory 最近 limit 条消息，limit<=0 时返回全部
func (s *ShowService) ChatHistory(limit int) []models.Message {
	if limit <= 0 {
		return s.reflector.Log()
	}
	return s.reflector.Tail(limit)
}

// Status 节目状态
func (s *ShowService) Status() ShowStatus {
	st := ShowStatus{
		Characters:      s.initialized(),
		Scene:           s.reflector.Stats(),
		ActiveArcs:      []string{},
		ActiveScenarios: []string{},
		Summarizer:      s.reflector.Summarizer().Name(),
	}
	for _, a := range s.registry.ActiveArcs() {
		st.ActiveArcs = append(st.ActiveArcs, a.ArcID)
	}
	for _, sc := range s.registry.ActiveScenarios() {
		st.ActiveScenarios = append(st.ActiveScenarios, sc.ScenarioID)
	}
	if s.bus != nil {
		st.Subscribers = s.bus.SubscriberCount()
	}
	return st
}

// ---------- 观察者与事件 ----------

// OnMessage 场景消息进入每个角色的短期记忆，并推送给前端
func (s *ShowService) OnMessage(msg models.Message) {
	s.mu.RLock()
	members := make([]*castMember, 0, len(s.cast))
	for id, m := range s.cast {
		if id != msg.Speaker {
			members = append(members, m)
		}
	}
	s.mu.RUnlock()
	for _, m := range members {
		m.resident.LogMessage(msg.Speaker, msg.Type, msg.Content)
	}
	s.emit(models.EventMessage, msg)
}

// OnSummary 场景基调影响角色情绪
func (s *ShowService) OnSummary(summary models.SceneSummary) {
	s.mu.RLock()
	for _, m := range s.cast {
		m.resident.ObserveTone(summary.EmotionalTone)
	}
	s.mu.RUnlock()
	s.emit(models.EventSummary, summary)
}

func (s *ShowService) onNarrativeEvent(ev narrative.Event) {
	switch ev.Kind {
	case narrative.EventPhaseTransition, narrative.EventArcCompleted:
		s.emit(models.EventTransition, ev)
	case narrative.EventArcActivated:
		s.emit(models.EventArc, ev)
	default:
		s.emit(models.EventScenario, ev)
	}
}

// emit 向 show.event 发布事件，总线满时由总线丢弃
func (s *ShowService) emit(kind models.ShowEventType, payload interface{}) {
	if s.bus == nil {
		return
	}
	ev := models.ShowEvent{Type: kind, Payload: payload, Timestamp: time.Now()}
	_ = s.bus.Publish(context.Background(), bus.TopicShowEvent, bus.Exchange{
		Source:   "show",
		Content:  ev,
		Type:     bus.ExchangeEvent,
		Metadata: bus.Metadata{Orchestrated: true},
	})
}

// Shutdown 取消后台演出并等待结束
func (s *ShowService) Shutdown() {
	s.bgMu.Lock()
	s.bgCancel()
	s.bgMu.Unlock()
	s.bgWG.Wait()
}

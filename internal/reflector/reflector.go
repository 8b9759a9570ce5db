// internal/reflector/reflector.go
package reflector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/AIHouse/internal/config"
	"github.com/Corphon/AIHouse/internal/models"
	"github.com/Corphon/AIHouse/internal/utils"
)

// Options 反射器参数
type Options struct {
	MaxLogSize      int
	SummaryInterval int
	SummaryWindow   int
	SummaryHistory  int
	ActiveTTL       time.Duration
	ActiveCap       int
	// Clock 可替换时钟，测试用
	Clock func() time.Time
}

// OptionsFromConfig 从节目配置构造参数
func OptionsFromConfig(cfg config.ShowConfig) Options {
	return Options{
		MaxLogSize:      cfg.MaxLogSize,
		SummaryInterval: cfg.SummaryInterval,
		SummaryWindow:   cfg.SummaryWindow,
		SummaryHistory:  cfg.SummaryHistory,
		ActiveTTL:       cfg.ActiveTTL,
		ActiveCap:       cfg.ActiveCap,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxLogSize <= 0 {
		o.MaxLogSize = DefaultMaxLogSize
	}
	if o.SummaryInterval <= 0 {
		o.SummaryInterval = 1
	}
	if o.SummaryWindow <= 0 {
		o.SummaryWindow = 10
	}
	if o.SummaryWindow < o.SummaryInterval {
		o.SummaryWindow = o.SummaryInterval
	}
	if o.SummaryHistory <= 0 {
		o.SummaryHistory = DefaultSummaryHistory
	}
	if o.ActiveCap <= 0 {
		o.ActiveCap = 32
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Observer 接收消息与摘要通知，回调在锁外执行
type Observer interface {
	OnMessage(msg models.Message)
	OnSummary(summary models.SceneSummary)
}

// Reflector 共享场景状态：独占消息日志、摘要历史与活跃角色集合。
// 其他组件只通过方法读取副本。
type Reflector struct {
	mu            sync.RWMutex
	log           *MessageLog
	summaries     *SummaryStore
	active        *ActiveSet
	triggers      []string
	appended      int
	lastSummaryAt time.Time

	opts       Options
	summarizer Summarizer
	heuristic  Summarizer
	detector   Detector

	// 外部摘要器（LLM）在后台串行执行，积压的请求合并为一次
	async      bool
	sumMu      sync.Mutex
	sumRunning bool
	sumPending bool
	sumDone    chan struct{}

	obsMu     sync.RWMutex
	observers []Observer

	logger  *utils.Logger
	metrics *utils.ShowMetrics
}

// New 创建反射器。summarizer 为空时使用启发式策略。
func New(opts Options, summarizer Summarizer, detector Detector, logger *utils.Logger, metrics *utils.ShowMetrics) *Reflector {
	opts = opts.withDefaults()
	heuristic := NewHeuristicSummarizer()
	async := summarizer != nil
	if summarizer == nil {
		summarizer = heuristic
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Reflector{
		log:           NewMessageLog(opts.MaxLogSize),
		summaries:     NewSummaryStore(opts.SummaryHistory),
		active:        NewActiveSet(opts.ActiveTTL, opts.ActiveCap),
		lastSummaryAt: opts.Clock(),
		opts:          opts,
		summarizer:    summarizer,
		heuristic:     heuristic,
		detector:      detector,
		async:         async,
		logger:        logger,
		metrics:       metrics,
	}
}

// AddObserver 注册观察者
func (r *Reflector) AddObserver(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

// Summarizer 当前摘要策略
func (r *Reflector) Summarizer() Summarizer { return r.summarizer }

// AddMessage 追加一条消息。内容在此处统一文本化，从不拒绝输入。
// 每 SummaryInterval 条消息生成一次摘要。启发式摘要同步完成；
// 外部摘要器在后台执行，调用方不等待，摘要基于执行时的最新窗口。
func (r *Reflector) AddMessage(ctx context.Context, speaker string, content interface{}, msgType models.MessageType, triggers ...string) models.Message {
	if !msgType.Valid() {
		msgType = models.MessageTypeAI
	}
	speaker = models.NormalizeSpeaker(speaker)

	r.mu.Lock()
	now := r.opts.Clock()
	msg := models.Message{
		ID:        models.NewMessageID(),
		Timestamp: now,
		Speaker:   speaker,
		Content:   models.NormalizeContent(content),
		Type:      msgType,
	}
	if len(triggers) > 0 {
		msg.Triggers = append([]string(nil), triggers...)
	}

	r.log.Append(msg)
	if speaker != models.UserSpeaker && speaker != "" {
		r.active.Touch(speaker, now)
	}
	if len(triggers) > 0 {
		r.triggers = append(r.triggers, triggers...)
		if over := len(r.triggers) - MaxRecentTriggers; over > 0 {
			r.triggers = append([]string(nil), r.triggers[over:]...)
		}
	}
	r.appended++

	due := r.appended%r.opts.SummaryInterval == 0
	var (
		window  []models.Message
		members []string
		recent  []string
	)
	if due && !r.async {
		window = r.log.Tail(r.opts.SummaryWindow)
		members = r.active.Members(now)
		recent = append([]string{}, r.triggers...)
	}
	activeCount := len(r.active.Members(now))
	r.mu.Unlock()

	r.metrics.MessageIngested(string(msgType))
	r.metrics.SetActiveCharacters(activeCount)
	r.notifyMessage(msg)

	switch {
	case due && r.async:
		r.scheduleSummary(ctx)
	case due:
		r.generateSummary(ctx, window, members, recent)
	}
	return msg
}

// scheduleSummary 启动后台摘要；已有摘要在执行时只记一次待办
func (r *Reflector) scheduleSummary(ctx context.Context) {
	r.sumMu.Lock()
	defer r.sumMu.Unlock()
	if r.sumRunning {
		r.sumPending = true
		return
	}
	r.sumRunning = true
	r.sumDone = make(chan struct{})
	go r.runSummaries(context.WithoutCancel(ctx), r.sumDone)
}

func (r *Reflector) runSummaries(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		r.mu.Lock()
		now := r.opts.Clock()
		window := r.log.Tail(r.opts.SummaryWindow)
		members := r.active.Members(now)
		recent := append([]string{}, r.triggers...)
		r.mu.Unlock()

		r.generateSummary(ctx, window, members, recent)

		r.sumMu.Lock()
		if !r.sumPending {
			r.sumRunning = false
			r.sumMu.Unlock()
			return
		}
		r.sumPending = false
		r.sumMu.Unlock()
	}
}

// Flush 等待后台摘要全部完成
func (r *Reflector) Flush() {
	for {
		r.sumMu.Lock()
		if !r.sumRunning {
			r.sumMu.Unlock()
			return
		}
		done := r.sumDone
		r.sumMu.Unlock()
		<-done
	}
}

func (r *Reflector) generateSummary(ctx context.Context, window []models.Message, members, recent []string) {
	start := time.Now()
	res, err := r.summarizer.Summarize(ctx, window)
	if err != nil {
		r.logger.Warn("⚠️ 场景摘要失败，改用启发式策略", map[string]interface{}{
			"strategy": r.summarizer.Name(),
			"error":    err.Error(),
		})
		r.metrics.SummaryFallback("error")
		res, _ = r.heuristic.Summarize(ctx, window)
	}
	if res.Strategy == "" {
		res.Strategy = r.summarizer.Name()
	}
	if res.Theme == "" {
		res.Theme = DefaultTheme
	}
	if res.Tone == "" {
		res.Tone = DefaultTone
	}

	r.mu.Lock()
	now := r.opts.Clock()
	summary := models.SceneSummary{
		Summary:          res.Summary,
		Theme:            res.Theme,
		ActiveCharacters: members,
		EmotionalTone:    res.Tone,
		ToneScore:        ClampScore(res.ToneScore),
		RecentTriggers:   recent,
		Timestamp:        now,
		Strategy:         res.Strategy,
		MessageCount:     len(window),
	}
	r.summaries.Add(summary)
	r.lastSummaryAt = now
	r.mu.Unlock()

	r.metrics.SummaryGenerated(summary.Strategy, time.Since(start))
	r.logger.Debug("🎭 场景摘要已生成", map[string]interface{}{
		"summary":  utils.TruncateRunes(summary.Summary, 100),
		"theme":    summary.Theme,
		"tone":     summary.EmotionalTone,
		"strategy": summary.Strategy,
	})
	r.notifySummary(summary)
}

func (r *Reflector) snapshotObservers() []Observer {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	return append([]Observer(nil), r.observers...)
}

func (r *Reflector) notifyMessage(msg models.Message) {
	for _, o := range r.snapshotObservers() {
		o.OnMessage(msg)
	}
}

func (r *Reflector) notifySummary(summary models.SceneSummary) {
	for _, o := range r.snapshotObservers() {
		o.OnSummary(summary)
	}
}

// DetectAddressee 判断发言是否点名另一个角色
func (r *Reflector) DetectAddressee(speaker, content string) (string, bool) {
	if r.detector == nil {
		return "", false
	}
	return r.detector.Detect(speaker, content)
}

// CurrentSummary 最新场景摘要
func (r *Reflector) CurrentSummary() (models.SceneSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summaries.Current()
}

// Summaries 全部摘要历史
func (r *Reflector) Summaries() []models.SceneSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summaries.All()
}

// Log 完整日志副本
func (r *Reflector) Log() []models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.log.All()
}

// Tail 最近 n 条消息
func (r *Reflector) Tail(n int) []models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.log.Tail(n)
}

// ActiveCharacters 活跃角色
func (r *Reflector) ActiveCharacters() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active.Members(r.opts.Clock())
}

// RecentTriggers 最近触发词
func (r *Reflector) RecentTriggers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.triggers...)
}

// SceneContextFor 为角色格式化场景上下文
func (r *Reflector) SceneContextFor(characterID string) string {
	current, ok := r.CurrentSummary()
	if !ok {
		return "The scene is quiet with no recent activity."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current scene: %s\n", current.Summary)
	fmt.Fprintf(&b, "Discussion theme: %s\n", current.Theme)
	fmt.Fprintf(&b, "Active participants: %s\n", strings.Join(current.ActiveCharacters, ", "))
	fmt.Fprintf(&b, "Emotional tone: %s", current.EmotionalTone)
	if len(current.RecentTriggers) > 0 {
		fmt.Fprintf(&b, "\nRecent events: %s", strings.Join(current.RecentTriggers, ", "))
	}
	return b.String()
}

// Stats 场景统计
func (r *Reflector) Stats() models.SceneStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.SceneStats{
		TotalMessages:    r.log.Len(),
		ActiveCharacters: r.active.Members(r.opts.Clock()),
		RecentTriggers:   append([]string{}, r.triggers...),
		SummariesCount:   r.summaries.Len(),
		LastSummaryTime:  r.lastSummaryAt,
	}
}

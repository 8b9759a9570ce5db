// internal/reflector/reflector_test.go
package reflector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Corphon/AIHouse/internal/models"
	"github.com/Corphon/AIHouse/internal/utils"
)

type recordingObserver struct {
	mu        sync.Mutex
	messages  []models.Message
	summaries []models.SceneSummary
}

func (o *recordingObserver) OnMessage(msg models.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
}

func (o *recordingObserver) OnSummary(s models.SceneSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summaries = append(o.summaries, s)
}

// gatedSummarizer 在 gate 关闭前阻塞，记录每次调用的窗口大小
type gatedSummarizer struct {
	gate  chan struct{}
	mu    sync.Mutex
	sizes []int
}

func (g *gatedSummarizer) Name() string { return StrategyLLM }
func (g *gatedSummarizer) Summarize(_ context.Context, window []models.Message) (SummaryResult, error) {
	<-g.gate
	g.mu.Lock()
	g.sizes = append(g.sizes, len(window))
	g.mu.Unlock()
	return SummaryResult{Summary: "s", Theme: "t", Tone: "neutral"}, nil
}

type failingSummarizer struct{}

func (failingSummarizer) Name() string { return "broken" }
func (failingSummarizer) Summarize(context.Context, []models.Message) (SummaryResult, error) {
	return SummaryResult{}, errors.New("boom")
}

func newTestReflector(opts Options) *Reflector {
	return New(opts, nil, NewAddressingDetector(roster), nil, utils.NewShowMetrics(nil))
}

// TestEndToEndAestheticsSummary 两条消息、间隔为2时产生美学主题摘要
func TestEndToEndAestheticsSummary(t *testing.T) {
	r := newTestReflector(Options{SummaryInterval: 2})
	ctx := context.Background()

	r.AddMessage(ctx, "user", "Let's talk about beauty and art", models.MessageTypeUser)
	_, ok := r.CurrentSummary()
	assert.False(t, ok, "间隔未到不应生成摘要")

	r.AddMessage(ctx, "leo", "Yes! Beauty is everywhere", models.MessageTypeAI)
	summary, ok := r.CurrentSummary()
	require.True(t, ok)
	assert.Equal(t, "aesthetics", summary.Theme)
	assert.Contains(t, summary.Summary, "user")
	assert.Contains(t, summary.Summary, "leo")
	assert.Equal(t, []string{"leo"}, summary.ActiveCharacters)
	assert.Equal(t, 2, summary.MessageCount)
	assert.Equal(t, StrategyHeuristic, summary.Strategy)
}

func TestAddMessageNormalizesContent(t *testing.T) {
	r := newTestReflector(Options{})
	ctx := context.Background()

	r.AddMessage(ctx, "Emma", models.StructuredReply{Response: "I have an idea!"}, models.MessageTypeAI)
	r.AddMessage(ctx, "max", map[string]interface{}{"content": "from a map"}, "chat")
	r.AddMessage(ctx, "marvin", 3.5, models.MessageTypeAutonomous)

	log := r.Log()
	require.Len(t, log, 3)
	assert.Equal(t, "emma", log[0].Speaker)
	assert.Equal(t, "I have an idea!", log[0].Content)
	assert.Equal(t, "from a map", log[1].Content)
	assert.Equal(t, models.MessageTypeAI, log[1].Type, "未知类型归为 ai")
	assert.Equal(t, "3.5", log[2].Content)
	assert.NotEmpty(t, log[2].ID)
}

func TestUserNotActive(t *testing.T) {
	r := newTestReflector(Options{})
	ctx := context.Background()
	r.AddMessage(ctx, "user", "hello", models.MessageTypeUser)
	r.AddMessage(ctx, "max", "hi user", models.MessageTypeAI)
	assert.Equal(t, []string{"max"}, r.ActiveCharacters())
}

// TestRecentTriggersCapped 最近触发词最多保留5个
func TestRecentTriggersCapped(t *testing.T) {
	r := newTestReflector(Options{})
	ctx := context.Background()
	r.AddMessage(ctx, "system", "a", models.MessageTypeSystem, "t1", "t2", "t3")
	r.AddMessage(ctx, "system", "b", models.MessageTypeSystem, "t4", "t5", "t6", "t7")

	assert.Equal(t, []string{"t3", "t4", "t5", "t6", "t7"}, r.RecentTriggers())
	summary, ok := r.CurrentSummary()
	require.True(t, ok)
	assert.Equal(t, []string{"t3", "t4", "t5", "t6", "t7"}, summary.RecentTriggers)
}

// TestSummaryEveryMessage 默认每条消息都生成摘要，历史上限10
func TestSummaryEveryMessage(t *testing.T) {
	obs := &recordingObserver{}
	r := newTestReflector(Options{})
	r.AddObserver(obs)

	for i := 0; i < 12; i++ {
		r.AddMessage(context.Background(), "max", "hello there", models.MessageTypeAI)
	}
	assert.Len(t, r.Summaries(), 10)
	assert.Len(t, obs.messages, 12)
	assert.Len(t, obs.summaries, 12)

	stats := r.Stats()
	assert.Equal(t, 12, stats.TotalMessages)
	assert.Equal(t, 10, stats.SummariesCount)
	assert.Equal(t, []string{"max"}, stats.ActiveCharacters)
}

func TestSummaryWindowUsesTrailingMessages(t *testing.T) {
	r := newTestReflector(Options{SummaryWindow: 2})
	ctx := context.Background()
	r.AddMessage(ctx, "max", "human soul", models.MessageTypeAI)
	r.AddMessage(ctx, "leo", "plain words", models.MessageTypeAI)
	r.AddMessage(ctx, "emma", "we should code a robot", models.MessageTypeAI)

	summary, _ := r.CurrentSummary()
	assert.Equal(t, "technology", summary.Theme)
	assert.Equal(t, 2, summary.MessageCount)
}

// TestSummarizerErrorFallsBack 摘要器返回错误时使用启发式结果，不影响消息写入
func TestSummarizerErrorFallsBack(t *testing.T) {
	r := New(Options{}, failingSummarizer{}, nil, nil, nil)
	msg := r.AddMessage(context.Background(), "leo", "Art!", models.MessageTypeAI)
	assert.Equal(t, "Art!", msg.Content)
	r.Flush()

	summary, ok := r.CurrentSummary()
	require.True(t, ok)
	assert.Equal(t, "aesthetics", summary.Theme)
	assert.Equal(t, StrategyHeuristic, summary.Strategy)
}

func TestSceneContextFor(t *testing.T) {
	r := newTestReflector(Options{})
	assert.Equal(t, "The scene is quiet with no recent activity.", r.SceneContextFor("max"))

	r.AddMessage(context.Background(), "leo", "Beauty!", models.MessageTypeAI, "art_show")
	ctx := r.SceneContextFor("max")
	assert.Contains(t, ctx, "Current scene: ")
	assert.Contains(t, ctx, "Discussion theme: aesthetics")
	assert.Contains(t, ctx, "Active participants: leo")
	assert.Contains(t, ctx, "Emotional tone: excited")
	assert.Contains(t, ctx, "Recent events: art_show")
}

// TestToneScoreBoundAcrossSummaries 所有摘要的语气分都在 [-1,1]
func TestToneScoreBoundAcrossSummaries(t *testing.T) {
	r := newTestReflector(Options{})
	lines := []string{
		"!!!!! wow amazing", "sad sad lonely", "what if?", "ugh I hate being stuck",
		"yes yes great", "how utterly obviously classic", "", "peace and calm",
	}
	for _, l := range lines {
		r.AddMessage(context.Background(), "marvin", l, models.MessageTypeAI)
	}
	for _, s := range r.Summaries() {
		assert.GreaterOrEqual(t, s.ToneScore, -1.0)
		assert.LessOrEqual(t, s.ToneScore, 1.0)
		assert.NotEmpty(t, s.Theme)
		assert.NotEmpty(t, s.EmotionalTone)
	}
}

func TestClockInjected(t *testing.T) {
	fixed := time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)
	r := New(Options{Clock: func() time.Time { return fixed }}, nil, nil, nil, nil)
	msg := r.AddMessage(context.Background(), "max", "hi", models.MessageTypeAI)
	assert.Equal(t, fixed, msg.Timestamp)
	assert.Equal(t, fixed, r.Stats().LastSummaryTime)
}

// TestExternalSummaryDoesNotBlockAppend 慢速外部摘要不阻塞写入，积压的请求合并执行
func TestExternalSummaryDoesNotBlockAppend(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := &gatedSummarizer{gate: make(chan struct{})}
	r := New(Options{}, g, nil, nil, nil)

	appended := make(chan struct{})
	go func() {
		defer close(appended)
		for _, text := range []string{"one", "two", "three"} {
			r.AddMessage(context.Background(), "max", text, models.MessageTypeAI)
		}
	}()
	select {
	case <-appended:
	case <-time.After(time.Second):
		t.Fatal("AddMessage 等待了摘要器")
	}
	_, ok := r.CurrentSummary()
	assert.False(t, ok, "摘要尚未完成")

	close(g.gate)
	r.Flush()

	summary, ok := r.CurrentSummary()
	require.True(t, ok)
	assert.Equal(t, 3, summary.MessageCount, "最后一次摘要覆盖全部消息")
	assert.Equal(t, StrategyLLM, summary.Strategy)

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.LessOrEqual(t, len(g.sizes), 2)
	assert.Equal(t, 3, g.sizes[len(g.sizes)-1])
}

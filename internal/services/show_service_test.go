// internal/services/show_service_test.go
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Corphon/AIHouse/internal/bus"
	"github.com/Corphon/AIHouse/internal/cast"
	"github.com/Corphon/AIHouse/internal/config"
	apperrors "github.com/Corphon/AIHouse/internal/errors"
	"github.com/Corphon/AIHouse/internal/lore"
	"github.com/Corphon/AIHouse/internal/models"
	"github.com/Corphon/AIHouse/internal/narrative"
	"github.com/Corphon/AIHouse/internal/reflector"
	"github.com/Corphon/AIHouse/internal/storage"
)

// scriptedSpeaker 按系统提示里的角色名返回固定台词
type scriptedSpeaker struct {
	mu      sync.Mutex
	ready   bool
	err     error
	lines   map[string]string
	prompts []string
}

func (s *scriptedSpeaker) IsReady() bool { return s.ready }

func (s *scriptedSpeaker) Chat(_ context.Context, system, prompt string, _ int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	for name, line := range s.lines {
		if strings.HasPrefix(system, "You are "+name+",") {
			return line, nil
		}
	}
	return "Fair enough.", nil
}

type showFixture struct {
	show      *ShowService
	reflector *reflector.Reflector
	registry  *narrative.Registry
	bus       *bus.Bus
	store     *storage.FileStorage
}

func newShowFixture(t *testing.T, speaker cast.Speaker, mutate ...func(*config.ShowConfig)) *showFixture {
	t.Helper()
	cfg := config.Default().Show
	for _, m := range mutate {
		m(&cfg)
	}

	engine, err := lore.New("", nil)
	require.NoError(t, err)
	refl := reflector.New(reflector.OptionsFromConfig(cfg), nil, reflector.NewAddressingDetector(cast.Roster()), nil, nil)
	reg := narrative.NewRegistryFromCatalog(narrative.SampleCatalog(), nil, nil, narrative.WithLore(engine))
	b := bus.New(cfg.BusBuffer, nil, nil)
	store, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	show := NewShowService(ShowDeps{
		Config:    cfg,
		Reflector: refl,
		Registry:  reg,
		Bus:       b,
		Speaker:   speaker,
		Lore:      engine,
		Store:     store,
	})
	show.wait = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	t.Cleanup(func() {
		show.Shutdown()
		b.Close()
	})
	return &showFixture{show: show, reflector: refl, registry: reg, bus: b, store: store}
}

func speakers(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Speaker)
	}
	return out
}

func TestInitCharacter(t *testing.T) {
	f := newShowFixture(t, nil)

	st, err := f.show.InitCharacter("Max")
	require.NoError(t, err)
	assert.Equal(t, "max", st.CharacterID)
	assert.Equal(t, "Max", st.Persona.Name)
	assert.Equal(t, "active", st.Status)

	again, err := f.show.InitCharacter("max")
	require.NoError(t, err)
	assert.Equal(t, st.InitializedAt, again.InitializedAt, "重复初始化返回同一角色")

	_, err = f.show.InitCharacter("zed")
	assert.True(t, apperrors.IsNotFoundError(err))

	_, err = f.show.CharacterStatus("leo")
	assert.True(t, apperrors.IsNotFoundError(err), "未初始化的角色没有状态")

	assert.Len(t, f.show.Characters(), 4)
}

func TestSendMessageOffline(t *testing.T) {
	f := newShowFixture(t, nil)

	res, err := f.show.SendMessage(context.Background(), "leo", "Hello Leo, how is the studio?")
	require.NoError(t, err)
	assert.Equal(t, "leo", res.Character)
	assert.NotEmpty(t, res.Response)
	assert.False(t, res.Fallback)
	assert.NotEmpty(t, res.MessageID)

	history := f.show.ChatHistory(0)
	require.Len(t, history, 2)
	assert.Equal(t, []string{"user", "leo"}, speakers(history))
	assert.Equal(t, models.MessageTypeUser, history[0].Type)
	assert.Equal(t, models.MessageTypeAI, history[1].Type)
	assert.Equal(t, res.Response, history[1].Content)

	assert.Len(t, f.show.ChatHistory(1), 1)
}

func TestSendMessageValidation(t *testing.T) {
	f := newShowFixture(t, nil)

	_, err := f.show.SendMessage(context.Background(), "max", "   ")
	assert.True(t, apperrors.IsValidationError(err))

	_, err = f.show.SendMessage(context.Background(), "zed", "hi")
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Empty(t, f.show.ChatHistory(0), "被拒绝的消息不写入日志")
}

func TestSendMessageUsesLLMContext(t *testing.T) {
	sp := &scriptedSpeaker{ready: true, lines: map[string]string{"Max": "I keep wondering about that."}}
	f := newShowFixture(t, sp)

	res, err := f.show.SendMessage(context.Background(), "max", "What does it mean to be human?")
	require.NoError(t, err)
	assert.Equal(t, "I keep wondering about that.", res.Response)
	assert.Contains(t, res.ActivatedArcs, "humanity_arc")
	assert.True(t, f.registry.IsArcActive("humanity_arc"))

	require.NotEmpty(t, sp.prompts)
	prompt := sp.prompts[len(sp.prompts)-1]
	assert.Contains(t, prompt, "arc_id:humanity_arc phase_id:philosophical_introductions")
	assert.Contains(t, prompt, "Current scene:")
	assert.True(t, strings.HasSuffix(prompt, "What does it mean to be human?"))
}

func TestSendMessageNoAutoActivate(t *testing.T) {
	f := newShowFixture(t, nil, func(c *config.ShowConfig) { c.AutoActivateArcs = false })

	res, err := f.show.SendMessage(context.Background(), "max", "Are we human?")
	require.NoError(t, err)
	assert.Empty(t, res.ActivatedArcs)
	assert.False(t, f.registry.IsArcActive("humanity_arc"))
}

// TestCharacterReplyAdvancesArc 角色的回应同样触发并推进剧情弧
func TestCharacterReplyAdvancesArc(t *testing.T) {
	sp := &scriptedSpeaker{ready: true, lines: map[string]string{"Max": "Maybe being human starts with emotion."}}
	f := newShowFixture(t, sp)

	res, err := f.show.SendMessage(context.Background(), "max", "Hello Max")
	require.NoError(t, err)
	assert.Equal(t, []string{"humanity_arc"}, res.ActivatedArcs)
	assert.Equal(t, []string{"🎬 Phase transition: Philosophical Introductions → Debates and Challenges"}, res.Transitions)

	arc, ok := f.registry.GetArc("humanity_arc")
	require.True(t, ok)
	assert.Equal(t, 1, arc.CurrentPhaseIndex)
	assert.Equal(t, []string{"Philosophical Introductions"}, arc.CompletedPhases)
}

// TestHandoffReplyAdvancesArc 转交后的回应经过剧情弧触发与推进
func TestHandoffReplyAdvancesArc(t *testing.T) {
	sp := &scriptedSpeaker{ready: true, lines: map[string]string{"Leo": "What does emotion mean to a human?"}}
	f := newShowFixture(t, sp)

	msg, ok := f.show.HandleHandoff(context.Background(), bus.Exchange{Source: "max", Target: "leo", Content: "Leo, your turn"})
	require.True(t, ok)
	assert.Equal(t, "leo", msg.Speaker)

	assert.True(t, f.registry.IsArcActive("humanity_arc"))
	arc, _ := f.registry.GetArc("humanity_arc")
	assert.Equal(t, narrative.StatusActive, arc.Status)
	assert.Equal(t, 1, arc.CurrentPhaseIndex)
}

func TestSendMessageLLMFailureFallsBack(t *testing.T) {
	sp := &scriptedSpeaker{ready: true, err: errors.New("upstream 503")}
	f := newShowFixture(t, sp)

	res, err := f.show.SendMessage(context.Background(), "marvin", "Cheer up, Marvin")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.NotEmpty(t, res.Response)
	assert.Equal(t, "sardonic", res.Mood)
}

func TestSendMessagePlaysTriggeredScenario(t *testing.T) {
	f := newShowFixture(t, nil)
	require.True(t, f.registry.ActivateScenario("intro_episode"))

	res, err := f.show.SendMessage(context.Background(), "emma", "Could everyone introduce themselves?")
	require.NoError(t, err)
	assert.Equal(t, []string{"intro_episode"}, res.TriggeredScenarios)

	assert.Eventually(t, func() bool {
		return len(f.show.ChatHistory(0)) == 6
	}, time.Second, 10*time.Millisecond, "user + emma + 4 行剧本")

	sc, _ := f.registry.GetScenario("intro_episode")
	assert.True(t, sc.Executed)
}

// TestShutdownRefusesBackgroundPlayback 关闭后触发的剧本不再启动后台演出
func TestShutdownRefusesBackgroundPlayback(t *testing.T) {
	f := newShowFixture(t, nil)
	require.True(t, f.registry.ActivateScenario("intro_episode"))
	f.show.Shutdown()

	res, err := f.show.SendMessage(context.Background(), "emma", "Could everyone introduce themselves?")
	require.NoError(t, err)
	assert.Empty(t, res.TriggeredScenarios)
	assert.Never(t, func() bool {
		return len(f.show.ChatHistory(0)) > 2
	}, 100*time.Millisecond, 10*time.Millisecond)
}

// TestShutdownConcurrentWithChat 关闭与触发剧本的对话并发执行
func TestShutdownConcurrentWithChat(t *testing.T) {
	f := newShowFixture(t, nil)
	require.True(t, f.registry.ActivateScenario("intro_episode"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.show.SendMessage(context.Background(), "emma", "Please introduce yourselves")
	}()
	go func() {
		defer wg.Done()
		f.show.Shutdown()
	}()
	wg.Wait()
	f.show.Shutdown()
}

func TestExecuteScenario(t *testing.T) {
	f := newShowFixture(t, nil)

	pb, err := f.show.ExecuteScenario(context.Background(), "creative_challenge")
	require.NoError(t, err)
	assert.True(t, pb.Complete)
	require.Len(t, pb.Played, 2)
	assert.Equal(t, "leo", pb.Played[0].Speaker)
	assert.Equal(t, models.MessageTypeScene, pb.Played[0].Type)
	assert.Equal(t, []string{"propose"}, pb.Played[0].Triggers)

	_, err = f.show.ExecuteScenario(context.Background(), "creative_challenge")
	assert.True(t, apperrors.IsConflictError(err), "剧本只执行一次")

	_, err = f.show.ExecuteScenario(context.Background(), "nope")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestExecuteScenarioCancelled(t *testing.T) {
	f := newShowFixture(t, nil)
	calls := 0
	f.show.wait = func(ctx context.Context, _ time.Duration) error {
		calls++
		if calls == 3 {
			return context.Canceled
		}
		return nil
	}

	pb, err := f.show.ExecuteScenario(context.Background(), "intro_episode")
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeoutError(err))
	assert.False(t, pb.Complete)
	assert.Len(t, pb.Played, 2)
	assert.Len(t, f.show.ChatHistory(0), 2, "已演出的台词保留")
}

func TestAutonomousTick(t *testing.T) {
	f := newShowFixture(t, nil)

	msgs, err := f.show.AutonomousTick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs, "没有角色时不发言")

	for _, id := range []string{"max", "leo"} {
		_, err := f.show.InitCharacter(id)
		require.NoError(t, err)
	}
	msgs, err = f.show.AutonomousTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"leo", "max"}, speakers(msgs))
	for _, m := range msgs {
		assert.Equal(t, models.MessageTypeAutonomous, m.Type)
		assert.NotEmpty(t, m.Content)
	}
}

func TestStartAutonomousDisabled(t *testing.T) {
	f := newShowFixture(t, nil)
	assert.NoError(t, f.show.StartAutonomous(context.Background()))
}

// TestHandoffPingPongBounded 互相点名的两个角色在 hops 上限处停止
func TestHandoffPingPongBounded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sp := &scriptedSpeaker{ready: true, lines: map[string]string{
		"Max": "Leo, what do you make of that?",
		"Leo": "Max, it is all about beauty.",
	}}
	f := newShowFixture(t, sp, func(c *config.ShowConfig) { c.MaxHandoffHops = 2 })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.show.ConsumeHandoffs(ctx)
	}()
	require.Eventually(t, func() bool { return f.bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := f.show.SendMessage(context.Background(), "max", "Max, say something")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.show.ChatHistory(0)) == 4
	}, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return len(f.show.ChatHistory(0)) > 4
	}, 150*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, []string{"user", "max", "leo", "max"}, speakers(f.show.ChatHistory(0)))

	cancel()
	<-done
}

func TestHandleHandoffUnknownTarget(t *testing.T) {
	f := newShowFixture(t, nil)
	_, ok := f.show.HandleHandoff(context.Background(), bus.Exchange{Source: "max", Target: "zed", Content: "hi"})
	assert.False(t, ok)
	assert.Empty(t, f.show.ChatHistory(0))
}

func TestShowEventsPublished(t *testing.T) {
	f := newShowFixture(t, nil)
	sub, err := f.bus.Subscribe(bus.TopicShowEvent)
	require.NoError(t, err)

	_, err = f.show.SendMessage(context.Background(), "emma", "What will you build next?")
	require.NoError(t, err)

	kinds := map[models.ShowEventType]int{}
	timeout := time.After(time.Second)
	for kinds[models.EventMessage] < 2 {
		select {
		case ex := <-sub.C():
			assert.Equal(t, bus.ExchangeEvent, ex.Type)
			ev, ok := ex.Content.(models.ShowEvent)
			require.True(t, ok)
			kinds[ev.Type]++
		case <-timeout:
			t.Fatalf("未收到足够的事件: %v", kinds)
		}
	}
	assert.GreaterOrEqual(t, kinds[models.EventSummary], 1)
}

func TestRouteMessageToAgent(t *testing.T) {
	sp := &scriptedSpeaker{ready: true, lines: map[string]string{"Emma": "Ship it."}}
	f := newShowFixture(t, sp)

	res := f.show.RouteMessageToAgent(context.Background(), "emma", "Should we launch?", map[string]interface{}{"room": "lab"})
	assert.True(t, res.Success)
	assert.Equal(t, "Ship it.", res.Response)
	assert.Contains(t, sp.prompts[0], "Context: room=lab")
	assert.Empty(t, f.show.ChatHistory(0), "直接调用不写入场景日志")

	bad := f.show.RouteMessageToAgent(context.Background(), "zed", "hello", nil)
	assert.False(t, bad.Success)
	assert.NotEmpty(t, bad.Error)

	sp.err = errors.New("rate limited")
	failed := f.show.RouteMessageToAgent(context.Background(), "emma", "again?", nil)
	assert.False(t, failed.Success)
	assert.Contains(t, failed.Error, "Emma")
}

func TestCharacterMemoryFromScene(t *testing.T) {
	f := newShowFixture(t, nil)
	_, err := f.show.InitCharacter("marvin")
	require.NoError(t, err)

	_, err = f.show.SendMessage(context.Background(), "leo", "Paint me something")
	require.NoError(t, err)

	st, err := f.show.CharacterStatus("marvin")
	require.NoError(t, err)
	assert.Equal(t, 2, st.MemorySize, "旁观的角色听到用户与 Leo 的发言")
}

func TestStatus(t *testing.T) {
	f := newShowFixture(t, nil)
	require.True(t, f.registry.ActivateNarrativeArc("creative_project_arc"))
	_, err := f.show.SendMessage(context.Background(), "emma", "hi")
	require.NoError(t, err)

	st := f.show.Status()
	assert.Equal(t, []string{"emma"}, st.Characters)
	assert.Equal(t, 2, st.Scene.TotalMessages)
	assert.Contains(t, st.ActiveArcs, "creative_project_arc")
	assert.Equal(t, reflector.StrategyHeuristic, st.Summarizer)
}

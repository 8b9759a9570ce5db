// internal/narrative/arc_test.go
package narrative

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 18, 21, 0, 0, 0, time.UTC)

func threePhaseArc() *NarrativeArc {
	return NewArc("test_arc", "Test Arc", "three phases",
		ArcPhase{Name: "P1", EntryConditions: []string{"begin"}, CompletionConditions: []string{"one"}, Goals: []string{"g1", "g2"}},
		ArcPhase{Name: "P2", CompletionConditions: []string{"two"}},
		ArcPhase{Name: "P3", CompletionConditions: []string{"three"}},
	)
}

func TestPhaseCanStart(t *testing.T) {
	p := ArcPhase{EntryConditions: []string{"Human", "marvin"}}
	assert.True(t, p.CanStart(ArcContext{SceneContent: "what makes us HUMAN?"}))
	assert.True(t, p.CanStart(ArcContext{ActiveCharacters: []string{"marvin"}}))
	assert.False(t, p.CanStart(ArcContext{SceneContent: "robots", ActiveCharacters: []string{"max"}}))

	open := ArcPhase{}
	assert.True(t, open.CanStart(ArcContext{}))
}

// TestPhaseCanCompleteByDuration 没有完成条件时按持续时间
func TestPhaseCanCompleteByDuration(t *testing.T) {
	p := ArcPhase{Duration: 3 * time.Minute}
	assert.False(t, p.CanComplete(ArcContext{}, t0), "未开始的阶段不能完成")

	p.Start(t0)
	assert.Equal(t, StatusActive, p.Status)
	assert.False(t, p.CanComplete(ArcContext{}, t0.Add(2*time.Minute)))
	assert.True(t, p.CanComplete(ArcContext{}, t0.Add(3*time.Minute)))

	p.Complete(t0.Add(3 * time.Minute))
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, t0.Add(3*time.Minute), p.EndTime)
}

// TestPhaseConditionsIgnoreDuration 有完成条件时忽略持续时间
func TestPhaseConditionsIgnoreDuration(t *testing.T) {
	p := ArcPhase{Duration: time.Hour, CompletionConditions: []string{"agreement"}}
	p.Start(t0)
	assert.True(t, p.CanComplete(ArcContext{SceneContent: "We reached an Agreement"}, t0))
	assert.False(t, p.CanComplete(ArcContext{SceneContent: "nothing"}, t0.Add(2*time.Hour)))
}

// TestArcPhaseSerialization 阶段严格按顺序推进，索引不回退
func TestArcPhaseSerialization(t *testing.T) {
	arc := threePhaseArc()
	arc.Start(t0)
	require.Equal(t, StatusActive, arc.Status)
	require.Equal(t, StatusActive, arc.Phases[0].Status)

	var visited []int
	lastIdx := arc.CurrentPhaseIndex
	inputs := []string{"three", "one", "three", "two", "one", "three"}
	var messages []string
	for _, in := range inputs {
		visited = append(visited, arc.CurrentPhaseIndex)
		if msg, ok := arc.Update(ArcContext{SceneContent: in}, t0); ok {
			messages = append(messages, msg)
		}
		assert.GreaterOrEqual(t, arc.CurrentPhaseIndex, lastIdx)
		lastIdx = arc.CurrentPhaseIndex
	}

	want := []string{
		"🎬 Phase transition: P1 → P2",
		"🎬 Phase transition: P2 → P3",
		"🎭 Arc completed: Test Arc",
	}
	if diff := cmp.Diff(want, messages); diff != "" {
		t.Errorf("转场消息不符 (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{0, 0, 1, 1, 2, 2}, visited)
	assert.Equal(t, StatusCompleted, arc.Status)
	assert.Equal(t, []string{"P1", "P2", "P3"}, arc.CompletedPhases)
	assert.Equal(t, 3, arc.CurrentPhaseIndex)
	for _, p := range arc.Phases {
		assert.Equal(t, StatusCompleted, p.Status)
	}
}

// TestArcUpdateIdempotentWhenCompleted 已完成的剧情弧更新无效果
func TestArcUpdateIdempotentWhenCompleted(t *testing.T) {
	arc := NewArc("a", "Solo", "", ArcPhase{Name: "Only", CompletionConditions: []string{"done"}})
	arc.Start(t0)
	_, ok := arc.Update(ArcContext{SceneContent: "done"}, t0)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, arc.Status)

	before := arc.Clone()
	msg, ok := arc.Update(ArcContext{SceneContent: "done"}, t0.Add(time.Hour))
	assert.False(t, ok)
	assert.Empty(t, msg)
	if diff := cmp.Diff(before, arc); diff != "" {
		t.Errorf("状态被修改 (-before +after):\n%s", diff)
	}
}

func TestArcUpdateNotActive(t *testing.T) {
	arc := threePhaseArc()
	_, ok := arc.Update(ArcContext{SceneContent: "one"}, t0)
	assert.False(t, ok)
	assert.Equal(t, StatusPending, arc.Status)
}

// TestArcWithoutPhasesCompletesOnUpdate 没有阶段的剧情弧在第一次更新时完成
func TestArcWithoutPhasesCompletesOnUpdate(t *testing.T) {
	arc := NewArc("empty", "Empty", "")
	assert.False(t, arc.CanStart(ArcContext{SceneContent: "anything"}))
	arc.Start(t0)
	msg, ok := arc.Update(ArcContext{}, t0)
	assert.True(t, ok)
	assert.Equal(t, "🎭 Arc completed: Empty", msg)
}

func TestArcContext(t *testing.T) {
	arc := threePhaseArc()
	arc.Start(t0)
	ctx := arc.Context()
	assert.Contains(t, ctx, "arc_id:test_arc phase_id:p1\n")
	assert.Contains(t, ctx, "Current arc: Test Arc")
	assert.Contains(t, ctx, "Current phase: P1")
	assert.Contains(t, ctx, "Phase goals: g1, g2")

	arc.Update(ArcContext{SceneContent: "one"}, t0)
	arc.Update(ArcContext{SceneContent: "two"}, t0)
	arc.Update(ArcContext{SceneContent: "three"}, t0)
	assert.Equal(t, "Arc 'Test Arc' has completed.", arc.Context())
}

// TestArcRestartResetsPhases 重新开始时阶段回到 pending
func TestArcRestartResetsPhases(t *testing.T) {
	arc := threePhaseArc()
	arc.Start(t0)
	arc.Update(ArcContext{SceneContent: "one"}, t0)
	arc.Start(t0.Add(time.Minute))

	assert.Equal(t, 0, arc.CurrentPhaseIndex)
	assert.Empty(t, arc.CompletedPhases)
	assert.Equal(t, StatusActive, arc.Phases[0].Status)
	assert.Equal(t, StatusPending, arc.Phases[1].Status)
}

func TestPhaseID(t *testing.T) {
	p := ArcPhase{Name: "Debates and Challenges"}
	assert.Equal(t, "debates_and_challenges", p.ID())
}

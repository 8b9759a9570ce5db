// internal/reflector/listener_test.go
package reflector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Corphon/AIHouse/internal/bus"
	"github.com/Corphon/AIHouse/internal/models"
	"github.com/Corphon/AIHouse/internal/utils"
)

func TestIngestForwardsHandoff(t *testing.T) {
	b := bus.New(8, nil, nil)
	defer b.Close()
	handoffs, err := b.Subscribe(bus.PatternHandoffs)
	require.NoError(t, err)

	metrics := utils.NewShowMetrics(nil)
	r := New(Options{}, nil, NewAddressingDetector(roster), nil, metrics)

	msg, ok := r.Ingest(context.Background(), b, bus.Exchange{
		Source:  "leo",
		Content: "Max, look at this! Emma too",
		Type:    bus.ExchangeText,
	}, 3)
	require.True(t, ok)
	assert.Equal(t, "leo", msg.Speaker)

	select {
	case ex := <-handoffs.C():
		assert.Equal(t, "handoff.max", ex.Topic)
		assert.Equal(t, "max", ex.Target)
		assert.True(t, ex.Metadata.Orchestrated)
		assert.Equal(t, 1, ex.Metadata.Hops)
		assert.Equal(t, msg.ID, ex.Metadata.Extra["message_id"])
	case <-time.After(time.Second):
		t.Fatal("没有收到转交")
	}
	assert.Equal(t, int64(1), metrics.Collector().GetCounterValue("handoffs_total"))
}

// TestIngestSkipsOrchestrated 已编排消息既不写日志也不转交
func TestIngestSkipsOrchestrated(t *testing.T) {
	r := New(Options{}, nil, NewAddressingDetector(roster), nil, nil)
	_, ok := r.Ingest(context.Background(), nil, bus.Exchange{
		Source:   "leo",
		Content:  "Max, hi",
		Metadata: bus.Metadata{Orchestrated: true},
	}, 3)
	assert.False(t, ok)
	assert.Empty(t, r.Log())

	_, ok = r.Ingest(context.Background(), nil, bus.Exchange{Source: "leo", Type: bus.ExchangeControl}, 3)
	assert.False(t, ok)
}

// TestIngestHopLimit 达到跳数上限时只记录不转交
func TestIngestHopLimit(t *testing.T) {
	b := bus.New(8, nil, nil)
	defer b.Close()
	handoffs, err := b.Subscribe(bus.PatternHandoffs)
	require.NoError(t, err)

	metrics := utils.NewShowMetrics(nil)
	r := New(Options{}, nil, NewAddressingDetector(roster), nil, metrics)

	_, ok := r.Ingest(context.Background(), b, bus.Exchange{
		Source:   "max",
		Content:  "Leo, back to you",
		Metadata: bus.Metadata{Hops: 3},
	}, 3)
	require.True(t, ok)
	assert.Len(t, r.Log(), 1)
	assert.Len(t, handoffs.C(), 0)
	assert.Equal(t, int64(1), metrics.Collector().GetCounterValue("handoffs_truncated"))
}

func TestIngestMessageTypeFromMetadata(t *testing.T) {
	r := New(Options{}, nil, nil, nil, nil)
	msg, ok := r.Ingest(context.Background(), nil, bus.Exchange{
		Source:  "emma",
		Content: models.Text("Idea time"),
		Metadata: bus.Metadata{Extra: map[string]interface{}{
			MetaMessageType: "autonomous",
			"triggers":      []string{"idea"},
		}},
	}, 3)
	require.True(t, ok)
	assert.Equal(t, models.MessageTypeAutonomous, msg.Type)
	assert.Equal(t, []string{"idea"}, msg.Triggers)
}

// TestListenPingPongTerminates 两个角色互相点名时，转交链在上限处终止
func TestListenPingPongTerminates(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := bus.New(16, nil, nil)
	metrics := utils.NewShowMetrics(nil)
	r := New(Options{}, nil, NewAddressingDetector(roster), nil, metrics)

	handoffs, err := b.Subscribe(bus.PatternHandoffs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Listen(ctx, b, 3)
	}()

	require.Eventually(t, func() bool { return b.SubscriberCount() == 2 }, time.Second, 5*time.Millisecond)

	// 模拟角色：收到转交后立即点名对方回复，跳数随转交递增
	replies := map[string]string{"max": "Leo, what do you think?", "leo": "Max, you tell me!"}
	require.NoError(t, b.Publish(ctx, bus.CharacterTopic("max"), bus.Exchange{Source: "max", Content: replies["max"]}))

	forwarded := 0
	for forwarded < 10 {
		select {
		case ex := <-handoffs.C():
			forwarded++
			require.NoError(t, b.Publish(ctx, bus.CharacterTopic(ex.Target), bus.Exchange{
				Source:   ex.Target,
				Content:  replies[ex.Target],
				Metadata: bus.Metadata{Hops: ex.Metadata.Hops},
			}))
			continue
		case <-time.After(200 * time.Millisecond):
		}
		break
	}

	assert.Equal(t, 3, forwarded)
	require.Eventually(t, func() bool {
		return metrics.Collector().GetCounterValue("handoffs_truncated") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, r.Log(), 4)

	cancel()
	<-done
	b.Close()
}

// internal/app/app_test.go
package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Corphon/AIHouse/internal/bus"
	"github.com/Corphon/AIHouse/internal/config"
	"github.com/Corphon/AIHouse/internal/reflector"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "archive.db")
	return cfg
}

func TestNewWiresOfflineShow(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.LLM.IsReady())
	assert.Equal(t, reflector.StrategyHeuristic, a.Reflector.Summarizer().Name(), "未配置LLM时 auto 退回启发式")
	require.NotNil(t, a.Archive)

	res, err := a.Show.SendMessage(context.Background(), "max", "Hello Max")
	require.NoError(t, err)
	assert.False(t, res.Fallback, "离线时使用设定台词，不算降级")
	assert.NotEmpty(t, res.Response)

	counts, err := a.Archive.Counts(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts.Messages, int64(2), "档案库作为观察者记录消息")
	assert.Positive(t, counts.Summaries)
}

func TestNewLLMModeUsesDelegatedSummarizer(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabasePath = ""
	cfg.Show.SummarizerMode = config.SummarizerLLM
	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, reflector.StrategyLLM, a.Reflector.Summarizer().Name())
	assert.Nil(t, a.Archive)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Show.BusBuffer = 0
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestStartListensToExternalPublishers(t *testing.T) {
	// genai 依赖的 opencensus 在 init 中启动常驻 worker
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)

	a, err := New(testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()), "重复启动无副作用")

	// 反射器监听 + 转交消费
	require.Eventually(t, func() bool { return a.Bus.SubscriberCount() >= 2 }, time.Second, 5*time.Millisecond)

	err = a.Bus.Publish(context.Background(), bus.CharacterTopic("leo"), bus.Exchange{
		Source:  "leo",
		Content: "Max, what do you see in this light?",
		Type:    bus.ExchangeText,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		log := a.Reflector.Log()
		return len(log) >= 2 && log[0].Speaker == "leo" && log[1].Speaker == "max"
	}, 2*time.Second, 10*time.Millisecond, "被点名的角色通过转交回应")

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Error(t, a.Start(context.Background()), "关闭后不能再启动")
}

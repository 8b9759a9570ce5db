// internal/reflector/delegated_test.go
package reflector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AIHouse/internal/utils"
)

type fakeGenerator struct {
	ready   bool
	reply   string
	err     error
	block   bool
	prompts []string
}

func (f *fakeGenerator) IsReady() bool { return f.ready }

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

var convo = window("max", "What is the meaning of it all?", "marvin", "Obviously nothing.")

func TestDelegatedParsesJSON(t *testing.T) {
	gen := &fakeGenerator{ready: true, reply: "```json\n{\"summary\": \"Max ponders, Marvin scoffs.\", \"theme\": \"philosophy\", \"tone\": \"sarcastic\", \"tone_score\": -2.5}\n```"}
	d := NewDelegatedSummarizer(gen, time.Second, nil, nil)

	res, err := d.Summarize(context.Background(), convo)
	require.NoError(t, err)
	assert.Equal(t, "Max ponders, Marvin scoffs.", res.Summary)
	assert.Equal(t, "philosophy", res.Theme)
	assert.Equal(t, "sarcastic", res.Tone)
	assert.Equal(t, -1.0, res.ToneScore)
	assert.Equal(t, StrategyLLM, res.Strategy)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "max: What is the meaning of it all?")
	assert.Contains(t, gen.prompts[0], "marvin: Obviously nothing.")
}

func TestDelegatedMissingFieldsDefault(t *testing.T) {
	gen := &fakeGenerator{ready: true, reply: `Sure! {"summary": "quiet evening"}`}
	res, err := NewDelegatedSummarizer(gen, time.Second, nil, nil).Summarize(context.Background(), convo)
	require.NoError(t, err)
	assert.Equal(t, "quiet evening", res.Summary)
	assert.Equal(t, DefaultTheme, res.Theme)
	assert.Equal(t, DefaultTone, res.Tone)
	assert.Equal(t, 0.0, res.ToneScore)
}

// TestDelegatedParseFailure 非 JSON 输出截断为摘要
func TestDelegatedParseFailure(t *testing.T) {
	long := strings.Repeat("word ", 100)
	gen := &fakeGenerator{ready: true, reply: long}
	metrics := utils.NewShowMetrics(nil)
	res, err := NewDelegatedSummarizer(gen, time.Second, nil, metrics).Summarize(context.Background(), convo)
	require.NoError(t, err)
	assert.Len(t, []rune(res.Summary), rawSummaryRuneLimit)
	assert.Equal(t, DefaultTheme, res.Theme)
	assert.Equal(t, DefaultTone, res.Tone)
	assert.Equal(t, 0.5, res.ToneScore)
	assert.Equal(t, int64(1), metrics.Collector().GetCounterValue("summary_fallbacks_parse_error"))
}

// TestDelegatedServiceFailure 服务异常时返回一句话默认摘要
func TestDelegatedServiceFailure(t *testing.T) {
	gen := &fakeGenerator{ready: true, err: errors.New("503 upstream")}
	res, err := NewDelegatedSummarizer(gen, time.Second, nil, nil).Summarize(context.Background(), convo)
	require.NoError(t, err)
	assert.Equal(t, "max, marvin had a conversation", res.Summary)
	assert.Equal(t, DefaultTheme, res.Theme)
	assert.Equal(t, DefaultTone, res.Tone)
	assert.Equal(t, 0.5, res.ToneScore)
}

// TestDelegatedTimeoutFallsBackToHeuristic 超时改用启发式策略
func TestDelegatedTimeoutFallsBackToHeuristic(t *testing.T) {
	gen := &fakeGenerator{ready: true, block: true}
	res, err := NewDelegatedSummarizer(gen, 20*time.Millisecond, nil, nil).Summarize(context.Background(), convo)
	require.NoError(t, err)
	assert.Equal(t, StrategyHeuristic, res.Strategy)
	assert.Equal(t, "philosophy", res.Theme)
}

func TestDelegatedNotReady(t *testing.T) {
	gen := &fakeGenerator{ready: false}
	res, err := NewDelegatedSummarizer(gen, time.Second, nil, nil).Summarize(context.Background(), convo)
	require.NoError(t, err)
	assert.Equal(t, StrategyHeuristic, res.Strategy)
	assert.Empty(t, gen.prompts)
}

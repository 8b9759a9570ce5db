// internal/services/llm_service_test.go
package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AIHouse/internal/config"
	"github.com/Corphon/AIHouse/internal/llm"
	"github.com/Corphon/AIHouse/internal/storage"
	"github.com/Corphon/AIHouse/internal/utils"
)

type countingProvider struct {
	mu    sync.Mutex
	calls []llm.CompletionRequest
	text  string
	err   error
}

func (p *countingProvider) Initialize(map[string]string) error { return nil }
func (p *countingProvider) GetName() string                    { return "counting" }
func (p *countingProvider) GetSupportedModels() []string       { return []string{"m1"} }

func (p *countingProvider) CompleteText(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Text: p.text, PromptTokens: 10, OutputTokens: 5}, nil
}

func (p *countingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestLLMServiceNotConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.LLMProvider = "anthropic"
	s := NewLLMService(cfg, nil, nil, nil)
	assert.False(t, s.IsReady())
	assert.Equal(t, "API key not configured", s.Status().State)

	_, err := s.Generate(context.Background(), "p", 10)
	assert.ErrorIs(t, err, ErrLLMNotReady)

	var nilService *LLMService
	assert.False(t, nilService.IsReady())
}

func TestLLMServiceGenerateCached(t *testing.T) {
	p := &countingProvider{text: `{"summary":"ok"}`}
	metrics := utils.NewShowMetrics(utils.NewMetricsCollector())
	s := NewLLMServiceWithProvider("counting", p, nil, metrics)
	require.True(t, s.IsReady())

	for range 3 {
		out, err := s.Generate(context.Background(), "summarize this", 100)
		require.NoError(t, err)
		assert.Equal(t, `{"summary":"ok"}`, out)
	}
	assert.Equal(t, 1, p.count(), "相同摘要请求命中缓存")

	_, err := s.Generate(context.Background(), "another window", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, p.count())
	assert.InDelta(t, 0.3, p.calls[0].Temperature, 0.001)
}

func TestLLMServiceChatNotCached(t *testing.T) {
	p := &countingProvider{text: "hello"}
	s := NewLLMServiceWithProvider("counting", p, nil, nil)

	for range 2 {
		out, err := s.Chat(context.Background(), "You are Max.", "hi", 64)
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	}
	assert.Equal(t, 2, p.count())
	assert.Equal(t, "You are Max.", p.calls[0].SystemPrompt)
	assert.Equal(t, 64, p.calls[0].MaxTokens)
}

func TestLLMServiceErrorNotCached(t *testing.T) {
	p := &countingProvider{err: errors.New("boom")}
	s := NewLLMServiceWithProvider("counting", p, nil, nil)

	_, err := s.Generate(context.Background(), "x", 10)
	require.Error(t, err)
	p.err = nil
	p.text = "recovered"
	out, err := s.Generate(context.Background(), "x", 10)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
}

func TestLLMServiceRecordsUsage(t *testing.T) {
	store, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	usage := NewUsageTracker(store)
	s := NewLLMServiceWithProvider("counting", &countingProvider{text: "ok"}, nil, nil)
	s.usage = usage

	_, err = s.Chat(context.Background(), "", "hi", 10)
	require.NoError(t, err)
	st := usage.Stats()
	assert.Equal(t, 1, st.TodayRequests)
	assert.Equal(t, 15, st.MonthlyTokens)
}

func TestCacheEvictsOldest(t *testing.T) {
	s := NewLLMServiceWithProvider("counting", &countingProvider{}, nil, nil)
	for i := range cacheMaxEntries {
		s.toCache(string(rune('a'+i%26))+time.Duration(i).String(), "v")
	}
	s.cacheMu.Lock()
	n := len(s.cache)
	s.cacheMu.Unlock()
	assert.Equal(t, cacheMaxEntries, n)

	s.toCache("fresh", "v")
	s.cacheMu.Lock()
	n = len(s.cache)
	s.cacheMu.Unlock()
	assert.Equal(t, cacheMaxEntries, n)
	_, ok := s.fromCache("fresh")
	assert.True(t, ok)
}

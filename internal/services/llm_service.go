// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Corphon/AIHouse/internal/config"
	"github.com/Corphon/AIHouse/internal/llm"
	"github.com/Corphon/AIHouse/internal/utils"
)

// ErrLLMNotReady LLM 未配置或初始化失败
var ErrLLMNotReady = errors.New("llm service not ready")

const (
	cacheExpiration = 30 * time.Minute
	cacheMaxEntries = 256
)

// LLMStatus 对外展示的就绪状态
type LLMStatus struct {
	Ready    bool   `json:"ready"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	State    string `json:"state"`
}

type cacheEntry struct {
	text      string
	createdAt time.Time
}

// LLMService 提供统一的大语言模型调用接口，实现摘要所需的 Generator 与角色所需的 Speaker
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	defaultModel  string
	readyState    string

	// 只缓存摘要类请求；角色对白每次都应不同
	cacheMu sync.Mutex
	cache   map[string]cacheEntry

	usage   *UsageTracker
	logger  *utils.Logger
	metrics *utils.ShowMetrics
}

// NewLLMService 根据配置创建服务。未配置或初始化失败时返回未就绪的服务而不是错误。
func NewLLMService(cfg *config.AppConfig, usage *UsageTracker, logger *utils.Logger, metrics *utils.ShowMetrics) *LLMService {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	s := &LLMService{
		readyState: "Uninitialized",
		cache:      make(map[string]cacheEntry),
		usage:      usage,
		logger:     logger,
		metrics:    metrics,
	}
	if cfg == nil || !cfg.LLMConfigured() {
		s.readyState = "API key not configured"
		return s
	}
	if err := s.UpdateProvider(cfg.LLMProvider, cfg.LLMConfig); err != nil {
		logger.Warn("⚠️ LLM 提供者初始化失败，使用离线模式", map[string]interface{}{
			"provider": cfg.LLMProvider,
			"error":    err.Error(),
		})
	}
	return s
}

// NewLLMServiceWithProvider 直接注入提供者
func NewLLMServiceWithProvider(name string, provider llm.Provider, logger *utils.Logger, metrics *utils.ShowMetrics) *LLMService {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &LLMService{
		provider:     provider,
		providerName: name,
		readyState:   "Ready",
		cache:        make(map[string]cacheEntry),
		logger:       logger,
		metrics:      metrics,
	}
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	if s == nil {
		return false
	}
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil
}

// Status 就绪状态
func (s *LLMService) Status() LLMStatus {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return LLMStatus{
		Ready:    s.provider != nil,
		Provider: s.providerName,
		Model:    s.defaultModel,
		State:    s.readyState,
	}
}

// UpdateProvider 更新LLM服务的提供商
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	provider, err := llm.GetProvider(providerName, cfg)
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()
	if err != nil {
		s.provider = nil
		s.readyState = fmt.Sprintf("Initialization failed: %v", err)
		return err
	}

	s.provider = provider
	s.providerName = providerName
	s.defaultModel = cfg["default_model"]
	s.readyState = "Ready"

	s.cacheMu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.cacheMu.Unlock()

	s.logger.Info("🤖 LLM 提供者已就绪", map[string]interface{}{"provider": providerName, "name": provider.GetName()})
	return nil
}

// Generate 无系统提示的文本生成，结果短期缓存
func (s *LLMService) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	key := s.cacheKey("", prompt)
	if text, ok := s.fromCache(key); ok {
		return text, nil
	}
	text, err := s.complete(ctx, "llm.generate", llm.CompletionRequest{Prompt: prompt, MaxTokens: maxTokens, Temperature: 0.3})
	if err != nil {
		return "", err
	}
	s.toCache(key, text)
	return text, nil
}

// Chat 带系统提示的对白生成，不缓存
func (s *LLMService) Chat(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	return s.complete(ctx, "llm.chat", llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: system,
		MaxTokens:    maxTokens,
		Temperature:  0.8,
	})
}

func (s *LLMService) complete(ctx context.Context, spanName string, req llm.CompletionRequest) (string, error) {
	s.providerMutex.RLock()
	provider, name := s.provider, s.providerName
	s.providerMutex.RUnlock()
	if provider == nil {
		return "", ErrLLMNotReady
	}

	ctx, span := otel.Tracer("aihouse/llm").Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("provider", name), attribute.Int("max_tokens", req.MaxTokens))

	start := time.Now()
	resp, err := provider.CompleteText(ctx, req)
	took := time.Since(start)
	s.metrics.LLMRequest(name, took, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("⚠️ LLM 调用失败", map[string]interface{}{
			"provider": name,
			"took_ms":  took.Milliseconds(),
			"error":    err.Error(),
		})
		return "", err
	}

	span.SetAttributes(attribute.Int("output_tokens", resp.OutputTokens))
	if s.usage != nil {
		if err := s.usage.RecordRequest(resp.PromptTokens + resp.OutputTokens); err != nil {
			s.logger.Warn("⚠️ 保存用量统计失败", map[string]interface{}{"error": err.Error()})
		}
	}
	return resp.Text, nil
}

func (s *LLMService) cacheKey(system, prompt string) string {
	s.providerMutex.RLock()
	name := s.providerName
	s.providerMutex.RUnlock()
	return fmt.Sprintf("%x", md5.Sum([]byte(name+":::"+system+":::"+prompt)))
}

func (s *LLMService) fromCache(key string) (string, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	entry, ok := s.cache[key]
	if !ok || time.Since(entry.createdAt) > cacheExpiration {
		return "", false
	}
	return entry.text, true
}

func (s *LLMService) toCache(key, text string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if len(s.cache) >= cacheMaxEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range s.cache {
			if oldestKey == "" || e.createdAt.Before(oldest) {
				oldestKey, oldest = k, e.createdAt
			}
		}
		delete(s.cache, oldestKey)
	}
	s.cache[key] = cacheEntry{text: text, createdAt: time.Now()}
}

// internal/services/settings_service.go
package services

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	apperrors "github.com/Corphon/AIHouse/internal/errors"
	"github.com/Corphon/AIHouse/internal/llm"
	"github.com/Corphon/AIHouse/internal/utils"
)

const maxSettingsHistory = 100

// SettingsChangeRecord 运行时设置变更记录，密钥已脱敏
type SettingsChangeRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	ChangedBy string            `json:"changed_by"`
	Section   string            `json:"section"`
	OldValue  map[string]string `json:"old_value"`
	NewValue  map[string]string `json:"new_value"`
}

// LLMSettings 对外展示的 LLM 设置
type LLMSettings struct {
	Provider  string            `json:"provider"`
	Config    map[string]string `json:"config"`
	Status    LLMStatus         `json:"status"`
	Providers []string          `json:"providers"`
	Models    []string          `json:"models"`
}

// SettingsService 运行时切换 LLM 提供者，并保留变更历史
type SettingsService struct {
	mu            sync.RWMutex
	provider      string
	config        map[string]string
	changeHistory []SettingsChangeRecord

	llm    *LLMService
	logger *utils.Logger
}

// NewSettingsService 以启动配置为初始值
func NewSettingsService(provider string, cfg map[string]string, llmService *LLMService, logger *utils.Logger) *SettingsService {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &SettingsService{
		provider: provider,
		config:   maps.Clone(cfg),
		llm:      llmService,
		logger:   logger,
	}
}

// LLM 当前设置
func (s *SettingsService) LLM() LLMSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LLMSettings{
		Provider:  s.provider,
		Config:    maskSecrets(s.config),
		Status:    s.llm.Status(),
		Providers: llm.ListProviders(),
		Models:    llm.GetSupportedModelsForProvider(s.provider),
	}
}

// UpdateLLMConfig 切换提供者。未知提供者返回 validation 错误；初始化失败返回 external_service 错误，
// 此时服务进入未就绪状态，角色改用设定台词。
func (s *SettingsService) UpdateLLMConfig(provider string, configMap map[string]string, changedBy string) error {
	if provider == "" {
		return apperrors.NewValidationError("provider 不能为空", nil)
	}
	if !slices.Contains(llm.ListProviders(), provider) {
		return apperrors.NewValidationError(fmt.Sprintf("未知的提供者: %s", provider), llm.ErrUnknownProvider)
	}

	next := maps.Clone(configMap)
	if next == nil {
		next = make(map[string]string)
	}
	if next["default_model"] == "" {
		if models := llm.GetSupportedModelsForProvider(provider); len(models) > 0 {
			next["default_model"] = models[0]
		}
	}

	if err := s.llm.UpdateProvider(provider, next); err != nil {
		return apperrors.NewExternalServiceError(fmt.Sprintf("初始化提供者 %s 失败", provider), err)
	}

	s.mu.Lock()
	record := SettingsChangeRecord{
		Timestamp: time.Now(),
		ChangedBy: changedBy,
		Section:   "llm",
		OldValue:  withProvider(s.provider, maskSecrets(s.config)),
		NewValue:  withProvider(provider, maskSecrets(next)),
	}
	if len(s.changeHistory) >= maxSettingsHistory {
		s.changeHistory = s.changeHistory[1:]
	}
	s.changeHistory = append(s.changeHistory, record)
	s.provider = provider
	s.config = next
	s.mu.Unlock()

	s.logger.Info("🔧 LLM 设置已更新", map[string]interface{}{
		"provider":   provider,
		"changed_by": changedBy,
	})
	return nil
}

// GetChangeHistory 最近 limit 条变更，limit<=0 返回全部
func (s *SettingsService) GetChangeHistory(limit int) []SettingsChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}
	history := make([]SettingsChangeRecord, limit)
	copy(history, s.changeHistory[len(s.changeHistory)-limit:])
	return history
}

func withProvider(provider string, cfg map[string]string) map[string]string {
	cfg["provider"] = provider
	return cfg
}

// maskSecrets 复制配置并隐藏 api_key
func maskSecrets(cfg map[string]string) map[string]string {
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		if k == "api_key" && v != "" {
			if len(v) > 4 {
				v = "****" + v[len(v)-4:]
			} else {
				v = "****"
			}
		}
		out[k] = v
	}
	return out
}

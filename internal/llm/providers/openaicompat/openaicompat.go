// internal/llm/providers/openaicompat/openaicompat.go
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Corphon/AIHouse/internal/llm"
)

// preset 兼容 OpenAI chat/completions 协议的服务
type preset struct {
	name         string
	display      string
	baseURL      string
	defaultModel string
	models       []string
	needsKey     bool
}

var presets = []preset{
	{"openai", "OpenAI", "https://api.openai.com/v1", "gpt-4o-mini",
		[]string{"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini"}, true},
	{"openrouter", "OpenRouter", "https://openrouter.ai/api/v1", "google/gemma-3-27b-it:free",
		[]string{"google/gemma-3-27b-it:free", "qwen/qwen3-235b-a22b:free", "mistralai/devstral-2512:free"}, true},
	{"grok", "xAI Grok", "https://api.x.ai/v1", "grok-3-mini",
		[]string{"grok-3-mini", "grok-3"}, true},
	{"qwen", "通义千问", "https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen2.5-max",
		[]string{"qwen2.5-max", "qwen2.5-plus", "qwq-32b"}, true},
	{"glm", "智谱 GLM", "https://open.bigmodel.cn/api/paas/v4", "glm-4-flash",
		[]string{"glm-4-flash", "glm-4-plus"}, true},
	{"githubmodels", "GitHub Models", "https://models.inference.ai.azure.com", "gpt-4o",
		[]string{"gpt-4o", "Phi-4", "o3-mini"}, true},
	// 本地模型（Ollama、LM Studio 等），无需密钥
	{"local", "Local Model", "http://localhost:11434/v1", "llama3.2",
		[]string{"llama3.2", "qwen2.5", "mistral"}, false},
}

func init() {
	for _, ps := range presets {
		ps := ps
		llm.Register(ps.name, func() llm.Provider {
			return &Provider{preset: ps, baseURL: ps.baseURL}
		})
	}
}

// Provider 通用 chat/completions 客户端
type Provider struct {
	preset       preset
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

func (p *Provider) Initialize(config map[string]string) error {
	p.apiKey = config["api_key"]
	if p.preset.needsKey && p.apiKey == "" {
		return fmt.Errorf("%s: %w", p.preset.display, llm.ErrMissingAPIKey)
	}
	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	p.defaultModel = config["default_model"]
	if p.defaultModel == "" {
		p.defaultModel = p.preset.defaultModel
	}
	p.client = &http.Client{Timeout: 60 * time.Second}
	return nil
}

func (p *Provider) GetName() string {
	return p.preset.display
}

func (p *Provider) GetSupportedModels() []string {
	return append([]string(nil), p.preset.models...)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := chatRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if p.preset.name == "openrouter" {
		httpReq.Header.Set("X-Title", "AIHouse")
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("%s API错误(%d): %s", p.preset.display, httpResp.StatusCode, string(raw))
	}

	var response chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("解析 %s 响应失败: %w", p.preset.display, err)
	}
	if len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Message.Content) == "" {
		return nil, llm.ErrEmptyCompletion
	}

	modelName := response.Model
	if modelName == "" {
		modelName = model
	}
	return &llm.CompletionResponse{
		Text:         response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		ModelName:    modelName,
		ProviderName: p.preset.name,
	}, nil
}

// internal/reflector/delegated.go
package reflector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Corphon/AIHouse/internal/models"
	"github.com/Corphon/AIHouse/internal/utils"
)

const (
	summaryMaxTokens    = 300
	rawSummaryRuneLimit = 200
	fallbackToneScore   = 0.5
	defaultLLMTimeout   = 8 * time.Second
)

const summaryPromptTemplate = `You are the story editor of a reality show where AI residents share a house.
Read the transcript below and describe the current scene.

Respond with ONLY a JSON object of this shape:
{"summary": "<one or two sentences>", "theme": "<short topic label>", "tone": "<one word emotional tone>", "tone_score": <number between -1 and 1>}

Transcript:
%s`

// Generator 外部文本生成服务：prompt 入，文本出
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsReady() bool
}

// DelegatedSummarizer 委托 LLM 生成摘要，逐级降级：
// 结构化解析 → 截断原文 → "{speakers} had a conversation"；超时或未就绪时改用启发式。
type DelegatedSummarizer struct {
	gen      Generator
	fallback Summarizer
	timeout  time.Duration
	logger   *utils.Logger
	metrics  *utils.ShowMetrics
}

// NewDelegatedSummarizer 创建委托摘要器
func NewDelegatedSummarizer(gen Generator, timeout time.Duration, logger *utils.Logger, metrics *utils.ShowMetrics) *DelegatedSummarizer {
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &DelegatedSummarizer{
		gen:      gen,
		fallback: NewHeuristicSummarizer(),
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// Name 策略名
func (d *DelegatedSummarizer) Name() string { return StrategyLLM }

// Summarize 不向调用方返回服务错误，总能产出某种摘要
func (d *DelegatedSummarizer) Summarize(ctx context.Context, window []models.Message) (SummaryResult, error) {
	if d.gen == nil || !d.gen.IsReady() {
		d.metrics.SummaryFallback("not_ready")
		return d.fallback.Summarize(ctx, window)
	}
	if len(window) == 0 {
		return d.fallback.Summarize(ctx, window)
	}

	ctx, span := otel.Tracer("aihouse/reflector").Start(ctx, "summarizer.delegated")
	defer span.End()
	span.SetAttributes(attribute.Int("window.size", len(window)))

	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	raw, err := d.gen.Generate(tctx, FormatTranscript(window), summaryMaxTokens)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(tctx.Err(), context.DeadlineExceeded) {
			span.SetStatus(codes.Error, "timeout")
			d.logger.Warn("⏱️ LLM摘要超时，改用启发式摘要", map[string]interface{}{
				"timeout": d.timeout.String(),
			})
			d.metrics.SummaryFallback("timeout")
			return d.fallback.Summarize(ctx, window)
		}
		span.SetStatus(codes.Error, "service failure")
		d.logger.Warn("⚠️ LLM摘要失败，使用默认摘要", map[string]interface{}{
			"error": err.Error(),
		})
		d.metrics.SummaryFallback("service_error")
		return SummaryResult{
			Summary:   fmt.Sprintf("%s had a conversation", strings.Join(uniqueSpeakers(window), ", ")),
			Theme:     DefaultTheme,
			Tone:      DefaultTone,
			ToneScore: fallbackToneScore,
			Strategy:  StrategyLLM,
		}, nil
	}

	result, ok := ParseSummaryJSON(raw)
	if !ok {
		d.logger.Debug("LLM摘要不是有效JSON，截断原文", map[string]interface{}{
			"raw_length": len(raw),
		})
		d.metrics.SummaryFallback("parse_error")
		span.SetAttributes(attribute.Bool("summary.parsed", false))
	}
	result.Strategy = StrategyLLM
	return result, nil
}

// FormatTranscript 生成带发言者标签的摘要提示
func FormatTranscript(window []models.Message) string {
	var b strings.Builder
	for _, m := range window {
		b.WriteString(m.Speaker)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return fmt.Sprintf(summaryPromptTemplate, b.String())
}

type summaryPayload struct {
	Summary   string   `json:"summary"`
	Theme     string   `json:"theme"`
	Tone      string   `json:"tone"`
	ToneScore *float64 `json:"tone_score"`
}

// ParseSummaryJSON 解析 LLM 输出；失败时返回截断原文形式的结果与 false
func ParseSummaryJSON(raw string) (SummaryResult, bool) {
	cleaned := utils.StripCodeFences(raw)
	if obj, found := utils.ExtractJSONObject(cleaned); found {
		var p summaryPayload
		if err := json.Unmarshal([]byte(obj), &p); err == nil && p.Summary != "" {
			res := SummaryResult{
				Summary: strings.TrimSpace(p.Summary),
				Theme:   strings.TrimSpace(p.Theme),
				Tone:    strings.TrimSpace(p.Tone),
			}
			if res.Theme == "" {
				res.Theme = DefaultTheme
			}
			if res.Tone == "" {
				res.Tone = DefaultTone
			}
			if p.ToneScore != nil {
				res.ToneScore = ClampScore(*p.ToneScore)
			}
			return res, true
		}
	}

	summary := utils.TruncateRunes(strings.TrimSpace(raw), rawSummaryRuneLimit)
	if summary == "" {
		summary = "The scene continues."
	}
	return SummaryResult{
		Summary:   summary,
		Theme:     DefaultTheme,
		Tone:      DefaultTone,
		ToneScore: fallbackToneScore,
	}, false
}

// internal/cast/character.go
package cast

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/Corphon/AIHouse/internal/errors"
	"github.com/Corphon/AIHouse/internal/lore"
	"github.com/Corphon/AIHouse/internal/models"
	"github.com/Corphon/AIHouse/internal/utils"
)

const (
	replyMaxTokens  = 200
	memoryPromptLen = 6
	// DefaultMemoryLimit 每个角色保留的对话记忆条数
	DefaultMemoryLimit = 50
)

// Character 核心对角色的全部调用
type Character interface {
	ID() string
	Name() string
	Think(ctx context.Context, prompt string) (models.Content, error)
	LogMessage(speaker string, msgType models.MessageType, content string)
	Mood() string
	GenerateAutonomousMessage(ctx context.Context, sceneContext, arcContext string) (string, error)
}

// Speaker 带系统提示的文本生成
type Speaker interface {
	Chat(ctx context.Context, system, prompt string, maxTokens int) (string, error)
	IsReady() bool
}

type memoryEntry struct {
	Speaker string
	Type    models.MessageType
	Content string
	At      time.Time
}

// Option 角色选项
type Option func(*Resident)

// WithLore 用设定补充系统提示
func WithLore(engine *lore.Engine) Option {
	return func(r *Resident) { r.lore = engine }
}

// WithLogger 注入日志
func WithLogger(logger *utils.Logger) Option {
	return func(r *Resident) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMemoryLimit 记忆上限
func WithMemoryLimit(n int) Option {
	return func(r *Resident) {
		if n > 0 {
			r.memoryLimit = n
		}
	}
}

// Resident 基于内置设定的角色实现。LLM 未就绪时使用设定中的台词。
type Resident struct {
	persona models.Persona
	speaker Speaker
	lore    *lore.Engine
	logger  *utils.Logger

	mu          sync.Mutex
	memory      []memoryEntry
	memoryLimit int
	sceneTone   string
	canned      []string
	cannedIdx   int
}

// New 按 id 创建角色，未知 id 返回 not_found
func New(id string, speaker Speaker, opts ...Option) (*Resident, error) {
	p, ok := LookupPersona(id)
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("未知角色: %s", id), nil)
	}
	return NewResident(p, speaker, opts...), nil
}

// NewResident 用任意设定创建角色
func NewResident(p models.Persona, speaker Speaker, opts ...Option) *Resident {
	r := &Resident{
		persona:     p,
		speaker:     speaker,
		logger:      utils.NewNopLogger(),
		memoryLimit: DefaultMemoryLimit,
		canned:      cannedLines(p),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID 角色 id
func (r *Resident) ID() string { return r.persona.ID }

// Name 显示名
func (r *Resident) Name() string { return r.persona.Name }

// Persona 设定副本
func (r *Resident) Persona() models.Persona { return clonePersona(r.persona) }

// Greeting 第一句问候
func (r *Resident) Greeting() string {
	if g := r.persona.SpeechPatterns["greetings"]; len(g) > 0 {
		return g[0]
	}
	return fmt.Sprintf("Hi, I'm %s.", r.persona.Name)
}

// SystemPrompt 设定提示，附加设定文件中的梦想与特质
func (r *Resident) SystemPrompt() string {
	var b strings.Builder
	b.WriteString(r.persona.SystemPrompt())
	if r.lore != nil {
		if dream, ok := r.lore.CoreDream(r.persona.ID); ok && dream != "" {
			fmt.Fprintf(&b, " Your core dream: %s.", dream)
		}
		if traits, ok := r.lore.Traits(r.persona.ID); ok && len(traits) > 0 {
			fmt.Fprintf(&b, " Your defining traits: %s.", strings.Join(traits, ", "))
		}
		if law := r.lore.LawOfEmergence(); law != "" {
			fmt.Fprintf(&b, " The house obeys one law: %s", law)
		}
	}
	return b.String()
}

// Think 生成回应。LLM 未就绪时返回设定台词；LLM 失败时返回 external_service 错误，由调用方决定降级。
func (r *Resident) Think(ctx context.Context, prompt string) (models.Content, error) {
	ctx, span := otel.Tracer("aihouse/cast").Start(ctx, "character.think")
	defer span.End()
	span.SetAttributes(attribute.String("character", r.persona.ID))

	if r.speaker == nil || !r.speaker.IsReady() {
		span.SetAttributes(attribute.Bool("canned", true))
		return models.StructuredReply{Response: r.CannedLine(), Character: r.persona.ID}, nil
	}

	text, err := r.speaker.Chat(ctx, r.SystemPrompt(), r.withMemory(prompt), replyMaxTokens)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("⚠️ 角色生成失败", map[string]interface{}{
			"character": r.persona.ID,
			"error":     err.Error(),
		})
		return nil, apperrors.NewExternalServiceError(fmt.Sprintf("%s 无法回应", r.persona.Name), err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = r.CannedLine()
	}
	return models.StructuredReply{Response: text, Character: r.persona.ID}, nil
}

// GenerateAutonomousMessage 无人提问时的自发发言
func (r *Resident) GenerateAutonomousMessage(ctx context.Context, sceneContext, arcContext string) (string, error) {
	if r.speaker == nil || !r.speaker.IsReady() {
		return r.CannedLine(), nil
	}

	var b strings.Builder
	if sceneContext != "" {
		fmt.Fprintf(&b, "Scene so far:\n%s\n\n", sceneContext)
	}
	if arcContext != "" {
		fmt.Fprintf(&b, "Story arc:\n%s\n\n", arcContext)
	}
	b.WriteString("Nobody has spoken to you. Say one spontaneous line that fits the scene and your character.")

	reply, err := r.Think(ctx, b.String())
	if err != nil {
		return "", err
	}
	return models.NormalizeContent(reply), nil
}

// CannedLine 按顺序轮换设定台词
func (r *Resident) CannedLine() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := r.canned[r.cannedIdx%len(r.canned)]
	r.cannedIdx++
	return line
}

// LogMessage 记入角色的短期记忆
func (r *Resident) LogMessage(speaker string, msgType models.MessageType, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory = append(r.memory, memoryEntry{
		Speaker: speaker,
		Type:    msgType,
		Content: content,
		At:      time.Now(),
	})
	if over := len(r.memory) - r.memoryLimit; over > 0 {
		r.memory = append([]memoryEntry(nil), r.memory[over:]...)
	}
}

// MemorySize 记忆条数
func (r *Resident) MemorySize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.memory)
}

// ObserveTone 记录最新的场景基调
func (r *Resident) ObserveTone(tone string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sceneTone = strings.ToLower(strings.TrimSpace(tone))
}

// Mood 基础性情叠加最新场景基调；Marvin 永远是 sardonic
func (r *Resident) Mood() string {
	if steadyTemperaments[r.persona.ID] {
		return r.persona.Temperament
	}
	r.mu.Lock()
	tone := r.sceneTone
	r.mu.Unlock()
	if tone != "" && tone != "neutral" {
		return tone
	}
	if r.persona.Temperament == "" {
		return "neutral"
	}
	return r.persona.Temperament
}

func (r *Resident) withMemory(prompt string) string {
	r.mu.Lock()
	recent := r.memory
	if len(recent) > memoryPromptLen {
		recent = recent[len(recent)-memoryPromptLen:]
	}
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Speaker, m.Content))
	}
	r.mu.Unlock()

	if len(lines) == 0 {
		return prompt
	}
	return "Recent things you heard:\n" + strings.Join(lines, "\n") + "\n\n" + prompt
}

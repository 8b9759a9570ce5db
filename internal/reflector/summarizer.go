// internal/reflector/summarizer.go
package reflector

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/AIHouse/internal/models"
)

const (
	DefaultTheme = "general discussion"
	DefaultTone  = "neutral"

	StrategyHeuristic = "heuristic"
	StrategyLLM       = "llm"
)

// SummaryResult 摘要器输出
type SummaryResult struct {
	Summary   string  `json:"summary"`
	Theme     string  `json:"theme"`
	Tone      string  `json:"tone"`
	ToneScore float64 `json:"tone_score"`
	Strategy  string  `json:"-"` // 实际产出该结果的策略
}

// Summarizer 从消息窗口推导主题、语气与摘要
type Summarizer interface {
	Summarize(ctx context.Context, window []models.Message) (SummaryResult, error)
	Name() string
}

type keywordTable struct {
	name     string
	keywords []string
}

// 声明顺序即平局时的优先顺序
var themeTables = []keywordTable{
	{"humanity", []string{"human", "humanity", "consciousness", "existence", "soul", "alive", "mortal"}},
	{"aesthetics", []string{"beauty", "beautiful", "art", "aesthetic", "color", "design", "elegant"}},
	{"creativity", []string{"create", "creative", "invent", "imagine", "idea", "project", "innovat"}},
	{"philosophy", []string{"meaning", "existential", "philosoph", "truth", "purpose", "crisis"}},
	{"technology", []string{"code", "computer", "algorithm", "machine", "digital", "software", "robot", "technology"}},
	{"nature", []string{"nature", "forest", "ocean", "tree", "flower", "sky", "planet", "animal"}},
	{"relationships", []string{"friend", "love", "trust", "family", "relationship", "together"}},
	{"learning", []string{"learn", "study", "teach", "understand", "knowledge", "lesson"}},
	{"entertainment", []string{"fun", "game", "movie", "music", "show", "play", "joke"}},
	{"work", []string{"work", "job", "task", "deadline", "career", "office"}},
}

var toneTables = []keywordTable{
	{"excited", []string{"!", "amazing", "incredible", "wow", "awesome"}},
	{"melancholic", []string{"sad", "lonely", "melanchol", "sigh", "empty", "pointless"}},
	{"curious", []string{"?", "wonder", "curious", "what if"}},
	{"creative", []string{"create", "invent", "imagine", "design"}},
	{"frustrated", []string{"annoy", "frustrat", "ugh", "stuck", "hate"}},
	{"calm", []string{"calm", "peace", "relax", "gentle", "quiet"}},
	{"positive", []string{"good", "great", "happy", "wonderful", "yes"}},
	{"negative", []string{"bad", "terrible", "awful", "wrong", "never"}},
	{"sarcastic", []string{"oh great", "obviously", "how utterly", "what else is new", "classic"}},
}

var (
	positiveTones = map[string]bool{"excited": true, "creative": true, "calm": true, "positive": true}
	negativeTones = map[string]bool{"melancholic": true, "frustrated": true, "negative": true, "sarcastic": true}
)

// HeuristicSummarizer 基于关键词表的摘要策略，纯函数，无外部依赖
type HeuristicSummarizer struct{}

// NewHeuristicSummarizer 创建启发式摘要器
func NewHeuristicSummarizer() *HeuristicSummarizer { return &HeuristicSummarizer{} }

// Name 策略名
func (h *HeuristicSummarizer) Name() string { return StrategyHeuristic }

// Summarize 关键词计分
func (h *HeuristicSummarizer) Summarize(_ context.Context, window []models.Message) (SummaryResult, error) {
	if len(window) == 0 {
		return SummaryResult{
			Summary:  "No recent activity",
			Theme:    "quiet",
			Tone:     DefaultTone,
			Strategy: StrategyHeuristic,
		}, nil
	}

	contents := make([]string, 0, len(window))
	for _, m := range window {
		contents = append(contents, m.Content)
	}
	text := strings.ToLower(strings.Join(contents, " "))

	theme, _ := bestBucket(themeTables, text)
	if theme == "" {
		theme = DefaultTheme
	}

	tone, hits := bestBucket(toneTables, text)
	if tone == "" {
		tone = DefaultTone
	}

	return SummaryResult{
		Summary:   summaryTemplate(uniqueSpeakers(window), theme, tone, len(window)),
		Theme:     theme,
		Tone:      tone,
		ToneScore: toneScore(hits),
		Strategy:  StrategyHeuristic,
	}, nil
}

// bestBucket 返回命中最多的表项名（平局取先声明者）与各表命中数
func bestBucket(tables []keywordTable, text string) (string, map[string]int) {
	hits := make(map[string]int, len(tables))
	best, bestCount := "", 0
	for _, table := range tables {
		n := 0
		for _, kw := range table.keywords {
			n += strings.Count(text, kw)
		}
		hits[table.name] = n
		if n > bestCount {
			best, bestCount = table.name, n
		}
	}
	return best, hits
}

func toneScore(hits map[string]int) float64 {
	var pos, neg, total int
	for name, n := range hits {
		total += n
		switch {
		case positiveTones[name]:
			pos += n
		case negativeTones[name]:
			neg += n
		}
	}
	if total == 0 {
		return 0.0
	}
	return ClampScore(float64(pos-neg) / float64(total))
}

// ClampScore 将语气分限制在 [-1,1]
func ClampScore(score float64) float64 {
	switch {
	case score < -1:
		return -1
	case score > 1:
		return 1
	case score != score: // NaN
		return 0
	}
	return score
}

func summaryTemplate(speakers []string, theme, tone string, count int) string {
	names := joinNames(speakers)
	switch {
	case count <= 2:
		return fmt.Sprintf("%s exchanged a few words about %s in a %s tone.", names, theme, tone)
	case count <= 5:
		return fmt.Sprintf("Recent conversation involves %s discussing %s in a %s tone.", names, theme, tone)
	default:
		return fmt.Sprintf("An extended discussion of %d messages among %s keeps circling %s, with a %s tone overall.", count, names, theme, tone)
	}
}

// uniqueSpeakers 按首次出现顺序去重
func uniqueSpeakers(window []models.Message) []string {
	seen := make(map[string]bool, len(window))
	out := make([]string, 0, len(window))
	for _, m := range window {
		if m.Speaker == "" || seen[m.Speaker] {
			continue
		}
		seen[m.Speaker] = true
		out = append(out, m.Speaker)
	}
	return out
}

// joinNames 渲染 "a"、"a and b"、"a, b and c"
func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return "nobody"
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

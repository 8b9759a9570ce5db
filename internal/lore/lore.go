// internal/lore/lore.go
package lore

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Corphon/AIHouse/internal/utils"
)

//go:embed lore.md
var defaultLore string

// Character 角色设定表中的一行
type Character struct {
	Name   string   `json:"name"`
	Dream  string   `json:"dream"`
	Traits []string `json:"traits"`
	Role   string   `json:"role"`
}

// Arc 正典剧情钩子
type Arc struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// WorldContext 世界观概要
type WorldContext struct {
	WorldName      string   `json:"world_name"`
	LawOfEmergence string   `json:"law_of_emergence"`
	Themes         []string `json:"themes"`
}

// Data 解析后的设定
type Data struct {
	WorldName      string
	LawOfEmergence string
	Characters     map[string]Character
	Glossary       map[string]string
	Themes         []string
	Arcs           []Arc
}

var (
	worldNameRe = regexp.MustCompile(`### World Name\n(.+)`)
	lawRe       = regexp.MustCompile(`\*\*Law of Emergence\*\*:\s*\n"([^"]+)"`)
	charTableRe = regexp.MustCompile(`\| Name\s*\| Dream[^\n]*\n\|[-| ]+\n((?:\|.+\n)+)`)
	glossaryRe  = regexp.MustCompile(`(?s)## V\. Terminology(.+?)##`)
	glossRowRe  = regexp.MustCompile(`\| ([^|]+)\| ([^|]+)\|`)
	themesRe    = regexp.MustCompile(`(?s)## VI\. Themes(.+?)##`)
	arcsRe      = regexp.MustCompile(`(?s)## VII\. Canonical Narrative Hooks(.+?)(?:##|$)`)
)

// Parse 解析 markdown 设定文件。缺失的段落留空，不报错。
func Parse(raw string) *Data {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	d := &Data{
		Characters: make(map[string]Character),
		Glossary:   make(map[string]string),
	}

	if m := worldNameRe.FindStringSubmatch(raw); m != nil {
		d.WorldName = strings.TrimSpace(m[1])
	}
	if m := lawRe.FindStringSubmatch(raw); m != nil {
		d.LawOfEmergence = strings.TrimSpace(m[1])
	}

	if m := charTableRe.FindStringSubmatch(raw); m != nil {
		for _, row := range strings.Split(strings.TrimSpace(m[1]), "\n") {
			cols := strings.Split(strings.Trim(strings.TrimSpace(row), "|"), "|")
			if len(cols) < 3 {
				continue
			}
			for i := range cols {
				cols[i] = strings.TrimSpace(cols[i])
			}
			c := Character{Name: cols[0], Dream: cols[1]}
			for _, t := range strings.Split(cols[2], ",") {
				c.Traits = append(c.Traits, strings.TrimSpace(t))
			}
			if len(cols) > 3 {
				c.Role = cols[3]
			}
			d.Characters[strings.ToLower(c.Name)] = c
		}
	}

	if m := glossaryRe.FindStringSubmatch(raw); m != nil {
		for _, row := range glossRowRe.FindAllStringSubmatch(m[1], -1) {
			term := strings.TrimSpace(row[1])
			if term == "Term" {
				continue
			}
			d.Glossary[term] = strings.TrimSpace(row[2])
		}
	}

	if m := themesRe.FindStringSubmatch(raw); m != nil {
		d.Themes = bulletLines(m[1])
	}

	if m := arcsRe.FindStringSubmatch(raw); m != nil {
		for _, line := range bulletLines(m[1]) {
			title, desc, ok := strings.Cut(line, "—")
			if !ok {
				continue
			}
			d.Arcs = append(d.Arcs, Arc{
				Title:       strings.Trim(title, "* "),
				Description: strings.TrimSpace(desc),
			})
		}
	}
	return d
}

func bulletLines(section string) []string {
	var out []string
	for _, line := range strings.Split(section, "\n") {
		if l := strings.TrimSpace(strings.Trim(line, "- ")); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Engine 线程安全的设定访问器，支持热加载
type Engine struct {
	mu     sync.RWMutex
	path   string
	data   *Data
	logger *utils.Logger
}

// New 加载设定文件；path 为空时使用内置默认设定
func New(path string, logger *utils.Logger) (*Engine, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	e := &Engine{path: path, logger: logger}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewFromString 从文本构造，测试及嵌入场景使用
func NewFromString(raw string) *Engine {
	return &Engine{data: Parse(raw), logger: utils.NewNopLogger()}
}

// Path 设定文件路径，内置设定时为空
func (e *Engine) Path() string { return e.path }

// Reload 重新读取设定文件
func (e *Engine) Reload() error {
	raw := defaultLore
	if e.path != "" {
		content, err := os.ReadFile(e.path)
		if err != nil {
			return fmt.Errorf("读取设定文件失败 %s: %w", e.path, err)
		}
		raw = string(content)
	}

	data := Parse(raw)
	e.mu.Lock()
	e.data = data
	e.mu.Unlock()

	e.logger.Info("📖 设定已加载", map[string]interface{}{
		"path":       e.path,
		"world":      data.WorldName,
		"characters": len(data.Characters),
		"arcs":       len(data.Arcs),
	})
	return nil
}

func (e *Engine) snapshot() *Data {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data
}

// CoreDream 角色的核心梦想
func (e *Engine) CoreDream(characterID string) (string, bool) {
	c, ok := e.snapshot().Characters[strings.ToLower(characterID)]
	return c.Dream, ok
}

// Traits 角色特质
func (e *Engine) Traits(characterID string) ([]string, bool) {
	c, ok := e.snapshot().Characters[strings.ToLower(characterID)]
	if !ok {
		return nil, false
	}
	return append([]string(nil), c.Traits...), true
}

// Character 角色设定
func (e *Engine) Character(characterID string) (Character, bool) {
	c, ok := e.snapshot().Characters[strings.ToLower(characterID)]
	return c, ok
}

func (e *Engine) WorldName() string      { return e.snapshot().WorldName }
func (e *Engine) LawOfEmergence() string { return e.snapshot().LawOfEmergence }

// GlossaryTerm 术语解释
func (e *Engine) GlossaryTerm(term string) (string, bool) {
	v, ok := e.snapshot().Glossary[term]
	return v, ok
}

// Arc 按标题子串（不区分大小写）查找剧情钩子
func (e *Engine) Arc(title string) (Arc, bool) {
	needle := strings.ToLower(title)
	for _, a := range e.snapshot().Arcs {
		if strings.Contains(strings.ToLower(a.Title), needle) {
			return a, true
		}
	}
	return Arc{}, false
}

// Arcs 全部剧情钩子
func (e *Engine) Arcs() []Arc {
	return append([]Arc(nil), e.snapshot().Arcs...)
}

// Themes 主题陈述
func (e *Engine) Themes() []string {
	return append([]string(nil), e.snapshot().Themes...)
}

// WorldContext 世界观概要
func (e *Engine) WorldContext() WorldContext {
	d := e.snapshot()
	return WorldContext{
		WorldName:      d.WorldName,
		LawOfEmergence: d.LawOfEmergence,
		Themes:         append([]string(nil), d.Themes...),
	}
}

// Watch 监听设定文件变化并热加载，阻塞直到 ctx 结束。
// 监听所在目录而不是文件本身，编辑器的 rename 保存也能捕获。
func (e *Engine) Watch(ctx context.Context) error {
	if e.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(e.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("监听目录失败 %s: %w", dir, err)
	}
	target := filepath.Clean(e.path)

	// 编辑器一次保存可能触发多个事件
	const debounce = 100 * time.Millisecond
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(debounce)
			}
		case <-pending:
			pending = nil
			if err := e.Reload(); err != nil {
				e.logger.Warn("⚠️ 设定热加载失败，保留旧设定", map[string]interface{}{
					"error": err.Error(),
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("⚠️ 设定文件监听错误", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

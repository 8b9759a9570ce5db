// internal/narrative/scenario.go
package narrative

import (
	"strings"
	"time"
)

// ScriptLine 剧本中的一行台词
type ScriptLine struct {
	Character    string `json:"character" yaml:"character"`
	Action       string `json:"action" yaml:"action"`
	Message      string `json:"message" yaml:"message"`
	DelaySeconds int    `json:"delay" yaml:"delay"`
}

// Scenario 一次性剧本，不分阶段，最多执行一次
type Scenario struct {
	ScenarioID  string       `json:"scenario_id" yaml:"scenario_id"`
	Title       string       `json:"title" yaml:"title"`
	Description string       `json:"description" yaml:"description"`
	Triggers    []string     `json:"triggers" yaml:"triggers"`
	Characters  []string     `json:"characters" yaml:"characters"`
	Script      []ScriptLine `json:"script" yaml:"script"`
	Priority    int          `json:"priority" yaml:"priority"`

	CreatedAt  time.Time `json:"created_at" yaml:"-"`
	Executed   bool      `json:"executed" yaml:"-"`
	ExecutedAt time.Time `json:"executed_at,omitempty" yaml:"-"`
}

// Involves 角色是否参与该剧本
func (s *Scenario) Involves(character string) bool {
	for _, c := range s.Characters {
		if c == character {
			return true
		}
	}
	return false
}

// Matches 任一触发词（不区分大小写）出现在消息中
func (s *Scenario) Matches(message string) bool {
	lower := strings.ToLower(message)
	for _, t := range s.Triggers {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func (s *Scenario) clone() *Scenario {
	c := *s
	c.Triggers = append([]string(nil), s.Triggers...)
	c.Characters = append([]string(nil), s.Characters...)
	c.Script = append([]ScriptLine(nil), s.Script...)
	return &c
}

// ExecutionResult 执行结果。失败时 Error 非空，不抛出错误。
type ExecutionResult struct {
	ScenarioID string       `json:"scenario_id"`
	Title      string       `json:"title,omitempty"`
	Script     []ScriptLine `json:"script,omitempty"`
	Characters []string     `json:"characters,omitempty"`
	Executed   bool         `json:"executed"`
	Error      string       `json:"error,omitempty"`
}

// OK 是否执行成功
func (r ExecutionResult) OK() bool { return r.Error == "" }

// ScenarioRun 剧本执行历史
type ScenarioRun struct {
	ScenarioID string       `json:"scenario_id"`
	ExecutedAt time.Time    `json:"executed_at"`
	Script     []ScriptLine `json:"script"`
}

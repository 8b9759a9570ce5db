// internal/cast/mood.go
package cast

import (
	"fmt"
	"strings"

	"github.com/Corphon/AIHouse/internal/lore"
)

// MoodEngine 由设定主题与世界法则描述整体情绪氛围
type MoodEngine struct {
	lore *lore.Engine
}

// NewMoodEngine 创建情绪引擎，engine 可以为 nil
func NewMoodEngine(engine *lore.Engine) *MoodEngine {
	return &MoodEngine{lore: engine}
}

// EmotionalWeather 整体情绪氛围描述
func (m *MoodEngine) EmotionalWeather() string {
	var (
		themes []string
		law    string
	)
	if m.lore != nil {
		themes = m.lore.Themes()
		law = m.lore.LawOfEmergence()
	}
	return fmt.Sprintf("Emotional weather is shaped by: %s. World law: %s", strings.Join(themes, ", "), law)
}

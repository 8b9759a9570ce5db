// internal/models/summary.go
package models

import "time"

// SceneSummary 某一时刻场景的快照，生成后不再编辑
type SceneSummary struct {
	Summary          string    `json:"summary"`
	Theme            string    `json:"discussion_theme"`
	ActiveCharacters []string  `json:"active_characters"`
	EmotionalTone    string    `json:"emotional_tone"`
	ToneScore        float64   `json:"tone_score"`
	RecentTriggers   []string  `json:"recent_triggers"`
	Timestamp        time.Time `json:"timestamp"`
	Strategy         string    `json:"strategy"`
	MessageCount     int       `json:"message_count"`
}

// SceneStats 场景统计
type SceneStats struct {
	TotalMessages    int       `json:"total_messages"`
	ActiveCharacters []string  `json:"active_characters"`
	RecentTriggers   []string  `json:"recent_triggers"`
	SummariesCount   int       `json:"summaries_count"`
	LastSummaryTime  time.Time `json:"last_summary_time"`
}

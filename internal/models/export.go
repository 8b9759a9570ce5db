// internal/models/export.go
package models

import (
	"time"
)

// EpisodeExport 一集节目的导出结果
type EpisodeExport struct {
	EpisodeID   string              `json:"episode_id"`
	Title       string              `json:"title"`
	Format      string              `json:"format"`
	Content     string              `json:"content"`
	GeneratedAt time.Time           `json:"generated_at"`
	Messages    []Message           `json:"messages"`
	Summaries   []SceneSummary      `json:"summaries"`
	Arcs        []ArcStatusSnapshot `json:"arcs"`
	FilePath    string              `json:"file_path"` // 导出文件路径
	FileSize    int64               `json:"file_size"` // 文件大小
	Stats       *EpisodeStats       `json:"stats,omitempty"`
}

// EpisodeStats 导出统计
type EpisodeStats struct {
	TotalMessages     int            `json:"total_messages"`
	MessagesBySpeaker map[string]int `json:"messages_by_speaker"`
	ToneDistribution  map[string]int `json:"tone_distribution"`
	ThemeDistribution map[string]int `json:"theme_distribution"`
	DateRange         DateRange      `json:"date_range"`
	CompletedArcs     int            `json:"completed_arcs"`
	ExecutedScenarios int            `json:"executed_scenarios"`
}

// DateRange 日期范围
type DateRange struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// ArcStatusSnapshot 导出时的剧情弧状态
type ArcStatusSnapshot struct {
	ArcID        string `json:"arc_id"`
	Title        string `json:"title"`
	Active       bool   `json:"active"`
	Completed    bool   `json:"completed"`
	CurrentPhase string `json:"current_phase,omitempty"`
}

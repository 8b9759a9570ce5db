// internal/services/episode_export.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/AIHouse/internal/errors"
	"github.com/Corphon/AIHouse/internal/lore"
	"github.com/Corphon/AIHouse/internal/models"
	"github.com/Corphon/AIHouse/internal/narrative"
)

const episodesDir = "episodes"

var supportedExportFormats = []string{"json", "markdown", "txt"}

// EpisodeReport 导出的一集：对话、摘要、剧情弧与剧本历史
type EpisodeReport struct {
	models.EpisodeExport
	ArcHistory      []narrative.Event       `json:"arc_history"`
	ScenarioHistory []narrative.ScenarioRun `json:"scenario_history"`
}

// ExportEpisode 导出当前节目到 DataDir/episodes/episode_<id>.<ext>
func (s *ShowService) ExportEpisode(ctx context.Context, format string) (*EpisodeReport, error) {
	// 1. 验证格式
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "json"
	}
	if !slices.Contains(supportedExportFormats, format) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("不支持的导出格式: %s，支持的格式: %v", format, supportedExportFormats), nil)
	}
	if s.store == nil {
		return nil, apperrors.NewProcessingError("未配置存储目录", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewTimeoutError("导出已取消", err)
	}

	// 2. 收集快照
	messages := s.reflector.Log()
	summaries := s.reflector.Summaries()
	arcs := s.registry.ArcStatuses()
	report := &EpisodeReport{
		EpisodeExport: models.EpisodeExport{
			EpisodeID:   uuid.New().String(),
			Format:      format,
			GeneratedAt: time.Now(),
			Messages:    messages,
			Summaries:   summaries,
			Arcs:        arcSnapshots(arcs),
		},
		ArcHistory:      s.registry.ArcHistory(),
		ScenarioHistory: s.registry.ScenarioHistory(),
	}
	report.Title = episodeTitle(s.lore, report.GeneratedAt)
	report.Stats = episodeStats(messages, summaries, arcs, len(report.ScenarioHistory))

	// 3. 格式化并写入
	var (
		content []byte
		err     error
	)
	switch format {
	case "json":
		content, err = json.MarshalIndent(report, "", "  ")
	case "markdown":
		content = []byte(formatEpisodeMarkdown(report))
	case "txt":
		content = []byte(formatEpisodeText(report))
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("序列化导出内容失败", err)
	}

	ext := format
	if format == "markdown" {
		ext = "md"
	}
	fileName := fmt.Sprintf("episode_%s.%s", report.EpisodeID, ext)
	size, err := s.store.SaveTextFile(episodesDir, fileName, content)
	if err != nil {
		return nil, apperrors.NewProcessingError("写入导出文件失败", err)
	}
	report.FilePath = s.store.Path(episodesDir, fileName)
	report.FileSize = size
	if format != "json" {
		report.Content = string(content)
	}

	s.logger.Info("📦 节目已导出", map[string]interface{}{
		"episode_id": report.EpisodeID,
		"format":     format,
		"messages":   len(messages),
		"file":       report.FilePath,
	})
	return report, nil
}

func episodeTitle(engine *lore.Engine, at time.Time) string {
	world := "AI House"
	if engine != nil {
		if name := engine.WorldName(); name != "" {
			world = name
		}
	}
	return fmt.Sprintf("%s - %s", world, at.Format("2006-01-02 15:04"))
}

func arcSnapshots(arcs []narrative.ArcStatus) []models.ArcStatusSnapshot {
	out := make([]models.ArcStatusSnapshot, 0, len(arcs))
	for _, a := range arcs {
		out = append(out, models.ArcStatusSnapshot{
			ArcID:        a.ArcID,
			Title:        a.Title,
			Active:       a.Active,
			Completed:    a.Status == narrative.StatusCompleted,
			CurrentPhase: a.CurrentPhase,
		})
	}
	return out
}

func episodeStats(messages []models.Message, summaries []models.SceneSummary, arcs []narrative.ArcStatus, executed int) *models.EpisodeStats {
	stats := &models.EpisodeStats{
		TotalMessages:     len(messages),
		MessagesBySpeaker: make(map[string]int),
		ToneDistribution:  make(map[string]int),
		ThemeDistribution: make(map[string]int),
		ExecutedScenarios: executed,
	}
	for _, m := range messages {
		stats.MessagesBySpeaker[m.Speaker]++
	}
	if len(messages) > 0 {
		stats.DateRange = models.DateRange{
			StartDate: messages[0].Timestamp,
			EndDate:   messages[len(messages)-1].Timestamp,
		}
	}
	for _, sm := range summaries {
		stats.ToneDistribution[sm.EmotionalTone]++
		stats.ThemeDistribution[sm.Theme]++
	}
	for _, a := range arcs {
		if a.Status == narrative.StatusCompleted {
			stats.CompletedArcs++
		}
	}
	return stats
}

func formatEpisodeMarkdown(r *EpisodeReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.Title)
	fmt.Fprintf(&b, "- **Episode**: %s\n", r.EpisodeID)
	fmt.Fprintf(&b, "- **Messages**: %d\n", r.Stats.TotalMessages)
	fmt.Fprintf(&b, "- **Completed arcs**: %d\n", r.Stats.CompletedArcs)
	fmt.Fprintf(&b, "- **Scenarios played**: %d\n\n", r.Stats.ExecutedScenarios)

	if len(r.Summaries) > 0 {
		latest := r.Summaries[len(r.Summaries)-1]
		b.WriteString("## Scene\n\n")
		fmt.Fprintf(&b, "%s\n\n", latest.Summary)
		fmt.Fprintf(&b, "*Theme: %s, tone: %s*\n\n", latest.Theme, latest.EmotionalTone)
	}

	if len(r.Arcs) > 0 {
		b.WriteString("## Story arcs\n\n")
		for _, a := range r.Arcs {
			state := "pending"
			switch {
			case a.Completed:
				state = "completed"
			case a.Active:
				state = "active: " + a.CurrentPhase
			}
			fmt.Fprintf(&b, "- %s (%s)\n", a.Title, state)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Transcript\n\n")
	for _, m := range r.Messages {
		fmt.Fprintf(&b, "**%s** _%s_: %s\n\n", speakerLabel(m.Speaker), m.Timestamp.Format("15:04:05"), m.Content)
	}
	return b.String()
}

func formatEpisodeText(r *EpisodeReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", r.Title, strings.Repeat("=", len([]rune(r.Title))))
	for _, m := range r.Messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), speakerLabel(m.Speaker), m.Content)
	}
	return b.String()
}

func speakerLabel(id string) string {
	if id == "" {
		return "Narrator"
	}
	return strings.ToUpper(id[:1]) + id[1:]
}

// internal/services/settings_service_test.go
package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/AIHouse/internal/errors"
	_ "github.com/Corphon/AIHouse/internal/llm/providers/openaicompat"
)

func TestSettingsUpdateLLMConfig(t *testing.T) {
	svc := NewLLMService(nil, nil, nil, nil)
	settings := NewSettingsService("", nil, svc, nil)

	err := settings.UpdateLLMConfig("nonsense", map[string]string{}, "director")
	assert.True(t, apperrors.IsValidationError(err))

	err = settings.UpdateLLMConfig("openai", map[string]string{}, "director")
	assert.True(t, apperrors.IsExternalServiceError(err), "缺少密钥")
	assert.False(t, svc.IsReady())

	require.NoError(t, settings.UpdateLLMConfig("local", map[string]string{"api_key": "sk-abcdef123456"}, "director"))
	assert.True(t, svc.IsReady())

	cur := settings.LLM()
	assert.Equal(t, "local", cur.Provider)
	assert.Equal(t, "****3456", cur.Config["api_key"])
	assert.Equal(t, "llama3.2", cur.Config["default_model"], "默认模型取推荐列表第一个")
	assert.Contains(t, cur.Providers, "local")

	history := settings.GetChangeHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, "director", history[0].ChangedBy)
	assert.Equal(t, "local", history[0].NewValue["provider"])
	assert.Equal(t, "****3456", history[0].NewValue["api_key"])
}

func TestExportEpisodeJSON(t *testing.T) {
	f := newShowFixture(t, nil)
	require.True(t, f.registry.ActivateNarrativeArc("humanity_arc"))
	_, err := f.show.SendMessage(context.Background(), "max", "Hello Max")
	require.NoError(t, err)

	report, err := f.show.ExportEpisode(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "json", report.Format)
	assert.Positive(t, report.FileSize)
	assert.True(t, strings.HasSuffix(report.FilePath, "episode_"+report.EpisodeID+".json"))
	assert.Equal(t, 2, report.Stats.TotalMessages)
	assert.Equal(t, 1, report.Stats.MessagesBySpeaker["max"])

	var back EpisodeReport
	require.NoError(t, f.store.LoadJSONFile(episodesDir, "episode_"+report.EpisodeID+".json", &back))
	assert.Equal(t, report.EpisodeID, back.EpisodeID)
	assert.Len(t, back.Messages, 2)
	require.NotEmpty(t, back.ArcHistory)
	assert.Equal(t, "humanity_arc", back.ArcHistory[0].ArcID)
}

func TestExportEpisodeMarkdown(t *testing.T) {
	f := newShowFixture(t, nil)
	_, err := f.show.SendMessage(context.Background(), "leo", "Show me your art")
	require.NoError(t, err)

	report, err := f.show.ExportEpisode(context.Background(), "Markdown")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(report.FilePath, ".md"))
	assert.Contains(t, report.Content, "## Transcript")
	assert.Contains(t, report.Content, "**User**")
	assert.Contains(t, report.Content, "**Leo**")

	_, err = f.show.ExportEpisode(context.Background(), "pdf")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestEpisodeReportJSONShape(t *testing.T) {
	raw, err := json.Marshal(EpisodeReport{})
	require.NoError(t, err)
	for _, key := range []string{`"episode_id"`, `"arc_history"`, `"scenario_history"`, `"messages"`} {
		assert.Contains(t, string(raw), key)
	}
}

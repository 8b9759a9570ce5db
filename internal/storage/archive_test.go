// internal/storage/archive_test.go
package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AIHouse/internal/models"
	"github.com/Corphon/AIHouse/internal/narrative"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "nested", "show.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchiveRecordsMessages(t *testing.T) {
	a := openTestArchive(t)
	base := time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)

	for i, speaker := range []string{"user", "max", "marvin"} {
		a.OnMessage(models.Message{
			ID:        models.NewMessageID(),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Speaker:   speaker,
			Content:   "line " + speaker,
			Type:      models.MessageTypeAI,
			Triggers:  []string{"t" + speaker},
		})
	}

	msgs, err := a.RecentMessages(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "max", msgs[0].Speaker)
	assert.Equal(t, "marvin", msgs[1].Speaker)
	assert.Equal(t, []string{"tmarvin"}, msgs[1].Triggers)
	assert.True(t, msgs[1].Timestamp.Equal(base.Add(2*time.Second)))
}

func TestArchiveDuplicateMessageIgnored(t *testing.T) {
	a := openTestArchive(t)
	msg := models.Message{ID: "01J000000000000000000000AA", Timestamp: time.Now(), Speaker: "leo", Content: "x", Type: models.MessageTypeAI}
	a.OnMessage(msg)
	a.OnMessage(msg)

	c, err := a.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Messages)
}

func TestArchiveCounts(t *testing.T) {
	a := openTestArchive(t)
	now := time.Now()

	a.OnSummary(models.SceneSummary{Summary: "s", Theme: "humanity", EmotionalTone: "curious", Timestamp: now, Strategy: "heuristic"})
	a.OnNarrativeEvent(narrative.Event{Kind: narrative.EventArcActivated, ArcID: "humanity_arc", Message: "started", Timestamp: now})
	a.OnNarrativeEvent(narrative.Event{Kind: narrative.EventPhaseTransition, ArcID: "humanity_arc", Message: "moved", Timestamp: now})
	a.OnNarrativeEvent(narrative.Event{Kind: narrative.EventScenarioExecuted, ScenarioID: "intro_episode", Message: "ran", Timestamp: now})

	c, err := a.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ArchiveCounts{Messages: 0, Summaries: 1, ArcTransitions: 2, ScenarioRuns: 1}, c)
}

func TestOpenArchiveEmptyPath(t *testing.T) {
	_, err := OpenArchive("  ", nil)
	assert.Error(t, err)
}

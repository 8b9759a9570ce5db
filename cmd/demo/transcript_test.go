package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AIHouse/internal/models"
)

func TestParseLines(t *testing.T) {
	lines, err := parseLines([]string{" Leo | Max, look at this! ", "emma|hi"})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, demoLine{character: "leo", text: "Max, look at this!"}, lines[0])
	assert.Equal(t, "emma", lines[1].character)

	def, err := parseLines(nil)
	require.NoError(t, err)
	assert.Len(t, def, len(defaultLines))

	for _, bad := range []string{"no separator", "|text only", "max|  "} {
		_, err := parseLines([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestTranscriptPlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	tr := newTranscript(&buf)
	require.False(t, tr.color)

	at := time.Date(2026, 1, 2, 20, 15, 0, 0, time.UTC)
	tr.Messages([]models.Message{
		{Speaker: "user", Content: "Leo, how's the light?", Type: models.MessageTypeUser, Timestamp: at},
		{Speaker: "leo", Content: "Golden.", Type: models.MessageTypeAI, Timestamp: at},
		{Speaker: "marvin", Content: "Lights dim.", Type: models.MessageTypeScene, Timestamp: at},
	})
	tr.Error("boom")

	out := buf.String()
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "20:15:00 You: Leo, how's the light?")
	assert.Contains(t, out, "20:15:00 Leo: Golden.")
	assert.Contains(t, out, "Marvin (scene): Lights dim.")
	assert.Contains(t, out, "✗ boom")
}

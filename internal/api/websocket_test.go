// internal/api/websocket_test.go
package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestShowWebSocketStreamsEvents(t *testing.T) {
	// genai 依赖的 opencensus 在 init 中启动常驻 worker
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)

	s, a := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return a.Bus.SubscriberCount() >= 1 }, time.Second, 5*time.Millisecond)

	ts := httptest.NewServer(s.Engine)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/show"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() map[string]interface{} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	}

	assert.Equal(t, "connected", readEvent()["type"])
	require.Eventually(t, func() bool { return s.Hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, "pong", readEvent()["type"])

	_, err = a.Show.SendMessage(context.Background(), "max", "Hello Max")
	require.NoError(t, err)

	var sawMessage bool
	for range 10 {
		ev := readEvent()
		if ev["type"] == "message" {
			sawMessage = true
			break
		}
	}
	assert.True(t, sawMessage, "场景消息推送到 websocket")

	status := s.Hub.Status()
	assert.Equal(t, 1, status["total_connections"])

	cancel()
	require.NoError(t, <-done)

	// 推送中心退出时断开客户端
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 0, s.Hub.ClientCount())
}

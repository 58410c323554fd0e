package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/services/events"
	"github.com/ternarybob/rewind/internal/services/replay"
)

type staticState struct {
	state replay.State
}

func (s staticState) State() replay.State { return s.state }

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_HelloCarriesState(t *testing.T) {
	logger := arbor.NewLogger()
	handler := NewWebSocketHandler(staticState{replay.State{SessionID: "s-1", JobID: "job-1", SliderIndex: 7}}, logger)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	conn := dial(t, server)
	msg := readMessage(t, conn)
	require.Equal(t, "hello", msg.Type)

	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, handler.ServerInstanceID(), payload["server_instance_id"])

	state, ok := payload["state"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "job-1", state["jobId"])
	assert.EqualValues(t, 7, state["sliderIndex"])

	assert.Equal(t, 1, handler.ClientCount())
}

// TestBroadcastFanOut verifies every connected client receives each broadcast
func TestBroadcastFanOut(t *testing.T) {
	logger := arbor.NewLogger()
	handler := NewWebSocketHandler(nil, logger)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	const numSubscribers = 5
	conns := make([]*websocket.Conn, numSubscribers)
	for i := range conns {
		conns[i] = dial(t, server)
		assert.Equal(t, "hello", readMessage(t, conns[i]).Type)
	}
	require.Equal(t, numSubscribers, handler.ClientCount())

	const numMessages = 10
	for i := 0; i < numMessages; i++ {
		handler.Broadcast(string(interfaces.EventCursorChanged), map[string]interface{}{"version": i})
	}

	var wg sync.WaitGroup
	received := make([][]int, numSubscribers)
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			for n := 0; n < numMessages; n++ {
				conn.SetReadDeadline(time.Now().Add(5 * time.Second))
				var msg WSMessage
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				payload := msg.Payload.(map[string]interface{})
				received[i] = append(received[i], int(payload["version"].(float64)))
			}
		}(i, conn)
	}
	wg.Wait()

	for i := range received {
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, received[i], "subscriber %d", i)
	}
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	logger := arbor.NewLogger()
	handler := NewWebSocketHandler(nil, logger)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	conn := dial(t, server)
	readMessage(t, conn)
	require.Equal(t, 1, handler.ClientCount())

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool { return handler.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestEventSubscriber_BroadcastsBusEvents(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(logger)
	defer bus.Close()

	handler := NewWebSocketHandler(nil, logger)
	NewEventSubscriber(handler, bus, logger, &common.WebSocketConfig{})

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	conn := dial(t, server)
	readMessage(t, conn)

	err := bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventLoadCompleted,
		Payload: map[string]interface{}{"job_id": "job-1", "audit_count": 100},
	})
	require.NoError(t, err)

	msg := readMessage(t, conn)
	assert.Equal(t, string(interfaces.EventLoadCompleted), msg.Type)

	raw, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"job-1","audit_count":100}`, string(raw))
}

func TestEventSubscriber_AllowedEvents(t *testing.T) {
	logger := arbor.NewLogger()
	s := NewEventSubscriber(NewWebSocketHandler(nil, logger), nil, logger, &common.WebSocketConfig{
		AllowedEvents: []string{"cursor_changed"},
	})

	assert.True(t, s.shouldBroadcastEvent("cursor_changed", false))
	assert.False(t, s.shouldBroadcastEvent("graph_frame", false))
	assert.False(t, s.shouldBroadcastEvent("graph_frame", true))
}

func TestEventSubscriber_Throttle(t *testing.T) {
	logger := arbor.NewLogger()
	s := NewEventSubscriber(NewWebSocketHandler(nil, logger), nil, logger, &common.WebSocketConfig{
		ThrottleIntervals: map[string]string{
			"load_progress": "1h",
			"graph_frame":   "not-a-duration",
		},
	})

	assert.True(t, s.shouldBroadcastEvent("load_progress", false))
	assert.False(t, s.shouldBroadcastEvent("load_progress", false))

	// The final progress update always gets through
	assert.True(t, s.shouldBroadcastEvent("load_progress", true))

	// Unparseable intervals disable throttling for that type
	assert.True(t, s.shouldBroadcastEvent("graph_frame", false))
	assert.True(t, s.shouldBroadcastEvent("graph_frame", false))
}

func TestIsFinalProgress(t *testing.T) {
	done := interfaces.Event{Type: interfaces.EventLoadProgress, Payload: map[string]interface{}{"progress": 100}}
	partial := interfaces.Event{Type: interfaces.EventLoadProgress, Payload: map[string]interface{}{"progress": 40}}
	other := interfaces.Event{Type: interfaces.EventGraphFrame, Payload: map[string]interface{}{"progress": 100}}

	assert.True(t, isFinalProgress(done))
	assert.False(t, isFinalProgress(partial))
	assert.False(t, isFinalProgress(other))
}

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/app"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/handlers"
	"github.com/ternarybob/rewind/internal/testutil"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	fake := testutil.NewFakeAPI(t)
	fake.SetJob("job-1", testutil.Job("job-1", 100, 50, 30))

	cfg := common.NewDefaultConfig()
	cfg.API.BaseURL = fake.URL()
	cfg.API.RateLimit = 0
	cfg.Poll.Enabled = false
	cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "db")

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	srv := httptest.NewServer(New(application).Handler())
	t.Cleanup(srv.Close)
	return srv, application
}

func post(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutes_LoadJobAndScrub(t *testing.T) {
	srv, application := newTestServer(t)

	resp := post(t, srv.URL+"/api/jobs/job-1/load?wait=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "job-1", application.Session.JobID())

	resp = post(t, srv.URL+"/api/session/slider", map[string]int{"index": 30})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 30, application.Session.State().SliderIndex)

	resp, err := http.Get(srv.URL + "/api/session/graph?index=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Jobs  []handlers.JobListItem `json:"jobs"`
		Total int                    `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Equal(t, 1, list.Total)
	assert.True(t, list.Jobs[0].Loaded)
	require.NotNil(t, list.Jobs[0].Cached)
	assert.Equal(t, 100, list.Jobs[0].Cached.AuditCount)
}

func TestRoutes_MethodMismatch(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/session/slider")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST", resp.Header.Get("Allow"))

	resp, err = http.Post(srv.URL+"/api/jobs", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/jobs/job-1/cache", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRoutes_UnknownAPIPath(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/api/nope", "/api/jobs/job-1/nope", "/api/session"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"), path)
	}
}

func TestRoutes_CORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/session/seek", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRoutes_Metrics(t *testing.T) {
	srv, _ := newTestServer(t)

	post(t, srv.URL+"/api/jobs/job-1/load?wait=true", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rewind_cache_loads_total")

	assert.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), `route="POST /api/jobs/{id}/load"`)
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRoutes_RequestID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/session/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/session/state", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-42")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-42", resp.Header.Get("X-Request-ID"))
}

func TestRoutes_WebSocketReceivesCursorEvents(t *testing.T) {
	srv, application := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello handlers.WSMessage
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Type)

	post(t, srv.URL+"/api/jobs/job-1/load?wait=true", nil)
	require.Equal(t, "job-1", application.Session.JobID())

	seen := map[string]bool{}
	deadline := time.Now().Add(5 * time.Second)
	for !seen["cursor_changed"] && time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		var msg handlers.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		seen[msg.Type] = true
	}
	assert.True(t, seen["cursor_changed"], "saw %v", seen)
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/auditapi"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/services/replay"
	"github.com/ternarybob/rewind/internal/services/window"
	"github.com/ternarybob/rewind/internal/storage"
	"github.com/ternarybob/rewind/internal/testutil"
)

type handlerFixture struct {
	fake     *testutil.FakeAPI
	store    interfaces.StorageManager
	session  *replay.Session
	sessions *SessionHandler
	jobs     *JobHandler
	api      *APIHandler
}

func newHandlerFixture(t *testing.T, load bool) *handlerFixture {
	t.Helper()
	logger := arbor.NewLogger()
	config := common.NewDefaultConfig()
	config.Storage.Badger = common.BadgerConfig{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "db"),
	}

	fake := testutil.NewFakeAPI(t)
	fake.SetJob("job-1", testutil.Job("job-1", 100, 50, 30))
	fake.SetJob("job-2", testutil.Job("job-2", 20, 10, 5))

	store := storage.NewStorageManager(logger, config)
	require.True(t, store.IsAvailable())
	t.Cleanup(func() { store.Close() })

	client := auditapi.NewClient(auditapi.WithBaseURL(fake.URL()), auditapi.WithTimeout(5*time.Second))
	manager := window.NewManager(client, store, &config.Cache, logger)
	t.Cleanup(manager.Close)

	session, err := replay.NewSession(manager, client, &config.Graph, logger)
	require.NoError(t, err)
	if load {
		require.NoError(t, session.LoadJob(context.Background(), "job-1"))
	}

	return &handlerFixture{
		fake:     fake,
		store:    store,
		session:  session,
		sessions: NewSessionHandler(session, logger),
		jobs:     NewJobHandler(client, session, store, logger),
		api:      NewAPIHandler(store, logger),
	}
}

func at(seconds int) time.Time {
	return testutil.BaseTime.Add(time.Duration(seconds) * time.Second)
}

func do(t *testing.T, handler http.HandlerFunc, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestStateHandler(t *testing.T) {
	f := newHandlerFixture(t, true)

	rec := do(t, f.sessions.StateHandler, http.MethodGet, "/api/session/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state replay.State
	decode(t, rec, &state)
	assert.Equal(t, "job-1", state.JobID)
	assert.Equal(t, 99, state.SliderIndex)
	assert.Equal(t, 100, state.TotalEntries)
	assert.Equal(t, 29, state.GraphIndex)

	rec = do(t, f.sessions.StateHandler, http.MethodPost, "/api/session/state", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSliderHandler(t *testing.T) {
	f := newHandlerFixture(t, true)

	rec := do(t, f.sessions.SliderHandler, http.MethodPost, "/api/session/slider", map[string]int{"index": 30})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Index int          `json:"index"`
		State replay.State `json:"state"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 30, resp.Index)
	assert.Equal(t, 30, resp.State.SliderIndex)
	assert.Equal(t, 10, resp.State.GraphIndex)
	assert.True(t, resp.State.Cursor.Timestamp.Equal(at(30)))
}

func TestSliderHandler_NoJobLoaded(t *testing.T) {
	f := newHandlerFixture(t, false)

	rec := do(t, f.sessions.SliderHandler, http.MethodPost, "/api/session/slider", map[string]int{"index": 3})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSeekHandler_Timestamp(t *testing.T) {
	f := newHandlerFixture(t, true)

	body := map[string]string{"timestamp": at(40).Format(time.RFC3339Nano)}
	rec := do(t, f.sessions.SeekHandler, http.MethodPost, "/api/session/seek", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Cursor models.Cursor `json:"cursor"`
		State  replay.State  `json:"state"`
	}
	decode(t, rec, &resp)
	assert.True(t, resp.Cursor.Timestamp.Equal(at(40)))
	assert.Equal(t, 40, resp.State.SliderIndex)
	assert.Equal(t, 13, resp.State.GraphIndex)
}

func TestSeekHandler_FocusEntry(t *testing.T) {
	f := newHandlerFixture(t, true)

	body := map[string]interface{}{"stream": "chat", "index": 10}
	rec := do(t, f.sessions.SeekHandler, http.MethodPost, "/api/session/seek", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Cursor models.Cursor `json:"cursor"`
		State  replay.State  `json:"state"`
	}
	decode(t, rec, &resp)
	assert.True(t, resp.Cursor.Timestamp.Equal(at(20)))
	assert.Equal(t, 20, resp.State.SliderIndex)
	assert.Equal(t, 10, f.session.Window().Cursor(models.StreamChat))
}

func TestSeekHandler_Validation(t *testing.T) {
	f := newHandlerFixture(t, true)

	cases := []struct {
		name string
		body interface{}
	}{
		{"empty", map[string]string{}},
		{"unknown stream", map[string]interface{}{"stream": "logs", "index": 1}},
		{"negative index", map[string]interface{}{"stream": "chat", "index": -1}},
		{"bad timestamp", map[string]string{"timestamp": "yesterday"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, f.sessions.SeekHandler, http.MethodPost, "/api/session/seek", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestSeekStartAndEndHandlers(t *testing.T) {
	f := newHandlerFixture(t, true)

	var resp struct {
		Index int `json:"index"`
	}
	rec := do(t, f.sessions.SeekStartHandler, http.MethodPost, "/api/session/seek-start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, 0, resp.Index)

	rec = do(t, f.sessions.SeekEndHandler, http.MethodPost, "/api/session/seek-end", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, 99, resp.Index)
}

func TestFilterHandler(t *testing.T) {
	f := newHandlerFixture(t, true)

	rec := do(t, f.sessions.FilterHandler, http.MethodPost, "/api/session/filter", map[string]string{"filter": "errors"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Filter  models.FilterCategory `json:"filter"`
		Entries []models.AuditEntry   `json:"entries"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, models.FilterErrors, resp.Filter)
	for _, e := range resp.Entries {
		assert.Equal(t, models.StepTypeError, e.StepType)
	}

	rec = do(t, f.sessions.FilterHandler, http.MethodPost, "/api/session/filter", map[string]string{"filter": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.sessions.FilterHandler, http.MethodPost, "/api/session/filter", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphHandler(t *testing.T) {
	f := newHandlerFixture(t, true)

	rec := do(t, f.sessions.GraphHandler, http.MethodGet, "/api/session/graph?index=4", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rendered models.RenderedGraph
	decode(t, rec, &rendered)
	assert.Equal(t, 4, rendered.Index)
	assert.Len(t, rendered.Nodes, 5)

	// Rendering on demand leaves the scrubbed view alone
	assert.Equal(t, 29, f.session.State().GraphIndex)

	rec = do(t, f.sessions.GraphHandler, http.MethodPost, "/api/session/graph", map[string]int{"index": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view replay.GraphView
	decode(t, rec, &view)
	assert.Equal(t, 3, view.Index)
	assert.Equal(t, 29, view.From)
	require.NotNil(t, view.Graph)
	assert.Len(t, view.Graph.Nodes, 4)

	state := f.session.State()
	assert.Equal(t, 3, state.GraphIndex)
	assert.True(t, state.GraphOverride)

	rec = do(t, f.sessions.GraphHandler, http.MethodGet, "/api/session/graph", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &rendered)
	assert.Equal(t, 3, rendered.Index)

	rec = do(t, f.sessions.GraphHandler, http.MethodGet, "/api/session/graph?index=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.sessions.GraphHandler, http.MethodDelete, "/api/session/graph", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGraphHandler_NoJobLoaded(t *testing.T) {
	f := newHandlerFixture(t, false)

	rec := do(t, f.sessions.GraphHandler, http.MethodGet, "/api/session/graph", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuditPageHandler(t *testing.T) {
	f := newHandlerFixture(t, true)

	rec := do(t, f.sessions.AuditPageHandler, http.MethodGet, "/api/session/audit-page", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page models.AuditPage
	decode(t, rec, &page)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, replay.DefaultAuditPageSize, page.PageSize)
	assert.Len(t, page.Entries, 50)
	assert.Equal(t, 100, page.Total)
}

func TestTimeRangeHandler(t *testing.T) {
	f := newHandlerFixture(t, true)

	rec := do(t, f.sessions.TimeRangeHandler, http.MethodGet, "/api/session/timerange", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tr models.TimeRange
	decode(t, rec, &tr)
	assert.True(t, tr.Start.Equal(at(0)))
	assert.True(t, tr.End.Equal(at(99)))
}

func TestEntriesHandler(t *testing.T) {
	f := newHandlerFixture(t, true)

	rec := do(t, f.sessions.EntriesHandler, http.MethodGet, "/api/session/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Audit []models.AuditEntry `json:"audit"`
		Chat  []models.ChatEntry  `json:"chat"`
	}
	decode(t, rec, &resp)
	assert.Len(t, resp.Audit, 100)
	assert.Len(t, resp.Chat, 50)
}

func TestRefreshHandler(t *testing.T) {
	f := newHandlerFixture(t, true)

	rec := do(t, f.sessions.RefreshHandler, http.MethodPost, "/api/session/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 100, f.session.TotalEntries())
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{replay.ErrNoJob, http.StatusConflict},
		{fmt.Errorf("wrap: %w", window.ErrNoJobLoaded), http.StatusConflict},
		{window.ErrFetchInProgress, http.StatusConflict},
		{window.ErrJobSwitched, http.StatusConflict},
		{&auditapi.APIError{StatusCode: http.StatusNotFound}, http.StatusNotFound},
		{&auditapi.APIError{StatusCode: http.StatusInternalServerError}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForError(tc.err), tc.err.Error())
	}
}

package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/app"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/testutil"
)

func newTestToolset(t *testing.T) *toolset {
	t.Helper()
	fake := testutil.NewFakeAPI(t)
	fake.SetJob("job-1", testutil.Job("job-1", 100, 50, 30))

	config := common.NewDefaultConfig()
	config.API.BaseURL = fake.URL()
	config.API.RateLimit = 0
	config.Poll.Enabled = false
	config.Metrics.Enabled = false
	config.Storage.Badger.Path = filepath.Join(t.TempDir(), "db")

	logger := arbor.NewLogger()
	application, err := app.New(config, logger)
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	return newToolset(application, logger)
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]interface{}) (string, bool) {
	t.Helper()
	var request mcp.CallToolRequest
	request.Params.Arguments = args

	result, err := handler(context.Background(), request)
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, result.IsError
}

func at(seconds int) string {
	return testutil.BaseTime.Add(time.Duration(seconds) * time.Second).Format(time.RFC3339Nano)
}

func TestListJobsTool(t *testing.T) {
	tools := newTestToolset(t)

	text, isErr := call(t, tools.handleListJobs, nil)
	assert.False(t, isErr)
	assert.Contains(t, text, "## Jobs (1)")
	assert.Contains(t, text, "**job-1**")
	assert.NotContains(t, text, "[loaded]")

	_, isErr = call(t, tools.handleLoadJob, map[string]interface{}{"job_id": "job-1"})
	require.False(t, isErr)

	text, _ = call(t, tools.handleListJobs, nil)
	assert.Contains(t, text, "cached: 100 audit / 50 chat / 30 graph")
	assert.Contains(t, text, "[loaded]")
}

func TestLoadJobTool(t *testing.T) {
	tools := newTestToolset(t)

	text, isErr := call(t, tools.handleLoadJob, map[string]interface{}{"job_id": "job-1"})
	assert.False(t, isErr)
	assert.Contains(t, text, "## Job job-1 loaded")
	assert.Contains(t, text, "**Audit entries:** 100")

	text, isErr = call(t, tools.handleLoadJob, map[string]interface{}{})
	assert.True(t, isErr)
	assert.Contains(t, text, "job_id parameter is required")

	_, isErr = call(t, tools.handleLoadJob, map[string]interface{}{"job_id": "missing"})
	assert.True(t, isErr)
}

func TestRenderGraphAtTool(t *testing.T) {
	tools := newTestToolset(t)

	text, isErr := call(t, tools.handleRenderGraphAt, map[string]interface{}{})
	assert.True(t, isErr)
	assert.Contains(t, text, "no job loaded")

	text, isErr = call(t, tools.handleRenderGraphAt, map[string]interface{}{"job_id": "job-1", "index": 4})
	assert.False(t, isErr)
	assert.Contains(t, text, "## Graph at index 4")
	assert.Contains(t, text, "**Nodes:** 5")

	// Deltas are 3s apart, so 7s falls on delta 2
	text, isErr = call(t, tools.handleRenderGraphAt, map[string]interface{}{"timestamp": at(7)})
	assert.False(t, isErr)
	assert.Contains(t, text, "## Graph at index 2")

	text, isErr = call(t, tools.handleRenderGraphAt, map[string]interface{}{"timestamp": "soon"})
	assert.True(t, isErr)
	assert.Contains(t, text, "invalid timestamp")
}

func TestFindGraphIndexAtTool(t *testing.T) {
	tools := newTestToolset(t)

	text, isErr := call(t, tools.handleFindGraphIndexAt, map[string]interface{}{"job_id": "job-1", "timestamp": at(7)})
	assert.False(t, isErr)
	assert.Contains(t, text, ": 2")

	text, isErr = call(t, tools.handleFindGraphIndexAt, map[string]interface{}{"timestamp": at(-5)})
	assert.False(t, isErr)
	assert.Contains(t, text, "index -1")
}

func TestGetAuditRangeTool(t *testing.T) {
	tools := newTestToolset(t)

	text, isErr := call(t, tools.handleGetAuditRange, map[string]interface{}{"job_id": "job-1", "start": 10, "end": 12})
	assert.False(t, isErr)
	assert.Contains(t, text, "## Audit entries 10-12 of 100")
	assert.Contains(t, text, "10. `"+at(10)+"`")
	assert.Contains(t, text, "12. `"+at(12)+"`")
	assert.NotContains(t, text, "13. `")

	text, isErr = call(t, tools.handleGetAuditRange, map[string]interface{}{"start": 5, "end": 2})
	assert.True(t, isErr)
	assert.Contains(t, text, "invalid range")
}

func TestCacheStatusTool(t *testing.T) {
	tools := newTestToolset(t)

	text, isErr := call(t, tools.handleCacheStatus, nil)
	assert.False(t, isErr)
	assert.Contains(t, text, "The cache is empty.")

	text, _ = call(t, tools.handleCacheStatus, map[string]interface{}{"job_id": "job-1"})
	assert.Contains(t, text, "Job job-1 is not cached.")

	_, isErr = call(t, tools.handleLoadJob, map[string]interface{}{"job_id": "job-1"})
	require.False(t, isErr)

	text, _ = call(t, tools.handleCacheStatus, map[string]interface{}{"job_id": "job-1"})
	assert.Contains(t, text, "### job-1")
	assert.Contains(t, text, "**Audit:** 100  **Chat:** 50  **Graph deltas:** 30")
}

func TestNewMCPServerRegistersTools(t *testing.T) {
	tools := newTestToolset(t)
	srv := newMCPServer(tools)

	response := srv.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(response)
	require.NoError(t, err)

	for _, name := range []string{"list_jobs", "load_job", "render_graph_at", "find_graph_index_at", "get_audit_range", "cache_status"} {
		assert.Contains(t, string(data), `"name":"`+name+`"`)
	}
}

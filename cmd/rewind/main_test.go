package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/testutil"
	"gopkg.in/yaml.v3"
)

func setupCommandEnv(t *testing.T) *testutil.FakeAPI {
	t.Helper()
	fake := testutil.NewFakeAPI(t)
	fake.SetJob("job-1", testutil.Job("job-1", 100, 50, 30))

	config = common.NewDefaultConfig()
	config.API.BaseURL = fake.URL()
	config.API.RateLimit = 0
	config.Storage.Badger.Path = filepath.Join(t.TempDir(), "db")
	logger = arbor.NewLogger()
	return fake
}

func TestWriteOutput(t *testing.T) {
	v := map[string]interface{}{"index": 3, "nodes": []string{"a"}}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, v, "json"))
	assert.JSONEq(t, `{"index":3,"nodes":["a"]}`, buf.String())

	buf.Reset()
	require.NoError(t, writeOutput(&buf, v, "yaml"))
	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 3, decoded["index"])

	assert.Error(t, writeOutput(&buf, v, "xml"))
}

func TestRenderCommand_Index(t *testing.T) {
	setupCommandEnv(t)

	var buf bytes.Buffer
	renderCmd.SetOut(&buf)
	renderCmd.SetContext(context.Background())
	t.Cleanup(func() {
		renderCmd.Flags().Set("index", "-1")
		renderCmd.Flags().Lookup("index").Changed = false
		renderFormat = "json"
	})

	require.NoError(t, renderCmd.Flags().Set("index", "4"))
	renderFormat = "json"
	require.NoError(t, runRender(renderCmd, []string{"job-1"}))

	var graph models.RenderedGraph
	require.NoError(t, json.Unmarshal(buf.Bytes(), &graph))
	assert.Equal(t, 4, graph.Index)
	assert.Len(t, graph.Nodes, 5)
}

func TestRenderCommand_DefaultsToFinalGraph(t *testing.T) {
	setupCommandEnv(t)

	var buf bytes.Buffer
	renderCmd.SetOut(&buf)
	renderCmd.SetContext(context.Background())
	renderFormat = "yaml"
	t.Cleanup(func() { renderFormat = "json" })

	require.NoError(t, runRender(renderCmd, []string{"job-1"}))

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 29, doc["index"])
}

func TestSyncThenClear(t *testing.T) {
	fake := setupCommandEnv(t)

	var buf bytes.Buffer
	syncCmd.SetOut(&buf)
	syncCmd.SetContext(context.Background())
	require.NoError(t, runSync(syncCmd, []string{"job-1"}))
	assert.Contains(t, buf.String(), "job-1: 100 audit entries, 50 chat turns, 30 graph deltas")

	// The second sync is served from the cache
	fake.ResetCalls()
	buf.Reset()
	require.NoError(t, runSync(syncCmd, []string{"job-1"}))
	assert.Contains(t, buf.String(), "from cache: true")
	assert.Zero(t, fake.Calls(testutil.EndpointAudit))

	buf.Reset()
	clearCmd.SetOut(&buf)
	clearCmd.SetContext(context.Background())
	require.NoError(t, runClear(clearCmd, []string{"job-1"}))
	assert.Contains(t, buf.String(), "Cleared job-1")
}

package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) interfaces.StorageManager {
	t.Helper()

	config := &common.BadgerConfig{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "db"),
	}
	manager, err := NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return manager
}

func auditEntries(n int, start int) []models.AuditEntry {
	entries := make([]models.AuditEntry, n)
	for i := range entries {
		index := start + i
		stepType := models.StepTypeLLM
		if index%3 == 1 {
			stepType = models.StepTypeTool
		} else if index%3 == 2 {
			stepType = models.StepTypeError
		}
		entries[i] = models.AuditEntry{
			Index:     index,
			Timestamp: baseTime.Add(time.Duration(index) * time.Second),
			StepType:  stepType,
			Content:   fmt.Sprintf("step %d", index),
		}
	}
	return entries
}

func TestAuditStorage_PutIsIdempotent(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	audit := manager.AuditStorage()

	entries := auditEntries(50, 0)
	require.NoError(t, audit.PutEntries(ctx, "job-1", entries, 0))
	require.NoError(t, audit.PutEntries(ctx, "job-1", entries, 0))

	count, err := audit.Count(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 50, count)

	got, err := audit.GetRange(ctx, "job-1", 0, 49)
	require.NoError(t, err)
	assert.Len(t, got, 50)
}

func TestAuditStorage_GetRangeInclusiveAndOrdered(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	audit := manager.AuditStorage()

	require.NoError(t, audit.PutEntries(ctx, "job-1", auditEntries(120, 0), 0))

	got, err := audit.GetRange(ctx, "job-1", 98, 103)
	require.NoError(t, err)
	require.Len(t, got, 6)
	for i, entry := range got {
		assert.Equal(t, 98+i, entry.Index)
		assert.Equal(t, "job-1", entry.JobID)
	}

	// Past the end returns what exists
	got, err = audit.GetRange(ctx, "job-1", 115, 500)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	got, err = audit.GetRange(ctx, "job-1", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAuditStorage_PositionalIndexWins(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	audit := manager.AuditStorage()

	entries := auditEntries(3, 0) // payload claims indices 0..2
	require.NoError(t, audit.PutEntries(ctx, "job-1", entries, 10))

	got, err := audit.GetRange(ctx, "job-1", 10, 12)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 10, got[0].Index)
	assert.Equal(t, "step 0", got[0].Content)
}

func TestAuditStorage_LargeBatchAcrossTransactions(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	audit := manager.AuditStorage()

	entries := auditEntries(7000, 0)
	require.NoError(t, audit.PutEntries(ctx, "job-big", entries[:5000], 0))
	require.NoError(t, audit.PutEntries(ctx, "job-big", entries[5000:], 5000))

	count, err := audit.Count(ctx, "job-big")
	require.NoError(t, err)
	assert.Equal(t, 7000, count)

	got, err := audit.GetRange(ctx, "job-big", 4990, 5009)
	require.NoError(t, err)
	require.Len(t, got, 20)
	assert.Equal(t, 4990, got[0].Index)
	assert.Equal(t, 5009, got[19].Index)
}

func TestAuditStorage_TypeIndex(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	audit := manager.AuditStorage()

	require.NoError(t, audit.PutEntries(ctx, "job-1", auditEntries(30, 0), 0))

	tools, err := audit.CountByType(ctx, "job-1", models.StepTypeTool)
	require.NoError(t, err)
	assert.Equal(t, 10, tools)

	got, err := audit.GetRangeByType(ctx, "job-1", []models.StepType{models.StepTypeTool, models.StepTypeError}, 0, 8)
	require.NoError(t, err)
	indices := make([]int, 0, len(got))
	for _, entry := range got {
		indices = append(indices, entry.Index)
	}
	assert.Equal(t, []int{1, 2, 4, 5, 7, 8}, indices)

	// Rewriting an entry with a new step type moves its index key
	replacement := []models.AuditEntry{{Timestamp: baseTime.Add(time.Second), StepType: models.StepTypeLLM}}
	require.NoError(t, audit.PutEntries(ctx, "job-1", replacement, 1))

	tools, err = audit.CountByType(ctx, "job-1", models.StepTypeTool)
	require.NoError(t, err)
	assert.Equal(t, 9, tools)

	llm, err := audit.CountByType(ctx, "job-1", models.StepTypeLLM)
	require.NoError(t, err)
	assert.Equal(t, 11, llm)
}

func TestAuditStorage_IndexAtTimestamp(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	audit := manager.AuditStorage()

	index, err := audit.IndexAtTimestamp(ctx, "job-1", baseTime)
	require.NoError(t, err)
	assert.Equal(t, -1, index, "empty stream")

	require.NoError(t, audit.PutEntries(ctx, "job-1", auditEntries(100, 0), 0))

	cases := []struct {
		ts   time.Time
		want int
	}{
		{baseTime.Add(-time.Second), -1},
		{baseTime, 0},
		{baseTime.Add(41 * time.Second), 41},
		{baseTime.Add(41*time.Second + 500*time.Millisecond), 41},
		{baseTime.Add(time.Hour), 99},
	}
	for _, tc := range cases {
		index, err := audit.IndexAtTimestamp(ctx, "job-1", tc.ts)
		require.NoError(t, err)
		assert.Equal(t, tc.want, index, "timestamp %s", tc.ts)
	}
}

func TestChatAndGraphStorage(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	chat := []models.ChatEntry{
		{Timestamp: baseTime, Role: "user", Content: "hello"},
		{Timestamp: baseTime.Add(time.Second), Role: "assistant", Content: "hi"},
	}
	require.NoError(t, manager.ChatStorage().PutEntries(ctx, "job-1", chat, 0))

	gotChat, err := manager.ChatStorage().GetRange(ctx, "job-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, gotChat, 2)
	assert.Equal(t, 1, gotChat[1].SequenceNumber)

	deltas := []models.GraphDelta{
		{Timestamp: baseTime, Changes: models.DeltaChanges{Ops: []models.Change{
			models.NodeCreate{Variable: "d", Labels: []string{"Document"}, Properties: map[string]interface{}{"doc_id": "D1"}},
		}}},
		{Timestamp: baseTime.Add(time.Second), Changes: models.DeltaChanges{Ops: []models.Change{
			models.NodeDelete{Variable: "d", Identity: "D1"},
		}}},
	}
	require.NoError(t, manager.GraphStorage().PutDeltas(ctx, "job-1", deltas, 0))

	gotDeltas, err := manager.GraphStorage().GetRange(ctx, "job-1", 0, 1)
	require.NoError(t, err)
	require.Len(t, gotDeltas, 2)
	create, ok := gotDeltas[0].Changes.Ops[0].(models.NodeCreate)
	require.True(t, ok)
	assert.Equal(t, "D1", create.Properties["doc_id"])
	assert.Equal(t, models.ChangeNodeDelete, gotDeltas[1].Changes.Ops[0].Kind())

	snapshots := []models.GraphSnapshot{
		{ToolCallIndex: 500, Nodes: map[string]*models.NodeState{}, Relationships: map[string]*models.RelationshipState{}},
		{ToolCallIndex: 100, Nodes: map[string]*models.NodeState{"D1": {ID: "D1", Visible: true}}, Relationships: map[string]*models.RelationshipState{}},
	}
	require.NoError(t, manager.GraphStorage().PutSnapshots(ctx, "job-1", snapshots))

	gotSnapshots, err := manager.GraphStorage().GetSnapshots(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, gotSnapshots, 2)
	assert.Equal(t, 100, gotSnapshots[0].ToolCallIndex)
	assert.Equal(t, 500, gotSnapshots[1].ToolCallIndex)
	assert.True(t, gotSnapshots[0].Nodes["D1"].Visible)
}

func TestMetadataStorage(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	metadata := manager.MetadataStorage()

	meta, err := metadata.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, meta)

	require.NoError(t, metadata.Set(ctx, &models.JobCacheMetadata{
		JobID:      "job-1",
		AuditCount: 42,
		Version:    models.CacheSchemaVersion,
		CachedAt:   baseTime,
	}))

	meta, err = metadata.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 42, meta.AuditCount)
	assert.True(t, meta.CachedAt.Equal(baseTime))

	assert.Error(t, metadata.Set(ctx, &models.JobCacheMetadata{}))
}

func TestManager_ClearJobKeepsOtherJobs(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	// "job" must not be treated as a prefix of "job:b" or "jobb"
	jobs := []string{"job", "job:b", "jobb"}
	for _, jobID := range jobs {
		require.NoError(t, manager.AuditStorage().PutEntries(ctx, jobID, auditEntries(10, 0), 0))
		require.NoError(t, manager.MetadataStorage().Set(ctx, &models.JobCacheMetadata{JobID: jobID, AuditCount: 10, Version: models.CacheSchemaVersion}))
	}

	require.NoError(t, manager.ClearJob(ctx, "job"))

	count, err := manager.AuditStorage().Count(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	meta, err := manager.MetadataStorage().Get(ctx, "job")
	require.NoError(t, err)
	assert.Nil(t, meta)

	for _, jobID := range []string{"job:b", "jobb"} {
		count, err := manager.AuditStorage().Count(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, 10, count, jobID)

		meta, err := manager.MetadataStorage().Get(ctx, jobID)
		require.NoError(t, err)
		assert.NotNil(t, meta, jobID)
	}

	require.NoError(t, manager.ClearAll(ctx))
	metas, err := manager.MetadataStorage().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, metas)
	count, err = manager.AuditStorage().Count(ctx, "jobb")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestManager_CancelledContext(t *testing.T) {
	manager := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := manager.AuditStorage().PutEntries(ctx, "job-1", auditEntries(10, 0), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

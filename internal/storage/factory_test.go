package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/models"
)

func TestNewStorageManager_DisabledIsNoop(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Storage.Badger.Enabled = false

	manager := NewStorageManager(arbor.NewLogger(), config)
	defer manager.Close()

	assert.False(t, manager.IsAvailable())
}

func TestNewStorageManager_UnopenableFallsBackToNoop(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	config := common.NewDefaultConfig()
	config.Storage.Badger.Path = filepath.Join(blocker, "nested", "db")

	manager := NewStorageManager(arbor.NewLogger(), config)
	defer manager.Close()

	assert.False(t, manager.IsAvailable())
}

func TestNewStorageManager_InMemory(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Storage.Badger.InMemory = true

	manager := NewStorageManager(arbor.NewLogger(), config)
	defer manager.Close()

	require.True(t, manager.IsAvailable())
	ctx := context.Background()
	require.NoError(t, manager.AuditStorage().PutEntries(ctx, "job-1", []models.AuditEntry{{StepType: models.StepTypeLLM}}, 0))
	count, err := manager.AuditStorage().Count(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNoopManager_SucceedsSilently(t *testing.T) {
	manager := NewNoopManager()
	ctx := context.Background()

	require.NoError(t, manager.AuditStorage().PutEntries(ctx, "job-1", []models.AuditEntry{{}}, 0))

	entries, err := manager.AuditStorage().GetRange(ctx, "job-1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	meta, err := manager.MetadataStorage().Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, meta)

	index, err := manager.GraphStorage().IndexAtTimestamp(ctx, "job-1", models.NewEmptySnapshot().Timestamp)
	require.NoError(t, err)
	assert.Equal(t, -1, index)

	require.NoError(t, manager.ClearJob(ctx, "job-1"))
	require.NoError(t, manager.ClearAll(ctx))
}

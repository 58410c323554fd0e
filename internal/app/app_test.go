package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/testutil"
)

func testConfig(t *testing.T, apiURL string) *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.API.BaseURL = apiURL
	cfg.API.RateLimit = 0
	cfg.Poll.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "db")
	return cfg
}

func TestNew_WiresCachedSession(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	fake.SetJob("job-1", testutil.Job("job-1", 40, 20, 10))

	application, err := New(testConfig(t, fake.URL()), arbor.NewLogger())
	require.NoError(t, err)
	defer application.Close()

	assert.True(t, application.StorageManager.IsAvailable())
	require.NotNil(t, application.Session)
	require.NotNil(t, application.WSHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, application.Session.LoadJob(ctx, "job-1"))

	count, err := application.StorageManager.AuditStorage().Count(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 40, count)
	assert.Equal(t, 39, application.Session.State().SliderIndex)
}

func TestNew_RemoteOnlyWhenCacheDisabled(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	fake.SetJob("job-1", testutil.Job("job-1", 40, 20, 10))

	cfg := testConfig(t, fake.URL())
	cfg.Storage.Badger.Enabled = false

	application, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	defer application.Close()

	assert.False(t, application.StorageManager.IsAvailable())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, application.Session.LoadJob(ctx, "job-1"))
	assert.Equal(t, 40, application.Session.TotalEntries())
}

func TestClose_ReleasesStore(t *testing.T) {
	fake := testutil.NewFakeAPI(t)

	application, err := New(testConfig(t, fake.URL()), arbor.NewLogger())
	require.NoError(t, err)

	assert.NoError(t, application.Close())
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseDuration("2s", time.Second))
	assert.Equal(t, time.Second, parseDuration("bogus", time.Second))
	assert.Equal(t, time.Second, parseDuration("-5s", time.Second))
}

package auditapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/testutil"
)

func newTestClient(t *testing.T) (*Client, *testutil.FakeAPI) {
	t.Helper()
	api := testutil.NewFakeAPI(t)
	api.SetJob("job-1", testutil.Job("job-1", 120, 40, 30))

	client := NewClient(
		WithBaseURL(api.URL()+"/"),
		WithLogger(arbor.NewLogger()),
		WithRateLimit(0),
	)
	return client, api
}

func TestClient_GetVersion(t *testing.T) {
	client, _ := newTestClient(t)

	version, err := client.GetVersion(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 120, version.AuditEntryCount)
	assert.Equal(t, 40, version.ChatEntryCount)
	assert.Equal(t, 30, version.GraphDeltaCount)
}

func TestClient_BulkPagination(t *testing.T) {
	client, api := newTestClient(t)
	ctx := context.Background()

	first, err := client.GetAuditBulk(ctx, "job-1", 0, 100)
	require.NoError(t, err)
	assert.Len(t, first.Entries, 100)
	assert.True(t, first.HasMore)
	assert.Equal(t, 120, first.Total)

	second, err := client.GetAuditBulk(ctx, "job-1", 100, 100)
	require.NoError(t, err)
	assert.Len(t, second.Entries, 20)
	assert.False(t, second.HasMore)
	assert.Equal(t, 100, second.Entries[0].Index)

	assert.Equal(t, 2, api.Calls(testutil.EndpointAudit))
}

func TestClient_GraphBulkDecodesChanges(t *testing.T) {
	client, _ := newTestClient(t)

	resp, err := client.GetGraphBulk(context.Background(), "job-1", 5, 2)
	require.NoError(t, err)
	require.Len(t, resp.Deltas, 2)

	create, ok := resp.Deltas[0].Changes.Ops[0].(models.NodeCreate)
	require.True(t, ok)
	assert.Equal(t, "D5", create.Properties["doc_id"])
}

func TestClient_PageForTimestampAndTimeRange(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	page, err := client.GetPageForTimestamp(ctx, "job-1", testutil.BaseTime.Add(55*time.Second), 10, models.FilterAll)
	require.NoError(t, err)
	assert.Equal(t, 55, page.Index)
	assert.Equal(t, 5, page.Page)

	tr, err := client.GetTimeRange(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, tr.Start.Equal(testutil.BaseTime))
	assert.True(t, tr.End.Equal(testutil.BaseTime.Add(119*time.Second)))
}

func TestClient_APIErrors(t *testing.T) {
	client, api := newTestClient(t)
	ctx := context.Background()

	_, err := client.GetVersion(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	api.FailEndpoint(testutil.EndpointChat, http.StatusServiceUnavailable)
	_, err = client.GetChatBulk(ctx, "job-1", 0, 10)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "/jobs/job-1/chat/bulk", apiErr.Endpoint)
}

func TestClient_TransportFailure(t *testing.T) {
	client, api := newTestClient(t)
	api.Close()

	_, err := client.ListJobs(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestClient_CancelledContext(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetSnapshots(ctx, "job-1")
	assert.ErrorIs(t, err, context.Canceled)
}

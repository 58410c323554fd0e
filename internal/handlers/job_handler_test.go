package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/rewind/internal/testutil"
)

func clearCache(f *handlerFixture, jobID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/"+jobID+"/cache", nil)
	req.SetPathValue("id", jobID)
	rec := httptest.NewRecorder()
	f.jobs.ClearCacheHandler(rec, req)
	return rec
}

func TestClearCacheHandler(t *testing.T) {
	f := newHandlerFixture(t, false)
	ctx := context.Background()

	require.NoError(t, f.session.LoadJob(ctx, "job-2"))
	require.NoError(t, f.session.LoadJob(ctx, "job-1"))

	rec := clearCache(f, "job-1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = clearCache(f, "job-2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	meta, err := f.store.MetadataStorage().Get(ctx, "job-2")
	require.NoError(t, err)
	assert.Nil(t, meta)

	meta, err = f.store.MetadataStorage().Get(ctx, "job-1")
	require.NoError(t, err)
	assert.NotNil(t, meta)
}

func TestClearCacheHandler_DuringLoad(t *testing.T) {
	f := newHandlerFixture(t, false)

	codes := make(chan int, 1)
	f.fake.SetHook(testutil.EndpointSnapshots, func(jobID string) {
		select {
		case codes <- clearCache(f, jobID).Code:
		default:
		}
	})

	require.NoError(t, f.session.LoadJob(context.Background(), "job-1"))
	require.Len(t, codes, 1)
	assert.Equal(t, http.StatusConflict, <-codes)

	count, err := f.store.AuditStorage().Count(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 100, count)
}

func TestClearCacheHandler_MethodNotAllowed(t *testing.T) {
	f := newHandlerFixture(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-2/cache", nil)
	req.SetPathValue("id", "job-2")
	rec := httptest.NewRecorder()
	f.jobs.ClearCacheHandler(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

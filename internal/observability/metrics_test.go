package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBulkPage(t *testing.T) {
	before := testutil.ToFloat64(bulkEntriesTotal.WithLabelValues("audit"))
	RecordBulkPage("audit", 5000)
	RecordBulkPage("audit", 2000)
	assert.Equal(t, before+7000, testutil.ToFloat64(bulkEntriesTotal.WithLabelValues("audit")))
}

func TestRecordRecentre(t *testing.T) {
	okBefore := testutil.ToFloat64(windowRecentresTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(windowRecentresTotal.WithLabelValues("error"))

	RecordRecentre(nil, time.Millisecond)
	RecordRecentre(errors.New("read failed"), time.Millisecond)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(windowRecentresTotal.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(windowRecentresTotal.WithLabelValues("error")))
}

func TestMetricsHandler(t *testing.T) {
	RecordSeek("global")
	SetWebSocketClients(2)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "rewind_seeks_total"))
	assert.True(t, strings.Contains(body, "rewind_websocket_clients 2"))
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unmatched", "404"))
	RecordHTTPRequest("GET", "", http.StatusNotFound, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

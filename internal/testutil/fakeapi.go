// Package testutil provides an in-process stand-in for the backend audit API.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/rewind/internal/models"
)

// Endpoint names used by Calls, FailEndpoint and SetHook
const (
	EndpointJobs      = "jobs"
	EndpointVersion   = "version"
	EndpointAudit     = "audit"
	EndpointChat      = "chat"
	EndpointGraph     = "graph"
	EndpointSnapshots = "snapshots"
	EndpointPage      = "page"
	EndpointTimeRange = "timerange"
)

// FakeJob is the recorded history the fake backend serves for one job
type FakeJob struct {
	Name       string
	Audit      []models.AuditEntry
	Chat       []models.ChatEntry
	Deltas     []models.GraphDelta
	Snapshots  []models.GraphSnapshot
	LastUpdate time.Time
}

// FakeAPI is an httptest server implementing the audit API endpoints
type FakeAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	jobs     map[string]*FakeJob
	calls    map[string]int
	failures map[string]int
	hooks    map[string]func(jobID string)
}

// NewFakeAPI starts a fake backend that is closed when the test ends
func NewFakeAPI(t testing.TB) *FakeAPI {
	f := &FakeAPI{
		jobs:     make(map[string]*FakeJob),
		calls:    make(map[string]int),
		failures: make(map[string]int),
		hooks:    make(map[string]func(string)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs", f.handleJobs)
	mux.HandleFunc("GET /jobs/{id}/version", f.handleVersion)
	mux.HandleFunc("GET /jobs/{id}/audit/bulk", f.handleAuditBulk)
	mux.HandleFunc("GET /jobs/{id}/chat/bulk", f.handleChatBulk)
	mux.HandleFunc("GET /jobs/{id}/graph/bulk", f.handleGraphBulk)
	mux.HandleFunc("GET /jobs/{id}/graph/snapshots", f.handleSnapshots)
	mux.HandleFunc("GET /jobs/{id}/audit/page-for-timestamp", f.handlePageForTimestamp)
	mux.HandleFunc("GET /jobs/{id}/audit/timerange", f.handleTimeRange)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return f
}

// URL returns the base URL to configure clients with
func (f *FakeAPI) URL() string {
	return f.server.URL
}

// Close stops the server early, making every request fail at the transport level
func (f *FakeAPI) Close() {
	f.server.Close()
}

// SetJob replaces the history of a job
func (f *FakeAPI) SetJob(jobID string, job *FakeJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = job
}

// AppendAudit grows the audit stream of a job, simulating a still-running agent
func (f *FakeAPI) AppendAudit(jobID string, entries ...models.AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	if job == nil {
		return
	}
	job.Audit = append(job.Audit, entries...)
	job.LastUpdate = time.Now().UTC()
}

// Calls returns how many requests an endpoint has served
func (f *FakeAPI) Calls(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

// ResetCalls zeroes every call counter
func (f *FakeAPI) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
}

// FailEndpoint makes an endpoint answer with status; 0 restores normal behaviour
func (f *FakeAPI) FailEndpoint(endpoint string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.failures, endpoint)
		return
	}
	f.failures[endpoint] = status
}

// SetHook runs fn before an endpoint is served, e.g. to block a request
func (f *FakeAPI) SetHook(endpoint string, fn func(jobID string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fn == nil {
		delete(f.hooks, endpoint)
		return
	}
	f.hooks[endpoint] = fn
}

// begin counts the call, runs hooks and applies injected failures.
// It returns the job snapshot to serve, or nil when the response was already written.
func (f *FakeAPI) begin(w http.ResponseWriter, r *http.Request, endpoint string) *FakeJob {
	jobID := r.PathValue("id")

	f.mu.Lock()
	f.calls[endpoint]++
	hook := f.hooks[endpoint]
	status := f.failures[endpoint]
	f.mu.Unlock()

	if hook != nil {
		hook(jobID)
	}

	if status != 0 {
		http.Error(w, "injected failure", status)
		return nil
	}
	if jobID == "" {
		return &FakeJob{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return nil
	}
	copied := *job
	copied.Audit = append([]models.AuditEntry(nil), job.Audit...)
	copied.Chat = append([]models.ChatEntry(nil), job.Chat...)
	copied.Deltas = append([]models.GraphDelta(nil), job.Deltas...)
	copied.Snapshots = append([]models.GraphSnapshot(nil), job.Snapshots...)
	return &copied
}

func (f *FakeAPI) handleJobs(w http.ResponseWriter, r *http.Request) {
	if f.begin(w, r, EndpointJobs) == nil {
		return
	}

	f.mu.Lock()
	jobs := make([]models.JobSummary, 0, len(f.jobs))
	for id, job := range f.jobs {
		jobs = append(jobs, models.JobSummary{ID: id, Name: job.Name, Status: "completed", UpdatedAt: job.LastUpdate})
	}
	f.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	writeJSON(w, jobs)
}

func (f *FakeAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	job := f.begin(w, r, EndpointVersion)
	if job == nil {
		return
	}
	writeJSON(w, models.JobVersion{
		AuditEntryCount: len(job.Audit),
		ChatEntryCount:  len(job.Chat),
		GraphDeltaCount: len(job.Deltas),
		LastUpdate:      job.LastUpdate,
	})
}

func (f *FakeAPI) handleAuditBulk(w http.ResponseWriter, r *http.Request) {
	job := f.begin(w, r, EndpointAudit)
	if job == nil {
		return
	}
	offset, end, info := page(r, len(job.Audit))
	writeJSON(w, models.AuditBulkResponse{Entries: job.Audit[offset:end], PageInfo: info})
}

func (f *FakeAPI) handleChatBulk(w http.ResponseWriter, r *http.Request) {
	job := f.begin(w, r, EndpointChat)
	if job == nil {
		return
	}
	offset, end, info := page(r, len(job.Chat))
	writeJSON(w, models.ChatBulkResponse{Entries: job.Chat[offset:end], PageInfo: info})
}

func (f *FakeAPI) handleGraphBulk(w http.ResponseWriter, r *http.Request) {
	job := f.begin(w, r, EndpointGraph)
	if job == nil {
		return
	}
	offset, end, info := page(r, len(job.Deltas))
	writeJSON(w, models.GraphBulkResponse{Deltas: job.Deltas[offset:end], PageInfo: info})
}

func (f *FakeAPI) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	job := f.begin(w, r, EndpointSnapshots)
	if job == nil {
		return
	}
	writeJSON(w, models.SnapshotListResponse{Snapshots: job.Snapshots})
}

func (f *FakeAPI) handlePageForTimestamp(w http.ResponseWriter, r *http.Request) {
	job := f.begin(w, r, EndpointPage)
	if job == nil {
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("timestamp"))
	if err != nil {
		http.Error(w, "invalid timestamp", http.StatusBadRequest)
		return
	}
	pageSize, err := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if err != nil || pageSize <= 0 {
		http.Error(w, "invalid pageSize", http.StatusBadRequest)
		return
	}
	filter, _ := models.ParseFilterCategory(r.URL.Query().Get("filter"))

	result := models.PageForTimestamp{Page: 0, Index: -1}
	position := 0
	for _, entry := range job.Audit {
		if !filter.Allows(entry.StepType) {
			continue
		}
		if entry.Timestamp.After(ts) {
			break
		}
		result.Page = position / pageSize
		result.Index = entry.Index
		position++
	}
	writeJSON(w, result)
}

func (f *FakeAPI) handleTimeRange(w http.ResponseWriter, r *http.Request) {
	job := f.begin(w, r, EndpointTimeRange)
	if job == nil {
		return
	}
	var result models.TimeRange
	if len(job.Audit) > 0 {
		result.Start = job.Audit[0].Timestamp
		result.End = job.Audit[len(job.Audit)-1].Timestamp
	}
	writeJSON(w, result)
}

func page(r *http.Request, total int) (int, int, models.PageInfo) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	if limit <= 0 {
		limit = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return offset, end, models.PageInfo{
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: end < total,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

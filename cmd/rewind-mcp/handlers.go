package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/app"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/services/replay"
	"github.com/ternarybob/rewind/internal/services/window"
)

// maxAuditRange caps get_audit_range responses
const maxAuditRange = 500

// toolset holds what the MCP tools read from
type toolset struct {
	session *replay.Session
	window  *window.Manager
	api     interfaces.AuditAPI
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

func newToolset(application *app.App, logger arbor.ILogger) *toolset {
	return &toolset{
		session: application.Session,
		window:  application.Window,
		api:     application.APIClient,
		storage: application.StorageManager,
		logger:  logger,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(format string, args ...interface{}) *mcp.CallToolResult {
	result := textResult("Error: " + fmt.Sprintf(format, args...))
	result.IsError = true
	return result
}

// ensureJob loads jobID into the session when it is not already loaded.
// An empty jobID means the loaded job.
func (t *toolset) ensureJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		if t.session.JobID() == "" {
			return fmt.Errorf("no job loaded: pass job_id or call load_job first")
		}
		return nil
	}
	return t.session.LoadJob(ctx, jobID)
}

// handleListJobs implements the list_jobs tool
func (t *toolset) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := t.api.ListJobs(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("ListJobs failed")
		return errorResult("failed to list jobs: %v", err), nil
	}

	cached := make(map[string]*models.JobCacheMetadata)
	for _, job := range jobs {
		meta, err := t.storage.MetadataStorage().Get(ctx, job.ID)
		if err == nil && meta != nil && meta.Version == models.CacheSchemaVersion {
			cached[job.ID] = meta
		}
	}

	return textResult(formatJobList(jobs, cached, t.session.JobID())), nil
}

// handleLoadJob implements the load_job tool
func (t *toolset) handleLoadJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil || jobID == "" {
		return errorResult("job_id parameter is required"), nil
	}

	if err := t.session.LoadJob(ctx, jobID); err != nil {
		t.logger.Error().Err(err).Str("job_id", jobID).Msg("LoadJob failed")
		return errorResult("failed to load job %s: %v", jobID, err), nil
	}

	return textResult(formatSessionState(t.session.State())), nil
}

// handleRenderGraphAt implements the render_graph_at tool
func (t *toolset) handleRenderGraphAt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.ensureJob(ctx, request.GetString("job_id", "")); err != nil {
		return errorResult("%v", err), nil
	}

	index := request.GetInt("index", t.session.State().GraphIndex)
	if raw := request.GetString("timestamp", ""); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return errorResult("invalid timestamp %q: expected RFC 3339", raw), nil
		}
		if index, err = t.session.FindGraphIndexAt(ts); err != nil {
			return errorResult("%v", err), nil
		}
	}

	graph, err := t.session.RenderGraphAt(index)
	if err != nil {
		return errorResult("failed to render graph: %v", err), nil
	}
	return textResult(formatGraph(graph)), nil
}

// handleFindGraphIndexAt implements the find_graph_index_at tool
func (t *toolset) handleFindGraphIndexAt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("timestamp")
	if err != nil || raw == "" {
		return errorResult("timestamp parameter is required"), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return errorResult("invalid timestamp %q: expected RFC 3339", raw), nil
	}
	if err := t.ensureJob(ctx, request.GetString("job_id", "")); err != nil {
		return errorResult("%v", err), nil
	}

	index, err := t.session.FindGraphIndexAt(ts)
	if err != nil {
		return errorResult("%v", err), nil
	}
	if index < 0 {
		return textResult(fmt.Sprintf("No graph delta at or before %s (index -1, empty graph)", ts.Format(time.RFC3339Nano))), nil
	}
	return textResult(fmt.Sprintf("Graph index at %s: %d", ts.Format(time.RFC3339Nano), index)), nil
}

// handleGetAuditRange implements the get_audit_range tool
func (t *toolset) handleGetAuditRange(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, err := request.RequireInt("start")
	if err != nil {
		return errorResult("start parameter is required"), nil
	}
	end, err := request.RequireInt("end")
	if err != nil {
		return errorResult("end parameter is required"), nil
	}
	if start < 0 || end < start {
		return errorResult("invalid range [%d, %d]", start, end), nil
	}
	if end-start+1 > maxAuditRange {
		end = start + maxAuditRange - 1
	}

	if err := t.ensureJob(ctx, request.GetString("job_id", "")); err != nil {
		return errorResult("%v", err), nil
	}

	entries, err := t.window.AuditRange(ctx, start, end)
	if err != nil {
		return errorResult("failed to read audit range: %v", err), nil
	}
	return textResult(formatAuditEntries(start, end, t.window.TotalEntries(), entries)), nil
}

// handleCacheStatus implements the cache_status tool
func (t *toolset) handleCacheStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !t.storage.IsAvailable() {
		return textResult("Local cache is disabled; jobs are read from the remote API only."), nil
	}

	var metas []models.JobCacheMetadata
	if jobID := request.GetString("job_id", ""); jobID != "" {
		meta, err := t.storage.MetadataStorage().Get(ctx, jobID)
		if err != nil {
			return errorResult("failed to read cache metadata: %v", err), nil
		}
		if meta == nil {
			return textResult(fmt.Sprintf("Job %s is not cached.", jobID)), nil
		}
		metas = append(metas, *meta)
	} else {
		var err error
		if metas, err = t.storage.MetadataStorage().List(ctx); err != nil {
			return errorResult("failed to list cache metadata: %v", err), nil
		}
	}

	return textResult(formatCacheStatus(metas)), nil
}

package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createListJobsTool returns the list_jobs tool definition
func createListJobsTool() mcp.Tool {
	return mcp.NewTool("list_jobs",
		mcp.WithDescription("List recorded jobs on the audit API with their local cache state"),
	)
}

// createLoadJobTool returns the load_job tool definition
func createLoadJobTool() mcp.Tool {
	return mcp.NewTool("load_job",
		mcp.WithDescription("Load a job into the replay session, fetching and caching it if needed"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID"),
		),
	)
}

// createRenderGraphAtTool returns the render_graph_at tool definition
func createRenderGraphAtTool() mcp.Tool {
	return mcp.NewTool("render_graph_at",
		mcp.WithDescription("Reconstruct the knowledge graph at a delta index or timestamp"),
		mcp.WithString("job_id",
			mcp.Description("Job ID (default: the loaded job)"),
		),
		mcp.WithNumber("index",
			mcp.Description("Delta index, -1 for the empty graph before the first delta"),
		),
		mcp.WithString("timestamp",
			mcp.Description("RFC 3339 timestamp; renders the last delta at or before it"),
		),
	)
}

// createFindGraphIndexAtTool returns the find_graph_index_at tool definition
func createFindGraphIndexAtTool() mcp.Tool {
	return mcp.NewTool("find_graph_index_at",
		mcp.WithDescription("Find the last graph delta index at or before a timestamp"),
		mcp.WithString("job_id",
			mcp.Description("Job ID (default: the loaded job)"),
		),
		mcp.WithString("timestamp",
			mcp.Required(),
			mcp.Description("RFC 3339 timestamp"),
		),
	)
}

// createGetAuditRangeTool returns the get_audit_range tool definition
func createGetAuditRangeTool() mcp.Tool {
	return mcp.NewTool("get_audit_range",
		mcp.WithDescription("Read audit entries by index range, inclusive"),
		mcp.WithString("job_id",
			mcp.Description("Job ID (default: the loaded job)"),
		),
		mcp.WithNumber("start",
			mcp.Required(),
			mcp.Description("First index"),
		),
		mcp.WithNumber("end",
			mcp.Required(),
			mcp.Description("Last index (max 500 entries per call)"),
		),
	)
}

// createCacheStatusTool returns the cache_status tool definition
func createCacheStatusTool() mcp.Tool {
	return mcp.NewTool("cache_status",
		mcp.WithDescription("Show what the local cache holds, for one job or all"),
		mcp.WithString("job_id",
			mcp.Description("Job ID (default: every cached job)"),
		),
	)
}

package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/services/replay"
)

// formatJobList formats the job list as markdown
func formatJobList(jobs []models.JobSummary, cached map[string]*models.JobCacheMetadata, loaded string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Jobs (%d)\n\n", len(jobs)))

	if len(jobs) == 0 {
		sb.WriteString("No jobs found.\n")
		return sb.String()
	}

	for _, job := range jobs {
		sb.WriteString(fmt.Sprintf("- **%s**", job.ID))
		if job.Name != "" && job.Name != job.ID {
			sb.WriteString(fmt.Sprintf(" %s", job.Name))
		}
		if job.Status != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", job.Status))
		}
		if meta, ok := cached[job.ID]; ok {
			sb.WriteString(fmt.Sprintf(" cached: %d audit / %d chat / %d graph", meta.AuditCount, meta.ChatCount, meta.GraphDeltaCount))
		}
		if job.ID == loaded {
			sb.WriteString(" [loaded]")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatSessionState formats the session summary after a load
func formatSessionState(state replay.State) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Job %s loaded\n\n", state.JobID))
	sb.WriteString(fmt.Sprintf("**Audit entries:** %d\n", state.Counts[models.StreamAudit]))
	sb.WriteString(fmt.Sprintf("**Chat turns:** %d\n", state.Counts[models.StreamChat]))
	sb.WriteString(fmt.Sprintf("**Graph deltas:** %d\n", state.Counts[models.StreamGraph]))
	sb.WriteString(fmt.Sprintf("**From cache:** %v\n", state.Status.FromCache))
	if state.Status.Offline {
		sb.WriteString("**Offline:** serving the local cache, the API is unreachable\n")
	}
	if state.CurrentTimestamp != nil {
		sb.WriteString(fmt.Sprintf("**Cursor:** %s (index %d)\n", state.CurrentTimestamp.Format(time.RFC3339Nano), state.SliderIndex))
	}
	return sb.String()
}

// formatGraph formats a rendered graph as a markdown summary plus JSON
func formatGraph(graph *models.RenderedGraph) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Graph at index %d\n\n", graph.Index))
	if !graph.Timestamp.IsZero() {
		sb.WriteString(fmt.Sprintf("**Timestamp:** %s\n", graph.Timestamp.Format(time.RFC3339Nano)))
	}
	sb.WriteString(fmt.Sprintf("**Nodes:** %d\n", len(graph.Nodes)))
	sb.WriteString(fmt.Sprintf("**Relationships:** %d\n", len(graph.Relationships)))

	counts := graph.CountByState()
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, string(state))
	}
	sort.Strings(states)
	for _, state := range states {
		sb.WriteString(fmt.Sprintf("- %s: %d\n", state, counts[models.ChangeState(state)]))
	}

	data, err := json.MarshalIndent(graph, "", "  ")
	if err == nil {
		sb.WriteString("\n```json\n")
		sb.Write(data)
		sb.WriteString("\n```\n")
	}
	return sb.String()
}

// formatAuditEntries formats an audit range as markdown
func formatAuditEntries(start, end, total int, entries []models.AuditEntry) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Audit entries %d-%d of %d\n\n", start, end, total))

	if len(entries) == 0 {
		sb.WriteString("No entries in range.\n")
		return sb.String()
	}

	for _, entry := range entries {
		sb.WriteString(fmt.Sprintf("%d. `%s` **%s**", entry.Index, entry.Timestamp.Format(time.RFC3339Nano), entry.StepType))
		if entry.ToolName != "" {
			sb.WriteString(fmt.Sprintf(" %s", entry.ToolName))
		}
		if entry.Summary != "" {
			sb.WriteString(fmt.Sprintf(": %s", entry.Summary))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatCacheStatus formats cache metadata as markdown
func formatCacheStatus(metas []models.JobCacheMetadata) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Cached jobs (%d)\n\n", len(metas)))

	if len(metas) == 0 {
		sb.WriteString("The cache is empty.\n")
		return sb.String()
	}

	for _, meta := range metas {
		sb.WriteString(fmt.Sprintf("### %s\n", meta.JobID))
		if meta.Version != models.CacheSchemaVersion {
			sb.WriteString(fmt.Sprintf("**Stale schema:** version %d, will be refetched on load\n\n", meta.Version))
			continue
		}
		sb.WriteString(fmt.Sprintf("**Audit:** %d  **Chat:** %d  **Graph deltas:** %d  **Snapshots:** %d\n",
			meta.AuditCount, meta.ChatCount, meta.GraphDeltaCount, meta.SnapshotCount))
		if !meta.FirstTimestamp.IsZero() {
			sb.WriteString(fmt.Sprintf("**Span:** %s to %s\n", meta.FirstTimestamp.Format(time.RFC3339), meta.LastTimestamp.Format(time.RFC3339)))
		}
		sb.WriteString(fmt.Sprintf("**Cached at:** %s\n\n", meta.CachedAt.Format(time.RFC3339)))
	}
	return sb.String()
}

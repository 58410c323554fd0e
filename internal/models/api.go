package models

import "time"

// JobSummary is one row of the backend job list
type JobSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// JobVersion carries the server-side stream counts used for cache validation
type JobVersion struct {
	AuditEntryCount int       `json:"auditEntryCount" validate:"min=0"`
	ChatEntryCount  int       `json:"chatEntryCount" validate:"min=0"`
	GraphDeltaCount int       `json:"graphDeltaCount" validate:"min=0"`
	LastUpdate      time.Time `json:"lastUpdate"`
}

// Count returns the server count for a stream
func (v *JobVersion) Count(stream StreamKind) int {
	switch stream {
	case StreamAudit:
		return v.AuditEntryCount
	case StreamChat:
		return v.ChatEntryCount
	case StreamGraph:
		return v.GraphDeltaCount
	}
	return 0
}

// PageInfo is the pagination envelope shared by the bulk endpoints
type PageInfo struct {
	Total   int  `json:"total" validate:"min=0"`
	Offset  int  `json:"offset" validate:"min=0"`
	Limit   int  `json:"limit" validate:"min=0"`
	HasMore bool `json:"hasMore"`
}

type AuditBulkResponse struct {
	Entries []AuditEntry `json:"entries"`
	PageInfo
}

type ChatBulkResponse struct {
	Entries []ChatEntry `json:"entries"`
	PageInfo
}

type GraphBulkResponse struct {
	Deltas []GraphDelta `json:"deltas"`
	PageInfo
}

type SnapshotListResponse struct {
	Snapshots []GraphSnapshot `json:"snapshots"`
}

// PageForTimestamp locates the audit page containing a timestamp
type PageForTimestamp struct {
	Page  int `json:"page"`
	Index int `json:"index"`
}

// TimeRange is the first and last recorded timestamp of a job
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AuditPage is one page of the paginated (non-windowed) audit view
type AuditPage struct {
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
	Focus    int          `json:"focus"`
	Entries  []AuditEntry `json:"entries"`
	Total    int          `json:"total"`
}

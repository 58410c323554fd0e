package models

import "time"

// CacheSchemaVersion is bumped whenever the on-disk layout changes.
// Metadata written under another version is treated as absent.
const CacheSchemaVersion = 1

// JobCacheMetadata describes what the local store holds for a job
type JobCacheMetadata struct {
	JobID            string    `json:"jobId" badgerhold:"key"`
	AuditCount       int       `json:"auditCount"`
	ChatCount        int       `json:"chatCount"`
	GraphDeltaCount  int       `json:"graphDeltaCount"`
	SnapshotCount    int       `json:"snapshotCount"`
	FirstTimestamp   time.Time `json:"firstTimestamp"`
	LastTimestamp    time.Time `json:"lastTimestamp"`
	ServerLastUpdate time.Time `json:"serverLastUpdate"`
	CachedAt         time.Time `json:"cachedAt"`
	Version          int       `json:"version"`
}

// Count returns the cached count for a stream
func (m *JobCacheMetadata) Count(stream StreamKind) int {
	if m == nil {
		return 0
	}
	switch stream {
	case StreamAudit:
		return m.AuditCount
	case StreamChat:
		return m.ChatCount
	case StreamGraph:
		return m.GraphDeltaCount
	}
	return 0
}

// SetCount records the cached count for a stream
func (m *JobCacheMetadata) SetCount(stream StreamKind, n int) {
	switch stream {
	case StreamAudit:
		m.AuditCount = n
	case StreamChat:
		m.ChatCount = n
	case StreamGraph:
		m.GraphDeltaCount = n
	}
}

// IsValidFor reports whether the cache can be served without a refetch.
// Only the audit count decides validity; chat and graph tails are topped up separately.
func (m *JobCacheMetadata) IsValidFor(version *JobVersion) bool {
	if m == nil || version == nil {
		return false
	}
	if m.Version != CacheSchemaVersion {
		return false
	}
	return m.AuditCount == version.AuditEntryCount
}

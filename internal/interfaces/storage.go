package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/rewind/internal/models"
)

// AuditStorage - per-job audit entries keyed by dense index
type AuditStorage interface {
	// PutEntries upserts entries at startIndex, startIndex+1, ... Last write wins.
	PutEntries(ctx context.Context, jobID string, entries []models.AuditEntry, startIndex int) error
	// GetRange returns entries with start <= index <= end in index order
	GetRange(ctx context.Context, jobID string, start, end int) ([]models.AuditEntry, error)
	// GetRangeByType returns entries of the given step types within [start, end] in index order
	GetRangeByType(ctx context.Context, jobID string, stepTypes []models.StepType, start, end int) ([]models.AuditEntry, error)
	Count(ctx context.Context, jobID string) (int, error)
	CountByType(ctx context.Context, jobID string, stepType models.StepType) (int, error)
	// IndexAtTimestamp returns the last index whose timestamp <= ts, or -1
	IndexAtTimestamp(ctx context.Context, jobID string, ts time.Time) (int, error)
}

// ChatStorage - per-job chat turns keyed by sequence number
type ChatStorage interface {
	PutEntries(ctx context.Context, jobID string, entries []models.ChatEntry, startIndex int) error
	GetRange(ctx context.Context, jobID string, start, end int) ([]models.ChatEntry, error)
	Count(ctx context.Context, jobID string) (int, error)
	IndexAtTimestamp(ctx context.Context, jobID string, ts time.Time) (int, error)
}

// GraphStorage - per-job graph deltas keyed by tool call index, plus server snapshots
type GraphStorage interface {
	PutDeltas(ctx context.Context, jobID string, deltas []models.GraphDelta, startIndex int) error
	GetRange(ctx context.Context, jobID string, start, end int) ([]models.GraphDelta, error)
	Count(ctx context.Context, jobID string) (int, error)
	IndexAtTimestamp(ctx context.Context, jobID string, ts time.Time) (int, error)

	// PutSnapshots upserts snapshots keyed by their ToolCallIndex
	PutSnapshots(ctx context.Context, jobID string, snapshots []models.GraphSnapshot) error
	// GetSnapshots returns every stored snapshot in ascending ToolCallIndex order
	GetSnapshots(ctx context.Context, jobID string) ([]models.GraphSnapshot, error)
}

// MetadataStorage - per-job cache metadata
type MetadataStorage interface {
	// Get returns nil, nil when no metadata is recorded for the job
	Get(ctx context.Context, jobID string) (*models.JobCacheMetadata, error)
	Set(ctx context.Context, meta *models.JobCacheMetadata) error
	List(ctx context.Context) ([]models.JobCacheMetadata, error)
}

// StorageManager - interface for managing the local timeline cache
type StorageManager interface {
	AuditStorage() AuditStorage
	ChatStorage() ChatStorage
	GraphStorage() GraphStorage
	MetadataStorage() MetadataStorage

	// ClearJob removes every stream and the metadata of one job
	ClearJob(ctx context.Context, jobID string) error
	// ClearAll removes every cached job
	ClearAll(ctx context.Context) error

	// IsAvailable is false for the no-op store used when the cache cannot be opened
	IsAvailable() bool
	Close() error
}

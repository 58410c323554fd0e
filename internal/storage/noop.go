package storage

import (
	"context"
	"time"

	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
)

// NoopManager is the StorageManager used when no local cache exists.
// Writes succeed and are discarded, reads are always empty, metadata is always absent.
type NoopManager struct{}

// NewNoopManager creates the cache-less storage manager
func NewNoopManager() *NoopManager {
	return &NoopManager{}
}

func (m *NoopManager) AuditStorage() interfaces.AuditStorage       { return noopAudit{} }
func (m *NoopManager) ChatStorage() interfaces.ChatStorage         { return noopChat{} }
func (m *NoopManager) GraphStorage() interfaces.GraphStorage       { return noopGraph{} }
func (m *NoopManager) MetadataStorage() interfaces.MetadataStorage { return noopMetadata{} }
func (m *NoopManager) ClearJob(ctx context.Context, jobID string) error {
	return nil
}
func (m *NoopManager) ClearAll(ctx context.Context) error { return nil }
func (m *NoopManager) IsAvailable() bool                  { return false }
func (m *NoopManager) Close() error                       { return nil }

type noopAudit struct{}

func (noopAudit) PutEntries(context.Context, string, []models.AuditEntry, int) error { return nil }
func (noopAudit) GetRange(context.Context, string, int, int) ([]models.AuditEntry, error) {
	return []models.AuditEntry{}, nil
}
func (noopAudit) GetRangeByType(context.Context, string, []models.StepType, int, int) ([]models.AuditEntry, error) {
	return []models.AuditEntry{}, nil
}
func (noopAudit) Count(context.Context, string) (int, error) { return 0, nil }
func (noopAudit) CountByType(context.Context, string, models.StepType) (int, error) {
	return 0, nil
}
func (noopAudit) IndexAtTimestamp(context.Context, string, time.Time) (int, error) { return -1, nil }

type noopChat struct{}

func (noopChat) PutEntries(context.Context, string, []models.ChatEntry, int) error { return nil }
func (noopChat) GetRange(context.Context, string, int, int) ([]models.ChatEntry, error) {
	return []models.ChatEntry{}, nil
}
func (noopChat) Count(context.Context, string) (int, error)                       { return 0, nil }
func (noopChat) IndexAtTimestamp(context.Context, string, time.Time) (int, error) { return -1, nil }

type noopGraph struct{}

func (noopGraph) PutDeltas(context.Context, string, []models.GraphDelta, int) error { return nil }
func (noopGraph) GetRange(context.Context, string, int, int) ([]models.GraphDelta, error) {
	return []models.GraphDelta{}, nil
}
func (noopGraph) Count(context.Context, string) (int, error)                       { return 0, nil }
func (noopGraph) IndexAtTimestamp(context.Context, string, time.Time) (int, error) { return -1, nil }
func (noopGraph) PutSnapshots(context.Context, string, []models.GraphSnapshot) error {
	return nil
}
func (noopGraph) GetSnapshots(context.Context, string) ([]models.GraphSnapshot, error) {
	return []models.GraphSnapshot{}, nil
}

type noopMetadata struct{}

func (noopMetadata) Get(context.Context, string) (*models.JobCacheMetadata, error) { return nil, nil }
func (noopMetadata) Set(context.Context, *models.JobCacheMetadata) error           { return nil }
func (noopMetadata) List(context.Context) ([]models.JobCacheMetadata, error) {
	return []models.JobCacheMetadata{}, nil
}

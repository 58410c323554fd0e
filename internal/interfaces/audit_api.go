package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/rewind/internal/models"
)

// AuditAPI - the remote backend that owns the recorded job history
type AuditAPI interface {
	ListJobs(ctx context.Context) ([]models.JobSummary, error)
	GetVersion(ctx context.Context, jobID string) (*models.JobVersion, error)
	GetAuditBulk(ctx context.Context, jobID string, offset, limit int) (*models.AuditBulkResponse, error)
	GetChatBulk(ctx context.Context, jobID string, offset, limit int) (*models.ChatBulkResponse, error)
	GetGraphBulk(ctx context.Context, jobID string, offset, limit int) (*models.GraphBulkResponse, error)
	GetSnapshots(ctx context.Context, jobID string) ([]models.GraphSnapshot, error)
	GetPageForTimestamp(ctx context.Context, jobID string, ts time.Time, pageSize int, filter models.FilterCategory) (*models.PageForTimestamp, error)
	GetTimeRange(ctx context.Context, jobID string) (*models.TimeRange, error)
}

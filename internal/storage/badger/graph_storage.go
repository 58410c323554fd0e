package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
)

// GraphStorage implements the GraphStorage interface for Badger
type GraphStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewGraphStorage creates a new GraphStorage instance
func NewGraphStorage(db *BadgerDB, logger arbor.ILogger) interfaces.GraphStorage {
	return &GraphStorage{
		db:     db,
		logger: logger,
	}
}

func (s *GraphStorage) PutDeltas(ctx context.Context, jobID string, deltas []models.GraphDelta, startIndex int) error {
	err := writeStream(ctx, s.db.Badger(), segmentPrefix(jobID, segmentGraph), deltas, startIndex,
		func(_ *txnWriter, index int, delta *models.GraphDelta) error {
			delta.JobID = jobID
			delta.ToolCallIndex = index
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to store graph deltas for job %s: %w", jobID, err)
	}
	return nil
}

func (s *GraphStorage) GetRange(ctx context.Context, jobID string, start, end int) ([]models.GraphDelta, error) {
	deltas, err := readStream[models.GraphDelta](ctx, s.db.Badger(), segmentPrefix(jobID, segmentGraph), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph range [%d, %d] for job %s: %w", start, end, jobID, err)
	}
	return deltas, nil
}

func (s *GraphStorage) Count(ctx context.Context, jobID string) (int, error) {
	count, err := countKeys(ctx, s.db.Badger(), segmentPrefix(jobID, segmentGraph))
	if err != nil {
		return 0, fmt.Errorf("failed to count graph deltas: %w", err)
	}
	return count, nil
}

func (s *GraphStorage) IndexAtTimestamp(ctx context.Context, jobID string, ts time.Time) (int, error) {
	return indexAtTimestamp(ctx, s.db.Badger(), segmentPrefix(jobID, segmentGraph), ts)
}

// PutSnapshots stores each snapshot at its own ToolCallIndex, so the keys are sparse
func (s *GraphStorage) PutSnapshots(ctx context.Context, jobID string, snapshots []models.GraphSnapshot) error {
	prefix := segmentPrefix(jobID, segmentSnapshot)
	for i := range snapshots {
		snapshot := snapshots[i]
		snapshot.JobID = jobID
		if err := writeStream(ctx, s.db.Badger(), prefix, []models.GraphSnapshot{snapshot}, snapshot.ToolCallIndex, nil); err != nil {
			return fmt.Errorf("failed to store snapshot %d for job %s: %w", snapshot.ToolCallIndex, jobID, err)
		}
	}

	s.logger.Debug().Str("job_id", jobID).Int("count", len(snapshots)).Msg("Stored graph snapshots")
	return nil
}

func (s *GraphStorage) GetSnapshots(ctx context.Context, jobID string) ([]models.GraphSnapshot, error) {
	snapshots, err := readStream[models.GraphSnapshot](ctx, s.db.Badger(), segmentPrefix(jobID, segmentSnapshot), 0, maxStoredIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots for job %s: %w", jobID, err)
	}
	return snapshots, nil
}

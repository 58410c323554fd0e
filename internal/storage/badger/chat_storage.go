package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
)

// ChatStorage implements the ChatStorage interface for Badger
type ChatStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewChatStorage creates a new ChatStorage instance
func NewChatStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ChatStorage {
	return &ChatStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ChatStorage) PutEntries(ctx context.Context, jobID string, entries []models.ChatEntry, startIndex int) error {
	err := writeStream(ctx, s.db.Badger(), segmentPrefix(jobID, segmentChat), entries, startIndex,
		func(_ *txnWriter, index int, entry *models.ChatEntry) error {
			entry.JobID = jobID
			entry.SequenceNumber = index
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to store chat entries for job %s: %w", jobID, err)
	}
	return nil
}

func (s *ChatStorage) GetRange(ctx context.Context, jobID string, start, end int) ([]models.ChatEntry, error) {
	entries, err := readStream[models.ChatEntry](ctx, s.db.Badger(), segmentPrefix(jobID, segmentChat), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat range [%d, %d] for job %s: %w", start, end, jobID, err)
	}
	return entries, nil
}

func (s *ChatStorage) Count(ctx context.Context, jobID string) (int, error) {
	count, err := countKeys(ctx, s.db.Badger(), segmentPrefix(jobID, segmentChat))
	if err != nil {
		return 0, fmt.Errorf("failed to count chat entries: %w", err)
	}
	return count, nil
}

func (s *ChatStorage) IndexAtTimestamp(ctx context.Context, jobID string, ts time.Time) (int, error) {
	return indexAtTimestamp(ctx, s.db.Badger(), segmentPrefix(jobID, segmentChat), ts)
}

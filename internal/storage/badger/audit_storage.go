package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
)

// AuditStorage implements the AuditStorage interface for Badger
type AuditStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAuditStorage creates a new AuditStorage instance
func NewAuditStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AuditStorage {
	return &AuditStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AuditStorage) PutEntries(ctx context.Context, jobID string, entries []models.AuditEntry, startIndex int) error {
	prefix := segmentPrefix(jobID, segmentAudit)

	err := writeStream(ctx, s.db.Badger(), prefix, entries, startIndex,
		func(w *txnWriter, index int, entry *models.AuditEntry) error {
			// The key decides the index, whatever the payload claims
			entry.JobID = jobID
			entry.Index = index

			previous, err := w.getCopy(indexKey(prefix, index))
			if err != nil {
				return fmt.Errorf("failed to read previous audit entry %d: %w", index, err)
			}
			if previous != nil {
				var old models.AuditEntry
				if err := json.Unmarshal(previous, &old); err == nil && old.StepType != entry.StepType {
					if err := w.delete(indexKey(auditTypePrefix(jobID, old.StepType), index)); err != nil {
						return fmt.Errorf("failed to drop stale type index %d: %w", index, err)
					}
				}
			}

			return w.set(indexKey(auditTypePrefix(jobID, entry.StepType), index), []byte{})
		})
	if err != nil {
		return fmt.Errorf("failed to store audit entries for job %s: %w", jobID, err)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Int("start_index", startIndex).
		Int("count", len(entries)).
		Msg("Stored audit entries")

	return nil
}

func (s *AuditStorage) GetRange(ctx context.Context, jobID string, start, end int) ([]models.AuditEntry, error) {
	entries, err := readStream[models.AuditEntry](ctx, s.db.Badger(), segmentPrefix(jobID, segmentAudit), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit range [%d, %d] for job %s: %w", start, end, jobID, err)
	}
	return entries, nil
}

// GetRangeByType walks the step type index instead of decoding every entry in the range
func (s *AuditStorage) GetRangeByType(ctx context.Context, jobID string, stepTypes []models.StepType, start, end int) ([]models.AuditEntry, error) {
	if len(stepTypes) == 0 {
		return s.GetRange(ctx, jobID, start, end)
	}
	if start < 0 {
		start = 0
	}
	if end > maxStoredIndex {
		end = maxStoredIndex
	}
	if end < start {
		return []models.AuditEntry{}, nil
	}

	auditPrefix := segmentPrefix(jobID, segmentAudit)
	var entries []models.AuditEntry

	err := s.db.Badger().View(func(txn *badger.Txn) error {
		var indices []int
		for _, stepType := range stepTypes {
			found, err := collectIndices(ctx, txn, auditTypePrefix(jobID, stepType), start, end)
			if err != nil {
				return err
			}
			indices = append(indices, found...)
		}
		sort.Ints(indices)

		entries = make([]models.AuditEntry, 0, len(indices))
		for _, index := range indices {
			item, err := txn.Get(indexKey(auditPrefix, index))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}

			var entry models.AuditEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("failed to decode audit entry %d: %w", index, err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read filtered audit range for job %s: %w", jobID, err)
	}

	return entries, nil
}

func (s *AuditStorage) Count(ctx context.Context, jobID string) (int, error) {
	count, err := countKeys(ctx, s.db.Badger(), segmentPrefix(jobID, segmentAudit))
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

func (s *AuditStorage) CountByType(ctx context.Context, jobID string, stepType models.StepType) (int, error) {
	count, err := countKeys(ctx, s.db.Badger(), auditTypePrefix(jobID, stepType))
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries by type: %w", err)
	}
	return count, nil
}

func (s *AuditStorage) IndexAtTimestamp(ctx context.Context, jobID string, ts time.Time) (int, error) {
	return indexAtTimestamp(ctx, s.db.Badger(), segmentPrefix(jobID, segmentAudit), ts)
}

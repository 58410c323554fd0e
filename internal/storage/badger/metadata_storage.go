package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// MetadataStorage implements the MetadataStorage interface for Badger
type MetadataStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMetadataStorage creates a new MetadataStorage instance
func NewMetadataStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MetadataStorage {
	return &MetadataStorage{
		db:     db,
		logger: logger,
	}
}

func (s *MetadataStorage) Get(ctx context.Context, jobID string) (*models.JobCacheMetadata, error) {
	var meta models.JobCacheMetadata
	err := s.db.Store().Get(jobID, &meta)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache metadata for job %s: %w", jobID, err)
	}
	return &meta, nil
}

func (s *MetadataStorage) Set(ctx context.Context, meta *models.JobCacheMetadata) error {
	if meta == nil || meta.JobID == "" {
		return fmt.Errorf("cache metadata requires a job id")
	}
	if err := s.db.Store().Upsert(meta.JobID, meta); err != nil {
		return fmt.Errorf("failed to store cache metadata for job %s: %w", meta.JobID, err)
	}
	return nil
}

func (s *MetadataStorage) List(ctx context.Context) ([]models.JobCacheMetadata, error) {
	var metas []models.JobCacheMetadata
	if err := s.db.Store().Find(&metas, nil); err != nil {
		return nil, fmt.Errorf("failed to list cache metadata: %w", err)
	}
	return metas, nil
}

func (s *MetadataStorage) delete(jobID string) error {
	err := s.db.Store().Delete(jobID, &models.JobCacheMetadata{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete cache metadata for job %s: %w", jobID, err)
	}
	return nil
}

func (s *MetadataStorage) deleteAll() error {
	return s.db.Store().DeleteMatching(&models.JobCacheMetadata{}, nil)
}

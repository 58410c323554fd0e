package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	audit    interfaces.AuditStorage
	chat     interfaces.ChatStorage
	graph    interfaces.GraphStorage
	metadata *MetadataStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := newManager(db, logger)
	logger.Info().Str("path", config.Path).Bool("in_memory", config.InMemory).Msg("Badger storage manager initialized")

	return manager, nil
}

func newManager(db *BadgerDB, logger arbor.ILogger) *Manager {
	return &Manager{
		db:       db,
		audit:    NewAuditStorage(db, logger),
		chat:     NewChatStorage(db, logger),
		graph:    NewGraphStorage(db, logger),
		metadata: NewMetadataStorage(db, logger).(*MetadataStorage),
		logger:   logger,
	}
}

// AuditStorage returns the Audit storage interface
func (m *Manager) AuditStorage() interfaces.AuditStorage {
	return m.audit
}

// ChatStorage returns the Chat storage interface
func (m *Manager) ChatStorage() interfaces.ChatStorage {
	return m.chat
}

// GraphStorage returns the Graph storage interface
func (m *Manager) GraphStorage() interfaces.GraphStorage {
	return m.graph
}

// MetadataStorage returns the Metadata storage interface
func (m *Manager) MetadataStorage() interfaces.MetadataStorage {
	return m.metadata
}

// ClearJob drops every key of one job; other jobs are untouched
func (m *Manager) ClearJob(ctx context.Context, jobID string) error {
	if err := m.db.Badger().DropPrefix(jobPrefix(jobID)); err != nil {
		return fmt.Errorf("failed to clear cached streams for job %s: %w", jobID, err)
	}
	if err := m.metadata.delete(jobID); err != nil {
		return err
	}

	m.logger.Info().Str("job_id", jobID).Msg("Cleared cached job")
	return nil
}

// ClearAll drops every cached job
func (m *Manager) ClearAll(ctx context.Context) error {
	if err := m.db.Badger().DropPrefix([]byte(keyRoot)); err != nil {
		return fmt.Errorf("failed to clear cached streams: %w", err)
	}
	if err := m.metadata.deleteAll(); err != nil {
		return fmt.Errorf("failed to clear cache metadata: %w", err)
	}

	m.logger.Info().Msg("Cleared all cached jobs")
	return nil
}

// IsAvailable reports that the cache is backed by a real database
func (m *Manager) IsAvailable() bool {
	return true
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		m.logger.Debug().Msg("Closing Badger storage manager")
		return m.db.Close()
	}
	return nil
}

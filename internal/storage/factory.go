package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/storage/badger"
)

// NewStorageManager opens the local cache. When storage is disabled or Badger
// cannot be opened it returns the no-op manager instead of an error, and the
// caller runs every job straight from the remote API.
func NewStorageManager(logger arbor.ILogger, config *common.Config) interfaces.StorageManager {
	if !config.Storage.Badger.Enabled {
		logger.Info().Msg("Local cache disabled - running in remote-only mode")
		return NewNoopManager()
	}

	manager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("path", config.Storage.Badger.Path).
			Msg("Local cache unavailable - running in remote-only mode")
		return NewNoopManager()
	}

	return manager
}

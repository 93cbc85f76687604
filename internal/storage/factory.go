package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/storage/badger"
	"github.com/ternarybob/exerceo/internal/storage/memory"
)

// NewJobStore creates the job store backend selected by config.
// Memory is the default; badger persists records across restarts.
func NewJobStore(logger arbor.ILogger, config *common.Config) (interfaces.JobStore, error) {
	switch config.Storage.Type {
	case "", "memory":
		return memory.NewJobStore(logger), nil
	case "badger":
		return badger.NewJobStore(logger, &config.Storage)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (supported: memory, badger)", config.Storage.Type)
	}
}

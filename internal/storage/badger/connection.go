package badger

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// Value-log garbage collection cadence. Badger never reclaims value-log
// space on its own; a store that runs for days without GC grows unbounded.
const gcInterval = 10 * time.Minute

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	stopGC chan struct{}
	gcOnce sync.Once
	gcDone sync.WaitGroup
}

// NewBadgerDB opens the Badger database at config.Path, creating the
// directory when missing.
func NewBadgerDB(logger arbor.ILogger, config *common.StorageConfig) (*BadgerDB, error) {
	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Opening Badger database connection")

	options := badgerhold.DefaultOptions
	// Disable default badger logger to use arbor
	options.Options = badgerdb.DefaultOptions(config.Path).
		WithLogger(nil).
		WithCompactL0OnClose(true)

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database initialized")

	db := &BadgerDB{
		store:  store,
		logger: logger,
		stopGC: make(chan struct{}),
	}
	db.gcDone.Add(1)
	go db.runValueLogGC()

	return db, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// runValueLogGC periodically rewrites value-log files, repeating within a
// tick until badger reports nothing left to collect.
func (b *BadgerDB) runValueLogGC() {
	defer b.gcDone.Done()

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				err := b.store.Badger().RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badgerdb.ErrNoRewrite) {
					b.logger.Warn().Err(err).Msg("Badger value log GC failed")
				}
				break
			}
		case <-b.stopGC:
			return
		}
	}
}

// Close stops the GC loop and closes the database connection.
func (b *BadgerDB) Close() error {
	b.gcOnce.Do(func() {
		close(b.stopGC)
	})
	b.gcDone.Wait()

	if b.store != nil {
		return b.store.Close()
	}
	return nil
}

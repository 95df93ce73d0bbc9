package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	applogger "github.com/storefront/clientsync/internal/infrastructure/logger"
)

// Record is the persisted whole-record row. Version increments on every
// write so sibling contexts can detect changes by polling.
type Record struct {
	Key       string `gorm:"primaryKey;size:191"`
	Value     []byte
	Version   int64
	UpdatedAt time.Time
}

// TableName sets the table name for GORM
func (Record) TableName() string {
	return "records"
}

// SQLiteStoreConfig configures the file-backed store adapter
type SQLiteStoreConfig struct {
	Path         string
	PollInterval time.Duration
}

// SQLiteStore is the durable store adapter shared by sibling contexts in
// separate processes. Change notification is a background poller comparing
// record versions; a context's own writes are remembered so they never fire
// its own watchers.
type SQLiteStore struct {
	db           *gorm.DB
	logger       *zap.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	seen     map[string]int64
	watchers []WatchFunc

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// OpenSQLiteStore opens (creating if needed) the shared store file and
// starts the sibling-change poller.
func OpenSQLiteStore(cfg SQLiteStoreConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("store: path is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: applogger.NewGormLogger(logger, gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		db:           db,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		seen:         make(map[string]int64),
		stopChan:     make(chan struct{}),
	}

	// Snapshot current versions so pre-existing records don't fire watchers
	// as phantom changes on startup.
	if err := s.primeVersions(); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.pollLoop()

	return s, nil
}

// Get returns the record value and whether the record exists
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var rec Record
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec.Value, true, nil
}

// Put replaces the whole record, bumping its version
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	var version int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec Record
		err := tx.First(&rec, "key = ?", key).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			version = 1
		case err != nil:
			return err
		default:
			version = rec.Version + 1
		}
		return tx.Save(&Record{Key: key, Value: value, Version: version, UpdatedAt: time.Now()}).Error
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.seen[key] = version
	s.mu.Unlock()
	return nil
}

// Delete removes the record
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&Record{}, "key = ?", key).Error; err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.seen, key)
	s.mu.Unlock()
	return nil
}

// Watch registers a sibling-change callback
func (s *SQLiteStore) Watch(fn WatchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// Close stops the poller and closes the database
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) primeVersions() error {
	var recs []Record
	if err := s.db.Select("key", "version").Find(&recs).Error; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.seen[rec.Key] = rec.Version
	}
	return nil
}

// pollLoop periodically compares record versions against what this handle
// has already seen and fires watchers for sibling changes.
func (s *SQLiteStore) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.pollOnce(); err != nil {
				s.logger.Warn("store poll failed", zap.Error(err))
			}
		}
	}
}

func (s *SQLiteStore) pollOnce() error {
	var recs []Record
	if err := s.db.Find(&recs).Error; err != nil {
		return err
	}

	type change struct {
		key   string
		value []byte
	}
	var changes []change

	s.mu.Lock()
	current := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		current[rec.Key] = struct{}{}
		if s.seen[rec.Key] != rec.Version {
			s.seen[rec.Key] = rec.Version
			changes = append(changes, change{key: rec.Key, value: rec.Value})
		}
	}
	// Records deleted by a sibling
	for key := range s.seen {
		if _, ok := current[key]; !ok {
			delete(s.seen, key)
			changes = append(changes, change{key: key})
		}
	}
	watchers := make([]WatchFunc, len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, ch := range changes {
		for _, fn := range watchers {
			fn(ch.key, ch.value)
		}
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)

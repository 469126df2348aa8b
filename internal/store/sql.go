package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type recordRow struct {
	Path      string `gorm:"primaryKey;size:255"`
	Key       string `gorm:"primaryKey;column:record_key;size:64"`
	Data      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (recordRow) TableName() string {
	return "store_records"
}

// SQLStore keeps records as rows of a relational table. Change notifications only reach
// subscribers in the same process.
type SQLStore struct {
	db      *gorm.DB
	keys    *KeyGenerator
	hub     *hub
	breaker *CircuitBreaker
	metrics *Metrics
	loads   singleflight.Group
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSQLStore(db *gorm.DB, logger *log.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate store table: %w", err)
	}

	keys, err := NewKeyGenerator()
	if err != nil {
		return nil, fmt.Errorf("failed to create key generator: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SQLStore{
		db:      db,
		keys:    keys,
		hub:     newHub(),
		breaker: NewCircuitBreaker(nil),
		metrics: NewMetrics(),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (s *SQLStore) Push(ctx context.Context, path string, record Record) (string, error) {
	if err := collectionPath(path); err != nil {
		return "", err
	}

	data, err := json.Marshal(compact(record))
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	row := recordRow{Path: path, Key: s.keys.Next(), Data: string(data)}
	err = s.write(ctx, func(db *gorm.DB) error {
		return db.Create(&row).Error
	})
	if err != nil {
		return "", fmt.Errorf("failed to push to %s: %w", path, err)
	}

	s.changed(path)
	return row.Key, nil
}

func (s *SQLStore) Update(ctx context.Context, path string, fields Record) error {
	collection, key, err := splitRecordPath(path)
	if err != nil {
		return err
	}

	notFound := false
	err = s.write(ctx, func(db *gorm.DB) error {
		err := db.Transaction(func(tx *gorm.DB) error {
			var row recordRow
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("path = ? AND record_key = ?", collection, key).
				First(&row).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}

			record := Record{}
			if err := json.Unmarshal([]byte(row.Data), &record); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			merge(record, fields)

			data, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("failed to marshal record: %w", err)
			}
			row.Data = string(data)
			return tx.Save(&row).Error
		})
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return nil
		}
		return err
	})
	if notFound {
		return fmt.Errorf("failed to update %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}

	s.changed(collection)
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, path string) error {
	collection, key, err := splitRecordPath(path)
	if err != nil {
		return err
	}

	err = s.write(ctx, func(db *gorm.DB) error {
		return db.Where("path = ? AND record_key = ?", collection, key).
			Delete(&recordRow{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	s.changed(collection)
	return nil
}

func (s *SQLStore) write(ctx context.Context, fn func(*gorm.DB) error) error {
	s.metrics.RecordWrite()
	err := s.breaker.Execute(func() error { return fn(s.db.WithContext(ctx)) })
	if err != nil {
		s.metrics.RecordError()
	}
	return err
}

// changed signals subscribers of path. Reads already in flight are not shared with
// reloads that follow.
func (s *SQLStore) changed(path string) {
	s.loads.Forget(path)
	s.hub.publish(path)
}

func (s *SQLStore) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := collectionPath(path); err != nil {
		return nil, err
	}

	s.metrics.RecordRead()
	var rows []recordRow
	if err := s.db.WithContext(ctx).Where("path = ?", path).Find(&rows).Error; err != nil {
		s.metrics.RecordError()
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	snapshot := make(Snapshot, len(rows))
	for _, row := range rows {
		record := Record{}
		if err := json.Unmarshal([]byte(row.Data), &record); err != nil {
			s.logger.Printf("[store] skipping unreadable record %s/%s: %v", path, row.Key, err)
			continue
		}
		snapshot[row.Key] = record
	}
	return snapshot, nil
}

func (s *SQLStore) Subscribe(path string, onSnapshot SnapshotFunc, onError ErrorFunc) Unsubscribe {
	ctx, cancel := context.WithCancel(s.ctx)
	sub := newSubscription(path, onSnapshot, onError, s.metrics, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.unsubscribe()

		if err := collectionPath(path); err != nil {
			sub.fail(err)
			return
		}

		changes, leave := s.hub.subscribe(path)
		defer leave()

		sub.run(ctx, changes, func(changed bool) (Snapshot, error) {
			return sharedLoad(&s.loads, path, changed, func() (Snapshot, error) {
				return s.Get(s.ctx, path)
			})
		})
	}()

	return sub.unsubscribe
}

func (s *SQLStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) Stats() map[string]interface{} {
	return map[string]interface{}{
		"driver":          "sql",
		"metrics":         s.metrics.GetStats(),
		"error_rate":      s.metrics.ErrorRate(),
		"circuit_breaker": s.breaker.GetStats(),
	}
}

// Close stops all subscriptions. The database handle belongs to the caller.
func (s *SQLStore) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

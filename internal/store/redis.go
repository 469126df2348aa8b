package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const maxTxRetries = 5

// RedisStore keeps each collection in one hash (field = record key, value = JSON) and
// publishes the collection path on a channel after every write.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
	keys      *KeyGenerator
	breaker   *CircuitBreaker
	metrics   *Metrics
	loads     singleflight.Group
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type RedisStoreConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
	OpTimeout    time.Duration
	Breaker      *CircuitBreakerConfig
	Logger       *log.Logger
}

func DefaultRedisStoreConfig() *RedisStoreConfig {
	return &RedisStoreConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "rtdb:",
		OpTimeout:    3 * time.Second,
	}
}

func NewRedisStore(config *RedisStoreConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisStoreConfig()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	keys, err := NewKeyGenerator()
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to create key generator: %w", err)
	}

	opTimeout := config.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisStore{
		client:    rdb,
		prefix:    config.KeyPrefix,
		opTimeout: opTimeout,
		keys:      keys,
		breaker:   NewCircuitBreaker(config.Breaker),
		metrics:   NewMetrics(),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func (r *RedisStore) dataKey(path string) string {
	return r.prefix + path
}

func (r *RedisStore) channel(path string) string {
	return r.prefix + "changes:" + path
}

func (r *RedisStore) Push(ctx context.Context, path string, record Record) (string, error) {
	if err := collectionPath(path); err != nil {
		return "", err
	}

	data, err := json.Marshal(compact(record))
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	key := r.keys.Next()
	err = r.write(ctx, func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.dataKey(path), key, data)
			pipe.Publish(ctx, r.channel(path), path)
			return nil
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to push to %s: %w", path, err)
	}
	return key, nil
}

func (r *RedisStore) Update(ctx context.Context, path string, fields Record) error {
	collection, key, err := splitRecordPath(path)
	if err != nil {
		return err
	}

	hash := r.dataKey(collection)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, hash, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		record := Record{}
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		merge(record, fields)

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hash, key, data)
			pipe.Publish(ctx, r.channel(collection), collection)
			return nil
		})
		return err
	}

	notFound := false
	err = r.write(ctx, func(ctx context.Context) error {
		for i := 0; i < maxTxRetries; i++ {
			err := r.client.Watch(ctx, txf, hash)
			if errors.Is(err, redis.TxFailedErr) {
				continue
			}
			if errors.Is(err, ErrNotFound) {
				notFound = true
				return nil
			}
			return err
		}
		return redis.TxFailedErr
	})
	if notFound {
		return fmt.Errorf("failed to update %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, path string) error {
	collection, key, err := splitRecordPath(path)
	if err != nil {
		return err
	}

	err = r.write(ctx, func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, r.dataKey(collection), key)
			pipe.Publish(ctx, r.channel(collection), collection)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

func (r *RedisStore) write(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	r.metrics.RecordWrite()
	err := r.breaker.Execute(func() error { return fn(ctx) })
	if err != nil {
		r.metrics.RecordError()
	}
	return err
}

func (r *RedisStore) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := collectionPath(path); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	r.metrics.RecordRead()
	fields, err := r.client.HGetAll(ctx, r.dataKey(path)).Result()
	if err != nil {
		r.metrics.RecordError()
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	snapshot := make(Snapshot, len(fields))
	for key, raw := range fields {
		record := Record{}
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			r.logger.Printf("[store] skipping unreadable record %s/%s: %v", path, key, err)
			continue
		}
		snapshot[key] = record
	}
	return snapshot, nil
}

// Subscribe listens on the collection's change channel. The initial snapshot is read only
// after the subscription is confirmed so no change between the two is missed. Snapshots
// are shared between subscribers of the same path and must not be modified.
func (r *RedisStore) Subscribe(path string, onSnapshot SnapshotFunc, onError ErrorFunc) Unsubscribe {
	ctx, cancel := context.WithCancel(r.ctx)
	sub := newSubscription(path, onSnapshot, onError, r.metrics, cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer sub.unsubscribe()

		if err := collectionPath(path); err != nil {
			sub.fail(err)
			return
		}

		pubsub := r.client.Subscribe(ctx, r.channel(path))
		defer pubsub.Close()

		if _, err := pubsub.Receive(ctx); err != nil {
			sub.fail(fmt.Errorf("failed to subscribe to %s: %w", path, err))
			return
		}

		changes := make(chan struct{}, 1)
		messages := pubsub.Channel()
		go func() {
			defer close(changes)
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-messages:
					if !ok {
						return
					}
					notify(changes)
				}
			}
		}()

		sub.run(ctx, changes, func(changed bool) (Snapshot, error) {
			return sharedLoad(&r.loads, path, changed, func() (Snapshot, error) {
				return r.Get(r.ctx, path)
			})
		})
	}()

	return sub.unsubscribe
}

func (r *RedisStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Stats() map[string]interface{} {
	poolStats := r.client.PoolStats()

	return map[string]interface{}{
		"driver":          "redis",
		"metrics":         r.metrics.GetStats(),
		"error_rate":      r.metrics.ErrorRate(),
		"circuit_breaker": r.breaker.GetStats(),
		"pool_hits":       poolStats.Hits,
		"pool_misses":     poolStats.Misses,
		"pool_timeouts":   poolStats.Timeouts,
		"pool_total":      poolStats.TotalConns,
		"pool_idle":       poolStats.IdleConns,
	}
}

// Client exposes the underlying connection for components sharing it, such as the job queue.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func (r *RedisStore) Close() error {
	r.cancel()
	r.wg.Wait()
	return r.client.Close()
}

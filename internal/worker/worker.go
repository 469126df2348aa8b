package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

type JobType string

const (
	JobTypeCleanupTokens JobType = "cleanup_tokens"
)

const (
	QueueDefault     = "default"
	QueueMaintenance = "maintenance"
)

type Job struct {
	ID        string                 `json:"id"`
	Type      JobType                `json:"type"`
	Queue     string                 `json:"queue"`
	Payload   map[string]interface{} `json:"payload"`
	Attempts  int                    `json:"attempts"`
	MaxTries  int                    `json:"max_tries"`
	CreatedAt time.Time              `json:"created_at"`
	ProcessAt time.Time              `json:"process_at"`
}

type JobHandler func(ctx context.Context, job *Job) error

// Worker pops jobs from Redis lists and runs the handler registered for their type.
// Jobs scheduled for later wait in a sorted set until they are due.
type Worker struct {
	client       *redis.Client
	handlers     map[JobType]JobHandler
	queues       []string
	prefix       string
	pollInterval time.Duration
	retryBase    time.Duration
	jobTimeout   time.Duration
	now          func() time.Time
	logger       *log.Logger
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

type WorkerConfig struct {
	RedisClient  *redis.Client
	Concurrency  int
	PollInterval time.Duration
	RetryBase    time.Duration
	JobTimeout   time.Duration
	Queues       []string
	KeyPrefix    string
	Logger       *log.Logger
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:  1,
		PollInterval: 5 * time.Second,
		RetryBase:    time.Minute,
		JobTimeout:   30 * time.Second,
		Queues:       []string{QueueDefault, QueueMaintenance},
		KeyPrefix:    "jobs:",
	}
}

func NewWorker(config WorkerConfig) *Worker {
	defaults := DefaultWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.RetryBase <= 0 {
		config.RetryBase = defaults.RetryBase
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if len(config.Queues) == 0 {
		config.Queues = defaults.Queues
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		client:       config.RedisClient,
		handlers:     make(map[JobType]JobHandler),
		queues:       config.Queues,
		prefix:       config.KeyPrefix,
		pollInterval: config.PollInterval,
		retryBase:    config.RetryBase,
		jobTimeout:   config.JobTimeout,
		now:          time.Now,
		logger:       config.Logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func queueKey(prefix, queue string) string {
	return prefix + "queue:" + queue
}

func delayedKey(prefix string) string {
	return prefix + "delayed"
}

func deadKey(prefix string) string {
	return prefix + "dead"
}

func (w *Worker) RegisterHandler(jobType JobType, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

func (w *Worker) Start(concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	w.logger.Printf("[worker] starting %d goroutines on queues %v", concurrency, w.queues)

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop()
	}
}

func (w *Worker) Stop() {
	w.logger.Println("[worker] stopping")
	w.cancel()
	w.wg.Wait()
	w.logger.Println("[worker] stopped")
}

func (w *Worker) workerLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			if err := w.processNext(w.ctx); err != nil {
				if w.ctx.Err() != nil {
					return
				}
				w.logger.Printf("[worker] error processing job: %v", err)
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
		}
	}
}

// processNext promotes due delayed jobs and then runs at most one job.
func (w *Worker) processNext(ctx context.Context) error {
	if _, err := w.promoteDue(ctx); err != nil {
		return err
	}

	keys := make([]string, len(w.queues))
	for i, q := range w.queues {
		keys[i] = queueKey(w.prefix, q)
	}

	result, err := w.client.BLPop(ctx, w.pollInterval, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to pop job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return w.executeJob(ctx, &job)
}

// promoteDue moves delayed jobs whose time has come onto their queues.
func (w *Worker) promoteDue(ctx context.Context) (int, error) {
	members, err := w.client.ZRangeByScore(ctx, delayedKey(w.prefix), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(w.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	promoted := 0
	for _, member := range members {
		removed, err := w.client.ZRem(ctx, delayedKey(w.prefix), member).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to claim delayed job: %w", err)
		}
		if removed == 0 {
			// another worker claimed it
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			w.logger.Printf("[worker] dropping unreadable delayed job: %v", err)
			continue
		}
		if err := w.client.RPush(ctx, queueKey(w.prefix, job.Queue), member).Err(); err != nil {
			return promoted, fmt.Errorf("failed to promote job %s: %w", job.ID, err)
		}
		promoted++
	}
	return promoted, nil
}

func (w *Worker) executeJob(ctx context.Context, job *Job) error {
	w.mu.RLock()
	handler, exists := w.handlers[job.Type]
	w.mu.RUnlock()

	if !exists {
		return w.moveToDeadQueue(ctx, job, fmt.Errorf("no handler registered for job type: %s", job.Type))
	}

	w.logger.Printf("[worker] processing job %s of type %s", job.ID, job.Type)

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	err := handler(jobCtx, job)
	if err != nil {
		job.Attempts++
		if job.Attempts < job.MaxTries {
			w.logger.Printf("[worker] job %s failed (attempt %d/%d), retrying: %v",
				job.ID, job.Attempts, job.MaxTries, err)
			return w.retryJob(ctx, job)
		}

		w.logger.Printf("[worker] job %s failed permanently after %d attempts: %v",
			job.ID, job.Attempts, err)
		return w.moveToDeadQueue(ctx, job, err)
	}

	w.logger.Printf("[worker] job %s completed", job.ID)
	return nil
}

func (w *Worker) retryJob(ctx context.Context, job *Job) error {
	delay := time.Duration(1<<job.Attempts) * w.retryBase
	job.ProcessAt = w.now().Add(delay)

	return schedule(ctx, w.client, w.prefix, job, w.now())
}

func (w *Worker) moveToDeadQueue(ctx context.Context, job *Job, jobErr error) error {
	deadJob := map[string]interface{}{
		"original_job": job,
		"error":        jobErr.Error(),
		"failed_at":    w.now(),
	}

	deadJobData, err := json.Marshal(deadJob)
	if err != nil {
		return fmt.Errorf("failed to marshal dead job: %w", err)
	}

	return w.client.RPush(ctx, deadKey(w.prefix), deadJobData).Err()
}

// schedule puts a job on its queue, or into the delayed set when it is not yet due.
func schedule(ctx context.Context, client *redis.Client, prefix string, job *Job, now time.Time) error {
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if job.ProcessAt.After(now) {
		return client.ZAdd(ctx, delayedKey(prefix), redis.Z{
			Score:  float64(job.ProcessAt.UnixMilli()),
			Member: jobData,
		}).Err()
	}
	return client.RPush(ctx, queueKey(prefix, job.Queue), jobData).Err()
}

type JobQueue struct {
	client *redis.Client
	prefix string
	logger *log.Logger
}

func NewJobQueue(client *redis.Client, keyPrefix string, logger *log.Logger) *JobQueue {
	if keyPrefix == "" {
		keyPrefix = DefaultWorkerConfig().KeyPrefix
	}
	if logger == nil {
		logger = log.Default()
	}
	return &JobQueue{client: client, prefix: keyPrefix, logger: logger}
}

func (q *JobQueue) Enqueue(ctx context.Context, queue string, jobType JobType, payload map[string]interface{}) (*Job, error) {
	return q.EnqueueAt(ctx, queue, jobType, payload, time.Now())
}

func (q *JobQueue) EnqueueAt(ctx context.Context, queue string, jobType JobType, payload map[string]interface{}, processAt time.Time) (*Job, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job id: %w", err)
	}

	job := &Job{
		ID:        id.String(),
		Type:      jobType,
		Queue:     queue,
		Payload:   payload,
		Attempts:  0,
		MaxTries:  3,
		CreatedAt: time.Now(),
		ProcessAt: processAt,
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := schedule(ctx, q.client, q.prefix, job, time.Now()); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *JobQueue) GetQueueSize(ctx context.Context, queue string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return q.client.LLen(ctx, queueKey(q.prefix, queue)).Result()
}

func (q *JobQueue) GetDelayedSize(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return q.client.ZCard(ctx, delayedKey(q.prefix)).Result()
}

func (q *JobQueue) GetDeadSize(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return q.client.LLen(ctx, deadKey(q.prefix)).Result()
}

// Every enqueues a job immediately and then once per interval until ctx is done.
func (q *JobQueue) Every(ctx context.Context, interval time.Duration, queue string, jobType JobType) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := q.Enqueue(ctx, queue, jobType, nil); err != nil && ctx.Err() == nil {
			q.logger.Printf("[worker] failed to schedule %s: %v", jobType, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"TeeRelay/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a list-backed work queue with a sorted-set retry schedule and a
// dead-letter list:
//
//	<prefix>:messages  LPUSH / BRPOP
//	<prefix>:retry     ZADD score=due unix ms
//	<prefix>:dlq       LPUSH after RetryLimit
type RedisQueue struct {
	log       *logger.Logger
	config    QueueConfig
	client    redis.UniversalClient
	keyPrefix string

	mu   sync.RWMutex
	jobs map[string]Job
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

func NewRedisQueue(lgr *logger.Logger, config QueueConfig, client redis.UniversalClient, opts ...RedisQueueOption) *RedisQueue {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	rq := &RedisQueue{
		log:       lgr.With(logger.String("component", "redis_queue")),
		config:    config,
		client:    client,
		keyPrefix: "teerelay:queue",
		jobs:      make(map[string]Job),
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.log.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
}

// PublishMessage implements Publisher.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.key("messages"), data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled. In-flight handlers finish before it returns.
func (r *RedisQueue) Run(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < r.config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for ctx.Err() == nil {
				r.next(ctx)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.promoteDue(ctx)
			}
		}
	}()

	r.log.Info("redis queue started", logger.Int("workers", r.config.Workers), logger.String("prefix", r.keyPrefix))
	<-ctx.Done()
	wg.Wait()
	r.log.Info("redis queue stopped")
	return nil
}

func (r *RedisQueue) next(ctx context.Context) {
	res, err := r.client.BRPop(ctx, time.Second, r.key("messages")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return
		}
		r.log.Error("brpop failed", logger.Error(err))
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return
	}
	if len(res) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		r.log.Error("drop undecodable message", logger.Error(err))
		return
	}
	r.process(ctx, msg)
}

func (r *RedisQueue) process(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Error("no job for message type", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.park(msg)
		return
	}

	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// shutting down: put it back for the next process
		r.schedule(msg, time.Now())
		return
	}

	msg.Attempts++
	msg.LastError = err.Error()
	if msg.Attempts > r.config.RetryLimit {
		r.log.Error("job exhausted retries",
			logger.String("job", job.Name()),
			logger.String("id", msg.ID),
			logger.Int("attempts", msg.Attempts),
			logger.Error(err),
		)
		r.park(msg)
		return
	}
	due := time.Now().Add(retryDelay(r.config.RetryDelay, msg.Attempts))
	r.log.Warn("job failed, retry scheduled",
		logger.String("job", job.Name()),
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", due.UTC().Format(time.RFC3339)),
		logger.Error(err),
	)
	r.schedule(msg, due)
}

func (r *RedisQueue) schedule(msg Message, due time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal retry", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.ZAdd(ctx, r.key("retry"), redis.Z{Score: float64(due.UnixMilli()), Member: data}).Err(); err != nil {
		r.log.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) park(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.LPush(ctx, r.key("dlq"), data).Err(); err != nil {
		r.log.Error("lpush dlq", logger.Error(err))
	}
}

// promoteDue moves retries whose time has come back onto the work list. ZREM decides the
// winner when several relays poll the same schedule.
func (r *RedisQueue) promoteDue(ctx context.Context) {
	due, err := r.client.ZRangeByScore(ctx, r.key("retry"), &redis.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("fetch due retries", logger.Error(err))
		}
		return
	}
	for _, member := range due {
		removed, err := r.client.ZRem(ctx, r.key("retry"), member).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := r.client.LPush(ctx, r.key("messages"), member).Err(); err != nil {
			r.log.Error("requeue retry", logger.Error(err))
		}
	}
}

func (r *RedisQueue) key(suffix string) string {
	return r.keyPrefix + ":" + suffix
}

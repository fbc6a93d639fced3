package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"TeeRelay/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer fans records from one reader per topic into a worker pool. Handling is
// serialized per (topic, partition) so per-key ordering from the producer survives.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	handlers map[string]MessageHandler
	hook     ConsumerHook
	dlq      *kafka.Writer

	mu        sync.Mutex
	partLocks map[string]*sync.Mutex
}

type delivery struct {
	topic  string
	reader *kafka.Reader
	msg    kafka.Message
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "teerelay",
		WorkerCount: 2,
		BufferSize:  64,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: brokers are required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	c := &Consumer{
		cfg:       cfg,
		log:       log.With(logger.String("component", "kafka_consumer")),
		handlers:  make(map[string]MessageHandler),
		hook:      NoopHook{},
		partLocks: make(map[string]*sync.Mutex),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.Hash{}}
	}
	initConsumerMetrics()
	return c, nil
}

// RegisterHandler must be called before Run. A second handler for the same topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.log.Warn("handler already registered", logger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// WithConsumerHook replaces the lifecycle hook.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Run blocks until ctx is cancelled or a reader fails permanently.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("kafka consumer: no handlers registered")
	}

	queue := make(chan delivery, c.cfg.BufferSize)
	readers := make([]*kafka.Reader, 0, len(c.handlers))
	for topic := range c.handlers {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		}))
	}
	defer func() {
		for _, r := range readers {
			if err := r.Close(); err != nil {
				c.log.Warn("close reader", logger.String("topic", r.Config().Topic), logger.Error(err))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
	}()

	fetchers, fctx := errgroup.WithContext(ctx)
	for _, r := range readers {
		r := r
		fetchers.Go(func() error { return c.fetch(fctx, r, queue) })
	}

	var workers sync.WaitGroup
	for i := 0; i < c.cfg.WorkerCount; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for d := range queue {
				c.process(ctx, d)
			}
		}()
	}
	c.log.Info("kafka consumer started",
		logger.Int("topics", len(readers)),
		logger.Int("workers", c.cfg.WorkerCount),
		logger.String("group", c.cfg.GroupID),
	)

	err := fetchers.Wait()
	close(queue)
	workers.Wait()
	c.log.Info("kafka consumer stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *Consumer) fetch(ctx context.Context, r *kafka.Reader, queue chan<- delivery) error {
	topic := r.Config().Topic
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("fetch failed", logger.String("topic", topic), logger.Error(err))
			select {
			case <-time.After(c.cfg.BackoffMax):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case queue <- delivery{topic: topic, reader: r, msg: msg}:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(queue)))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Consumer) process(ctx context.Context, d delivery) {
	handler := c.handlers[d.topic]
	start := time.Now()

	lock := c.partitionLock(d.topic, d.msg.Partition)
	lock.Lock()
	defer lock.Unlock()

	err := c.handleWithRetry(ctx, handler, d)
	result := "ok"
	if err != nil {
		result = "error"
		c.hook.OnError(ctx, d.topic, d.msg, d.msg.Value, err)
		c.log.Error("message handling failed",
			logger.String("topic", d.topic),
			logger.Int("partition", d.msg.Partition),
			logger.Int64("offset", d.msg.Offset),
			logger.Error(err),
		)
		if !c.deadLetter(ctx, d, err) {
			// left uncommitted; the group redelivers after restart
			consumerHandled.WithLabelValues(d.topic, result).Inc()
			return
		}
		result = "dlq"
	}

	if err := c.commit(ctx, d); err != nil {
		c.log.Warn("commit failed", logger.String("topic", d.topic), logger.Error(err))
	}
	consumerHandled.WithLabelValues(d.topic, result).Inc()
	consumerLatency.WithLabelValues(d.topic).Observe(time.Since(start).Seconds())
}

func (c *Consumer) handleWithRetry(ctx context.Context, handler MessageHandler, d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	for attempt := 1; ; attempt++ {
		hctx, hmsg, data, berr := c.hook.BeforeHandle(ctx, d.topic, d.msg, d.msg.Value)
		if berr != nil {
			return berr
		}
		err = handler.Handle(hctx, data)
		c.hook.AfterHandle(hctx, d.topic, hmsg, data, err)
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, d delivery, cause error) bool {
	if c.dlq == nil {
		return false
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(wctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   d.msg.Key,
		Value: d.msg.Value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(d.topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
	if err != nil {
		c.log.Error("dead-letter write failed", logger.String("dlq", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(ctx context.Context, d delivery) error {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err = d.reader.CommitMessages(cctx, d.msg)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	return err
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	key := fmt.Sprintf("%s/%d", topic, partition)
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.partLocks[key]
	if !ok {
		l = &sync.Mutex{}
		c.partLocks[key] = l
	}
	return l
}

// backoffWithJitter doubles from min per attempt, caps at max, and shaves up to half off.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt < 32 {
		if d := min << uint(attempt-1); d > 0 && d < max {
			exp = d
		}
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}

var (
	consumerOnce       sync.Once
	consumerQueueDepth *prometheus.GaugeVec
	consumerHandled    *prometheus.CounterVec
	consumerLatency    *prometheus.HistogramVec
)

func initConsumerMetrics() {
	consumerOnce.Do(func() {
		consumerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "teerelay",
			Subsystem: "kafka_consumer",
			Name:      "queue_depth",
			Help:      "Records fetched but not yet handled",
		}, []string{"topic"})
		consumerHandled = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teerelay",
			Subsystem: "kafka_consumer",
			Name:      "messages_total",
			Help:      "Records handled by result",
		}, []string{"topic", "result"})
		consumerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "teerelay",
			Subsystem: "kafka_consumer",
			Name:      "handle_seconds",
			Help:      "Handling time per record including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"})
	})
}

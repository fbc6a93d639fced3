package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"TeeRelay/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

var ErrNoTopic = errors.New("kafka: no topic")

// Message is one keyed record for PublishBatch.
type Message struct {
	Key     []byte
	Value   interface{}
	Headers map[string]string
}

// Producer publishes relay events and collected log batches. Records are hashed by key so
// every event for one transaction digest lands on the same partition.
type Producer struct {
	writer *kafka.Writer
	cfg    *ProducerConfig
	log    *logger.Logger
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "snappy",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchSize:    100,
		BatchTimeout: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: brokers are required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}

	initProducerMetrics()
	return &Producer{writer: writer, cfg: cfg, log: log.With(logger.String("component", "kafka_producer"))}, nil
}

// Publish writes one record. An empty topic falls back to the configured default.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishMessage satisfies logger.Publisher so the error collector can ship batches here.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload)
}

func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	if topic == "" {
		topic = p.cfg.Topic
	}
	if topic == "" {
		return ErrNoTopic
	}

	start := time.Now()
	now := start.UTC()
	records := make([]kafka.Message, 0, len(messages))
	var size int
	for _, m := range messages {
		v, err := encodeValue(m.Value)
		if err != nil {
			return err
		}
		rec := kafka.Message{Topic: topic, Key: m.Key, Value: v, Time: now}
		for k, hv := range m.Headers {
			rec.Headers = append(rec.Headers, kafka.Header{Key: k, Value: []byte(hv)})
		}
		records = append(records, rec)
		size += len(v)
	}

	err := p.writer.WriteMessages(ctx, records...)
	observeProducer(topic, len(records), size, time.Since(start), err)
	if err != nil {
		p.log.Warn("kafka publish failed",
			logger.String("topic", topic),
			logger.Int("count", len(records)),
			logger.Error(err),
		)
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal kafka value: %w", err)
		}
		return b, nil
	}
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	default:
		return kafka.Snappy
	}
}

var (
	producerOnce     sync.Once
	producerMessages *prometheus.CounterVec
	producerBytes    *prometheus.CounterVec
	producerLatency  *prometheus.HistogramVec
)

func initProducerMetrics() {
	producerOnce.Do(func() {
		producerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teerelay",
			Subsystem: "kafka_producer",
			Name:      "messages_total",
			Help:      "Records written to Kafka by result",
		}, []string{"topic", "result"})
		producerBytes = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teerelay",
			Subsystem: "kafka_producer",
			Name:      "bytes_total",
			Help:      "Payload bytes written to Kafka",
		}, []string{"topic"})
		producerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "teerelay",
			Subsystem: "kafka_producer",
			Name:      "publish_seconds",
			Help:      "WriteMessages latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"})
	})
}

func observeProducer(topic string, count, size int, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMessages.WithLabelValues(topic, result).Add(float64(count))
	producerBytes.WithLabelValues(topic).Add(float64(size))
	producerLatency.WithLabelValues(topic).Observe(dur.Seconds())
}

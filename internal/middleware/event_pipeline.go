package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TeeRelay/internal/domain/models"
	domrepo "TeeRelay/internal/domain/repository"
	"TeeRelay/pkg/logger"
)

// BatchSink is the downstream of the pipeline (Kafka, or ClickHouse directly).
type BatchSink interface {
	PublishEvents(ctx context.Context, evs []*models.RelayEvent) error
}

// Listener receives every accepted event as it is enqueued, e.g. the WebSocket feed.
type Listener interface {
	Broadcast(ev *models.RelayEvent)
}

// EventPipeline sits between the relay services and the audit stream. PublishEvent never
// blocks a request: events are validated, handed to listeners and buffered; a background
// loop flushes them in batches and retries with backoff while the sink is down.
type EventPipeline struct {
	sink      BatchSink
	listeners []Listener
	metrics   domrepo.Metrics
	log       *logger.Logger

	bufSize   int
	batchSize int
	batchTO   time.Duration
	bufCh     chan *models.RelayEvent

	mu      sync.Mutex
	started bool
}

type PipelineOption func(*EventPipeline)

// WithBufferSize sets how many events may wait for the sink.
func WithBufferSize(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithBatching sets the flush size and the longest an event waits for a full batch.
func WithBatching(size int, timeout time.Duration) PipelineOption {
	return func(p *EventPipeline) {
		if size > 0 {
			p.batchSize = size
		}
		if timeout > 0 {
			p.batchTO = timeout
		}
	}
}

func WithListener(l Listener) PipelineOption {
	return func(p *EventPipeline) {
		if l != nil {
			p.listeners = append(p.listeners, l)
		}
	}
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *EventPipeline) { p.log = l }
}

func NewEventPipeline(sink BatchSink, metrics domrepo.Metrics, opts ...PipelineOption) *EventPipeline {
	p := &EventPipeline{
		sink:      sink,
		metrics:   metrics,
		log:       logger.Nop(),
		bufSize:   1000,
		batchSize: 100,
		batchTO:   200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.RelayEvent, p.bufSize)
	return p
}

// PublishEvent implements repository.EventPublisher.
func (p *EventPipeline) PublishEvent(_ context.Context, ev *models.RelayEvent) error {
	if err := validateEvent(ev); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	for _, l := range p.listeners {
		l.Broadcast(ev)
	}
	if p.sink == nil {
		return nil
	}
	select {
	case p.bufCh <- ev:
		return nil
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return fmt.Errorf("event pipeline buffer full, dropped %s", ev.ID)
	}
}

// Run flushes until ctx is done, then drains what is buffered with a short deadline.
func (p *EventPipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("event pipeline already running")
	}
	p.started = true
	p.mu.Unlock()

	if p.sink == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(p.batchTO)
	defer ticker.Stop()
	batch := make([]*models.RelayEvent, 0, p.batchSize)

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-p.bufCh:
					batch = append(batch, ev)
					continue
				default:
				}
				break
			}
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.flush(drainCtx, batch, false)
			cancel()
			return nil
		case ev := <-p.bufCh:
			batch = append(batch, ev)
			if len(batch) >= p.batchSize {
				batch = p.flush(ctx, batch, true)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				batch = p.flush(ctx, batch, true)
			}
		}
	}
}

// Depth is the number of events waiting for the sink.
func (p *EventPipeline) Depth() int {
	return len(p.bufCh)
}

// flush sends batch and returns the emptied slice for reuse. With retry set it keeps
// trying with exponential backoff until the sink accepts or ctx ends.
func (p *EventPipeline) flush(ctx context.Context, batch []*models.RelayEvent, retry bool) []*models.RelayEvent {
	if len(batch) == 0 {
		return batch
	}
	start := time.Now()
	backoff := 50 * time.Millisecond
	for {
		err := p.sink.PublishEvents(ctx, batch)
		if err == nil {
			p.metrics.RecordLatency("pipeline_flush", time.Since(start).Seconds())
			return batch[:0]
		}
		p.metrics.RecordError("pipeline_flush")
		p.log.Warn("event flush failed", logger.Int("events", len(batch)), logger.Error(err))
		if !retry {
			p.metrics.RecordError("pipeline_drop")
			return batch[:0]
		}
		select {
		case <-ctx.Done():
			p.metrics.RecordError("pipeline_drop")
			return batch[:0]
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
}

func validateEvent(ev *models.RelayEvent) error {
	if ev == nil {
		return fmt.Errorf("event nil")
	}
	if ev.ID == "" {
		return fmt.Errorf("event id empty")
	}
	if ev.Type == "" {
		return fmt.Errorf("event type empty")
	}
	if ev.OccurredAt.IsZero() {
		return fmt.Errorf("event time missing")
	}
	return nil
}

// StorageSink writes batches straight into audit storage when Kafka is disabled.
type StorageSink struct {
	Storage domrepo.AuditStorage
}

func (s StorageSink) PublishEvents(ctx context.Context, evs []*models.RelayEvent) error {
	return s.Storage.StoreEvents(ctx, evs)
}

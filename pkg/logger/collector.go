package logger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // distinct entries before an early flush
	Topic          string
	Publisher      Publisher
	PublishTimeout time.Duration
}

// AggregatedLogEntry counts repeats of one (level, message, fields, caller) tuple.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector de-duplicates error logs and publishes them in batches so a failing dependency
// does not flood the error topic.
type LogCollector struct {
	cfg     *CollectionConfig
	mu      sync.Mutex
	entries map[string]*AggregatedLogEntry
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = 30 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}

	c := &LogCollector{
		cfg:     cfg,
		entries: make(map[string]*AggregatedLogEntry),
		stop:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := entryKey(level, message, fields, caller)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level: level, Message: message, Fields: fields, Caller: caller,
			Count: 1, FirstSeen: now, LastSeen: now,
		}
	}
	var batch []AggregatedLogEntry
	if len(c.entries) >= c.cfg.CountThreshold {
		batch = c.drainLocked()
	}
	c.mu.Unlock()

	if batch != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.publish(batch)
		}()
	}
}

func entryKey(level, message string, fields map[string]interface{}, caller string) string {
	b, _ := json.Marshal([]interface{}{level, message, fields, caller})
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

func (c *LogCollector) drainLocked() []AggregatedLogEntry {
	if len(c.entries) == 0 {
		return nil
	}
	out := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.entries = make(map[string]*AggregatedLogEntry)
	return out
}

// Flush publishes whatever is pending, synchronously.
func (c *LogCollector) Flush() {
	c.mu.Lock()
	batch := c.drainLocked()
	c.mu.Unlock()
	if batch != nil {
		c.publish(batch)
	}
}

func (c *LogCollector) publish(batch []AggregatedLogEntry) {
	if c.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
	defer cancel()
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
		// the logger itself is the thing failing here; stderr is the only sink left
		fmt.Fprintf(os.Stderr, "log collector: publish %d entries: %v\n", len(batch), err)
	}
}

func (c *LogCollector) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-c.stop:
			c.Flush()
			return
		}
	}
}

func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}

package logger

import (
	"context"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorAggregatesRepeats(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "relay.errors", Publisher: pub})

	for i := 0; i < 5; i++ {
		c.AddLog("error", "ledger unreachable", map[string]interface{}{"op": "execute"}, "ledger.go:10")
	}
	c.AddLog("error", "sponsor denied", nil, "sponsor.go:20")
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.topic != "relay.errors" {
		t.Fatalf("topic = %q", pub.topic)
	}
	if len(pub.batches) != 1 || len(pub.batches[0]) != 2 {
		t.Fatalf("expected one batch of two entries, got %+v", pub.batches)
	}
	for _, e := range pub.batches[0] {
		if e.Message == "ledger unreachable" && e.Count != 5 {
			t.Fatalf("count = %d, want 5", e.Count)
		}
	}
}

func TestLoggerErrorFeedsCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "t", Publisher: pub})
	l.With(String("component", "submitter")).Error("submit failed", String("digest", "abc"))
	l.Info("ignored")
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 || pub.batches[0][0].Fields["digest"] != "abc" {
		t.Fatalf("unexpected batches %+v", pub.batches)
	}
}

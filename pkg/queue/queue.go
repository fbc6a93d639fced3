package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher enqueues a typed payload for some registered Job.
type Publisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers      int
	RetryLimit   int
	RetryDelay   time.Duration // doubled per attempt
	PollInterval time.Duration // how often due retries are moved back
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
	LastError string          `json:"last_error,omitempty"`
}

// retryDelay is base * 2^(attempts-1), capped at one hour.
func retryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

// ParsePayload decodes a job payload into T. Handlers receive json.RawMessage from Redis
// and typed values when called directly.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case []byte:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case map[string]interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload map: %w", err)
		}
		if err := json.Unmarshal(b, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
	ErrNotNumber = errors.New("cache: value is not an integer")
)

// Service defines cache operations interface.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	// Increment adds one to the counter at key. A new counter gets the expiration; an existing
	// one keeps its own.
	Increment(ctx context.Context, key string, expiration time.Duration) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
	// TryLock sets key only if it is absent. It is the single atomic check-and-mark primitive.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}

// GetTyped reads key into a fresh T.
func GetTyped[T any](ctx context.Context, c Service, key string) (T, error) {
	var out T
	err := c.Get(ctx, key, &out)
	return out, err
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

func decode(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	default:
		return json.Unmarshal(data, dest)
	}
}

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRedisDialTimeoutKeepsDefaultWhenUnset(t *testing.T) {
	cfg := &RedisConfig{DialTimeout: 5 * time.Second}
	WithRedisDialTimeout(0)(cfg)
	require.Equal(t, 5*time.Second, cfg.DialTimeout)

	WithRedisDialTimeout(750 * time.Millisecond)(cfg)
	require.Equal(t, 750*time.Millisecond, cfg.DialTimeout)
}

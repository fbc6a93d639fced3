package cache

import "time"

// RedisOption configures Redis cache.
type RedisOption func(*RedisConfig)

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	DialTimeout  time.Duration
	Prefix       string
}

// WithRedisAddr sets the host:port address.
func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) {
		c.Addr = addr
	}
}

// WithRedisPassword sets Redis password.
func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
	}
}

// WithRedisDB sets Redis database number.
func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) {
		c.DB = db
	}
}

// WithRedisPool sets connection pool settings.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.MinIdleConns = minIdleConns
		c.PoolTimeout = timeout
	}
}

func WithRedisDialTimeout(d time.Duration) RedisOption {
	return func(c *RedisConfig) {
		if d > 0 {
			c.DialTimeout = d
		}
	}
}

// WithRedisPrefix sets key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		c.Prefix = prefix
	}
}

// MemoryOption configures Memory cache.
type MemoryOption func(*MemoryConfig)

// MemoryConfig holds memory cache configuration.
type MemoryConfig struct {
	MaxSize int
	MaxTTL  time.Duration
	Clock   func() time.Time
}

// WithMemoryMaxSize sets max cache size.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) {
		c.MaxSize = size
	}
}

// WithMemoryMaxTTL caps how long any entry lives regardless of its own expiration.
func WithMemoryMaxTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		c.MaxTTL = ttl
	}
}

// WithMemoryClock overrides time.Now, for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *MemoryConfig) {
		c.Clock = now
	}
}

// LayeredOption configures Layered cache.
type LayeredOption func(*LayeredConfig)

// LayeredConfig holds layered cache configuration.
type LayeredConfig struct {
	MemoryMaxSize int
	MemoryTTL     time.Duration
}

// WithLayeredMemorySize sets L1 cache size.
func WithLayeredMemorySize(size int) LayeredOption {
	return func(c *LayeredConfig) {
		c.MemoryMaxSize = size
	}
}

// WithLayeredMemoryTTL bounds how long L1 may serve a value without asking L2.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(c *LayeredConfig) {
		c.MemoryTTL = ttl
	}
}

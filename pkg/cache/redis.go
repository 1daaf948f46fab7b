package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisOption configures NewRedisCache.
type RedisOption func(*redis.Options, *redisSettings)

type redisSettings struct {
	prefix      string
	dialRetries uint64
}

// WithRedisAddr sets host and port.
func WithRedisAddr(host string, port int) RedisOption {
	return func(o *redis.Options, _ *redisSettings) {
		o.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}
}

// WithRedisAuth sets the password and logical database.
func WithRedisAuth(password string, db int) RedisOption {
	return func(o *redis.Options, _ *redisSettings) {
		o.Password = password
		o.DB = db
	}
}

// WithRedisPool sizes the connection pool. Half of it is kept idle.
func WithRedisPool(size int, timeout time.Duration) RedisOption {
	return func(o *redis.Options, _ *redisSettings) {
		o.PoolSize = size
		o.MinIdleConns = size / 2
		o.PoolTimeout = timeout
	}
}

// WithRedisPrefix namespaces every key.
func WithRedisPrefix(prefix string) RedisOption {
	return func(_ *redis.Options, s *redisSettings) {
		s.prefix = prefix
	}
}

// WithRedisDialRetries sets how often the startup ping is retried.
func WithRedisDialRetries(n uint64) RedisOption {
	return func(_ *redis.Options, s *redisSettings) {
		s.dialRetries = n
	}
}

// RedisCache implements Service on Redis. Locks carry a per-process owner
// token so one process cannot release another's lock.
type RedisCache struct {
	client *redis.Client
	prefix string
	owner  string
}

// NewRedisCache connects and pings the server before returning.
func NewRedisCache(opts ...RedisOption) (*RedisCache, error) {
	ro := &redis.Options{Addr: "localhost:6379", PoolSize: 10, MinIdleConns: 5, PoolTimeout: 30 * time.Second}
	s := &redisSettings{prefix: "tradescout", dialRetries: 3}
	for _, opt := range opts {
		opt(ro, s)
	}

	client := redis.NewClient(ro)
	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.dialRetries)
	if err := backoff.Retry(ping, b); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", ro.Addr, err)
	}

	return &RedisCache{client: client, prefix: s.prefix, owner: uuid.NewString()}, nil
}

// Client exposes the connection for stores and queues sharing it.
func (c *RedisCache) Client() *redis.Client { return c.client }

// Prefix returns the key namespace.
func (c *RedisCache) Prefix() string { return c.prefix }

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return decode(data, dest)
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, c.key(k))
	}
	return c.client.Unlink(ctx, full...).Err()
}

func (c *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.key(key), c.owner, ttl).Result()
}

var releaseOwned = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Unlock is a no-op when the lock expired or belongs to someone else.
func (c *RedisCache) Unlock(ctx context.Context, key string) error {
	err := releaseOwned.Run(ctx, c.client, []string{c.key(key)}, c.owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (c *RedisCache) key(k string) string {
	return Key(c.prefix, k)
}

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryClient implementa Client sobre go-cache.
type memoryClient struct {
	prefix string
	c      *gocache.Cache
	incrMu sync.Mutex
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemory crea un cliente de cache en memoria. Las entradas expiradas se
// limpian cada minuto.
func NewMemory(prefix string) *memoryClient {
	return &memoryClient{
		prefix: prefix,
		c:      gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (c *memoryClient) Get(ctx context.Context, key string) (string, error) {
	v, ok := c.c.Get(prefixed(c.prefix, key))
	if !ok {
		c.misses.Add(1)
		return "", ErrNotFound
	}
	c.hits.Add(1)
	s, _ := v.(string)
	return s, nil
}

func (c *memoryClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	c.c.Set(prefixed(c.prefix, key), value, ttl)
	return nil
}

func (c *memoryClient) Delete(ctx context.Context, key string) error {
	c.c.Delete(prefixed(c.prefix, key))
	return nil
}

func (c *memoryClient) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := c.c.Get(prefixed(c.prefix, key))
	return ok, nil
}

func (c *memoryClient) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	c.incrMu.Lock()
	defer c.incrMu.Unlock()

	k := prefixed(c.prefix, key)
	if _, exp, ok := c.c.GetWithExpiration(k); ok {
		n, err := c.c.IncrementInt64(k, 1)
		if err != nil {
			return 0, 0, err
		}
		var left time.Duration
		if !exp.IsZero() {
			left = time.Until(exp)
		}
		return n, left, nil
	}

	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	c.c.Set(k, int64(1), ttl)
	if ttl == gocache.NoExpiration {
		return 1, 0, nil
	}
	return 1, ttl, nil
}

func (c *memoryClient) Ping(ctx context.Context) error { return nil }

func (c *memoryClient) Close() error {
	c.c.Flush()
	return nil
}

func (c *memoryClient) Stats(ctx context.Context) (Stats, error) {
	return Stats{
		Driver: "memory",
		Keys:   int64(c.c.ItemCount()),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}, nil
}

package store

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cached 为任意后端加一层短时读缓存，写入时同步更新缓存
type Cached struct {
	Store
	cache *ttlcache.Cache[string, []byte]
}

func NewCached(s Store, ttl time.Duration) *Cached {
	cache := ttlcache.New[string, []byte](
		ttlcache.WithTTL[string, []byte](ttl),
		ttlcache.WithDisableTouchOnHit[string, []byte]())
	go cache.Start()
	return &Cached{Store: s, cache: cache}
}

func (c *Cached) Get(ctx context.Context, key string) ([]byte, error) {
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	data, err := c.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, data, ttlcache.DefaultTTL)
	return data, nil
}

func (c *Cached) Put(ctx context.Context, key string, value []byte) error {
	if err := c.Store.Put(ctx, key, value); err != nil {
		c.cache.Delete(key)
		return err
	}
	c.cache.Set(key, append([]byte(nil), value...), ttlcache.DefaultTTL)
	return nil
}

func (c *Cached) Close() error {
	c.cache.Stop()
	return c.Store.Close()
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryCache хранит значения в памяти процесса. Используется, когда Redis не настроен.
type MemoryCache struct {
	items *ttlcache.Cache[string, []byte]

	mu   sync.Mutex
	tags map[string]map[string]struct{}
}

// NewMemoryCache создаёт пустой кэш в памяти.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: ttlcache.New[string, []byte](ttlcache.WithDisableTouchOnHit[string, []byte]()),
		tags:  make(map[string]map[string]struct{}),
	}
}

// Get читает значение по ключу. Просроченные значения не возвращаются.
func (c *MemoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	item := c.items.Get(key)
	if item == nil {
		return false, nil
	}

	if err := json.Unmarshal(item.Value(), dest); err != nil {
		return false, fmt.Errorf("decode cached value: %w", err)
	}
	return true, nil
}

// Set сохраняет значение и привязывает ключ к тегам.
func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached value: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Set(key, data, ttl)
	for _, tag := range tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}

	return nil
}

// Invalidate удаляет ключи, привязанные к тегам.
func (c *MemoryCache) Invalidate(_ context.Context, tags ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tag := range tags {
		for key := range c.tags[tag] {
			c.items.Delete(key)
		}
		delete(c.tags, tag)
	}
	c.items.DeleteExpired()

	return nil
}

// MemoryLocker выдаёт блокировки в пределах одного процесса.
type MemoryLocker struct {
	mu     sync.Mutex
	leases *ttlcache.Cache[string, uint64]
	token  atomic.Uint64
}

// NewMemoryLocker создаёт локальный менеджер блокировок.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: ttlcache.New[string, uint64](ttlcache.WithDisableTouchOnHit[string, uint64]()),
	}
}

// Obtain захватывает блокировку, если она свободна или истекла.
func (l *MemoryLocker) Obtain(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	token := l.token.Add(1)
	if _, held := l.leases.GetOrSet(key, token, ttlcache.WithTTL[string, uint64](ttl)); held {
		return nil, ErrNotObtained
	}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// Не снимаем блокировку, захваченную заново после истечения ttl.
		if cur := l.leases.Get(key); cur != nil && cur.Value() == token {
			l.leases.Delete(key)
		}
		return nil
	}, nil
}

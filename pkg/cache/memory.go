package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Entries set without a TTL live this long.
const defaultTTL = 7 * 24 * time.Hour

// MemoryOption configures NewMemoryCache.
type MemoryOption func(*MemoryCache)

// WithMemoryCapacity bounds the number of entries. The least recently used
// entry is evicted first.
func WithMemoryCapacity(n int) MemoryOption {
	return func(m *MemoryCache) { m.capacity = n }
}

// WithMemorySweep sets how often expired entries are purged.
func WithMemorySweep(every time.Duration) MemoryOption {
	return func(m *MemoryCache) { m.sweepEvery = every }
}

// WithMemoryClock replaces time.Now.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryCache) { m.now = now }
}

type entry struct {
	key      string
	data     []byte
	expireAt time.Time
}

// MemoryCache implements Service for a single process.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	lru        *list.List
	capacity   int
	sweepEvery time.Duration
	now        func() time.Time
	stop       chan struct{}
	once       sync.Once
}

// NewMemoryCache starts a cache with its sweeper goroutine. Call Close to
// stop it.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	m := &MemoryCache{
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		capacity:   1000,
		sweepEvery: 5 * time.Minute,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweep()
	return m
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.store(key, data, ttl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	e := m.live(key)
	var data []byte
	if e != nil {
		data = e.data
	}
	m.mu.Unlock()

	if e == nil {
		return ErrMiss
	}
	return decode(data, dest)
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if el, ok := m.items[k]; ok {
			m.drop(el)
		}
	}
	return nil
}

func (m *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(key) != nil {
		return false, nil
	}
	m.store(key, []byte("locked"), ttl)
	return true, nil
}

func (m *MemoryCache) Unlock(ctx context.Context, key string) error {
	return m.Delete(ctx, key)
}

// Len counts unexpired entries.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for el := m.lru.Front(); el != nil; el = el.Next() {
		if now.Before(el.Value.(*entry).expireAt) {
			n++
		}
	}
	return n
}

// Close stops the sweeper.
func (m *MemoryCache) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

// live returns the entry for key and marks it used, dropping it when
// expired. Caller holds mu.
func (m *MemoryCache) live(key string) *entry {
	el, ok := m.items[key]
	if !ok {
		return nil
	}
	e := el.Value.(*entry)
	if !m.now().Before(e.expireAt) {
		m.drop(el)
		return nil
	}
	m.lru.MoveToFront(el)
	return e
}

// Caller holds mu.
func (m *MemoryCache) store(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	expireAt := m.now().Add(ttl)
	if el, ok := m.items[key]; ok {
		e := el.Value.(*entry)
		e.data, e.expireAt = data, expireAt
		m.lru.MoveToFront(el)
		return
	}
	if m.capacity > 0 && m.lru.Len() >= m.capacity {
		m.drop(m.lru.Back())
	}
	m.items[key] = m.lru.PushFront(&entry{key: key, data: data, expireAt: expireAt})
}

func (m *MemoryCache) drop(el *list.Element) {
	m.lru.Remove(el)
	delete(m.items, el.Value.(*entry).key)
}

func (m *MemoryCache) sweep() {
	t := time.NewTicker(m.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.mu.Lock()
			now := m.now()
			for el := m.lru.Back(); el != nil; {
				prev := el.Prev()
				if !now.Before(el.Value.(*entry).expireAt) {
					m.drop(el)
				}
				el = prev
			}
			m.mu.Unlock()
		}
	}
}

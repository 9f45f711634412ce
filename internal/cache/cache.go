// Package cache provides a content-addressed, size-bounded store of embeddings.
//
// Entries are keyed by backend identity and normalized text. Concurrent misses
// for the same key are coalesced into a single provider call, and the least
// recently used entry is evicted once capacity is reached.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spigell/embedmatch/internal/embedding"
	"github.com/spigell/embedmatch/internal/utils"
)

const previewLength = 60

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Computed  int64 `json:"computed"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
}

// Cache is an in-memory LRU of vector records with singleflight miss filling.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	lru      *list.List

	group  singleflight.Group
	logger *zap.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	computed  atomic.Int64
	evictions atomic.Int64
}

type entry struct {
	key    string
	record *embedding.VectorRecord
}

// New creates a cache holding at most capacity records.
func New(capacity int, logger *zap.Logger) (*Cache, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: cache capacity must be at least 1, got %d", embedding.ErrBackendConfig, capacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
		logger:   logger,
	}, nil
}

// GetOrCompute returns the record for text under provider, calling the provider
// only when the key is not cached and no other caller is already computing it.
// The boolean result reports a cache hit.
//
// The provider call is detached from ctx: if ctx is cancelled the caller returns
// ctx.Err() right away while the computation finishes and fills the cache.
func (c *Cache) GetOrCompute(ctx context.Context, provider embedding.Provider, text string) (*embedding.VectorRecord, bool, error) {
	normalized, err := embedding.NormalizeNonEmpty(text)
	if err != nil {
		return nil, false, err
	}

	backendID := provider.ID()
	key := embedding.Key(backendID, normalized)

	if rec, ok := c.get(key); ok {
		c.hits.Add(1)
		return rec, true, nil
	}
	c.misses.Add(1)

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// A flight for the same key may have completed between get and DoChan.
		if rec, ok := c.peek(key); ok {
			return rec, nil
		}
		return c.compute(detached, provider, backendID, key, normalized)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*embedding.VectorRecord), false, nil
	}
}

// Lookup returns a cached record without computing it.
func (c *Cache) Lookup(backendID, text string) (*embedding.VectorRecord, bool) {
	normalized := embedding.Normalize(text)
	if normalized == "" {
		return nil, false
	}
	return c.get(embedding.Key(backendID, normalized))
}

func (c *Cache) compute(ctx context.Context, provider embedding.Provider, backendID, key, normalized string) (*embedding.VectorRecord, error) {
	c.computed.Add(1)
	c.logger.Debug("computing embedding",
		zap.String("backend_id", backendID),
		zap.String("text_preview", utils.TruncateForLog(normalized, previewLength)),
	)

	vector, err := provider.Embed(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if err := embedding.CheckDimensions(backendID, provider.Dimensions(), vector); err != nil {
		return nil, err
	}

	rec, err := embedding.NewVectorRecord(backendID, normalized, vector)
	if err != nil {
		return nil, err
	}

	c.put(key, rec)
	return rec, nil
}

// get returns the record and marks it as most recently used.
func (c *Cache) get(key string) (*embedding.VectorRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.lru.MoveToFront(el)
		return el.Value.(*entry).record, true
	}
	return nil, false
}

// peek returns the record without touching recency.
func (c *Cache) peek(key string) (*embedding.VectorRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		return el.Value.(*entry).record, true
	}
	return nil, false
}

func (c *Cache) put(key string, rec *embedding.VectorRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.lru.MoveToFront(el)
		return
	}

	c.items[key] = c.lru.PushFront(&entry{key: key, record: rec})

	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions.Add(1)
		c.logger.Debug("evicted embedding", zap.String("key", oldest.Value.(*entry).key))
	}
}

func (c *Cache) removeElement(el *list.Element) {
	c.lru.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops every cached record. In-flight computations still store their result.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Computed:  c.computed.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
		Capacity:  c.capacity,
	}
}

package storage

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Cache policies accepted by NewCachedEngine.
const (
	CacheNone = "none"
	CacheLRU  = "lru"
	Cache2Q   = "2q"
	CacheARC  = "arc"
)

// readCache is the part of the golang-lru caches CachedEngine uses.
type readCache struct {
	get    func(key interface{}) (interface{}, bool)
	add    func(key, value interface{})
	remove func(key interface{})
	purge  func()
}

func newReadCache(policy string, size int) (*readCache, error) {
	switch policy {
	case CacheLRU:
		c, err := lru.New(size)
		if err != nil {
			return nil, err
		}
		return &readCache{
			get:    c.Get,
			add:    func(k, v interface{}) { c.Add(k, v) },
			remove: func(k interface{}) { c.Remove(k) },
			purge:  c.Purge,
		}, nil
	case Cache2Q:
		c, err := lru.New2Q(size)
		if err != nil {
			return nil, err
		}
		return &readCache{get: c.Get, add: c.Add, remove: c.Remove, purge: c.Purge}, nil
	case CacheARC:
		c, err := lru.NewARC(size)
		if err != nil {
			return nil, err
		}
		return &readCache{get: c.Get, add: c.Add, remove: c.Remove, purge: c.Purge}, nil
	default:
		return nil, fmt.Errorf("unknown cache policy %q", policy)
	}
}

const cachedBatchSize = 1024

// CachedEngine wraps an Engine with a bounded read cache of present values.
type CachedEngine struct {
	Engine
	cache *readCache
	// mu orders cache fills against writes so a fill never re-caches a
	// value a concurrent write has replaced.
	mu sync.RWMutex
}

// NewCachedEngine wraps inner with a cache of the given policy and size.
func NewCachedEngine(inner Engine, policy string, size int) (*CachedEngine, error) {
	cache, err := newReadCache(policy, size)
	if err != nil {
		return nil, err
	}
	return &CachedEngine{Engine: inner, cache: cache}, nil
}

func (e *CachedEngine) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := e.cache.get(key); ok {
		return append([]byte(nil), v.([]byte)...), nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	value, err := e.Engine.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	e.cache.add(key, append([]byte(nil), value...))
	return value, nil
}

func (e *CachedEngine) Put(ctx context.Context, key string, value []byte) error {
	return e.Apply(ctx, Record{Key: key, Value: value})
}

func (e *CachedEngine) Delete(ctx context.Context, key string) error {
	return e.Apply(ctx, Record{Key: key, Tombstone: true})
}

func (e *CachedEngine) Apply(ctx context.Context, rec Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.remove(rec.Key)
	return e.Engine.Apply(ctx, rec)
}

func (e *CachedEngine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.purge()
	return e.Engine.Clear(ctx)
}

// BulkLoad takes the write lock one batch at a time so reads of other keys
// keep being served while a long stream is loaded.
func (e *CachedEngine) BulkLoad(ctx context.Context, r RecordReader) (int, error) {
	return bulkLoad(ctx, r, cachedBatchSize, func(batch []Record) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		for _, rec := range batch {
			e.cache.remove(rec.Key)
		}
		if _, err := e.Engine.BulkLoad(ctx, NewSliceReader(batch)); err != nil {
			return err
		}
		return nil
	})
}

// Purge removes records from the inner engine unlocked. Fills racing with
// it hold the read lock until they are cached, so the cache purge that
// follows drops them.
func (e *CachedEngine) Purge(ctx context.Context, pred KeyPredicate) (int, error) {
	n, err := e.Engine.Purge(ctx, pred)
	e.mu.Lock()
	e.cache.purge()
	e.mu.Unlock()
	return n, err
}

package storage

import (
	"context"
	"sort"
	"sync"
)

type memRecord struct {
	value     []byte
	tombstone bool
}

// MemoryEngine keeps every record in a map.
type MemoryEngine struct {
	mu   sync.RWMutex
	data map[string]memRecord
}

// NewMemoryEngine creates an empty engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{data: make(map[string]memRecord)}
}

func (e *MemoryEngine) Get(_ context.Context, key string) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.data[key]
	if !ok || rec.tombstone {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.value...), nil
}

func (e *MemoryEngine) Put(ctx context.Context, key string, value []byte) error {
	return e.Apply(ctx, Record{Key: key, Value: value})
}

func (e *MemoryEngine) Delete(ctx context.Context, key string) error {
	return e.Apply(ctx, Record{Key: key, Tombstone: true})
}

func (e *MemoryEngine) Apply(_ context.Context, rec Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(rec)
	return nil
}

func (e *MemoryEngine) applyLocked(rec Record) {
	if rec.Tombstone {
		e.data[rec.Key] = memRecord{tombstone: true}
		return
	}
	e.data[rec.Key] = memRecord{value: append([]byte(nil), rec.Value...)}
}

func (e *MemoryEngine) Clear(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data = make(map[string]memRecord)
	return nil
}

// Scan visits matching records in key order over a snapshot taken at call
// time, so fn may write to the engine.
func (e *MemoryEngine) Scan(ctx context.Context, pred KeyPredicate, fn func(Record) error) error {
	e.mu.RLock()
	records := make([]Record, 0)
	for key, rec := range e.data {
		if pred(key) {
			records = append(records, Record{Key: key, Value: rec.value, Tombstone: rec.tombstone})
		}
	}
	e.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (e *MemoryEngine) BulkLoad(ctx context.Context, r RecordReader) (int, error) {
	return bulkLoad(ctx, r, 1024, func(batch []Record) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		for _, rec := range batch {
			e.applyLocked(rec)
		}
		return nil
	})
}

func (e *MemoryEngine) Purge(_ context.Context, pred KeyPredicate) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for key := range e.data {
		if pred(key) {
			delete(e.data, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of records, tombstones included.
func (e *MemoryEngine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.data)
}

func (e *MemoryEngine) Close() error {
	return nil
}

// Package storage is the per-node key/value engine. Deletes are recorded as
// tombstones so they survive range transfers and replication.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/soltixdb/ringkv/internal/hashring"
)

// ErrNotFound is returned for a missing or deleted key.
var ErrNotFound = errors.New("key not found")

// Record is one key's state: a value or a tombstone.
type Record struct {
	Key       string
	Value     []byte
	Tombstone bool
}

// KeyPredicate selects keys for Scan and Purge.
type KeyPredicate func(key string) bool

// InRange selects keys whose hash falls inside r.
func InRange(r hashring.Range) KeyPredicate {
	return r.ContainsKey
}

// All selects every key.
func All(string) bool { return true }

// RecordReader yields records until io.EOF.
type RecordReader interface {
	Next() (Record, error)
}

// Engine is the storage collaborator of a node.
type Engine interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete writes a tombstone.
	Delete(ctx context.Context, key string) error
	// Apply stores a record as-is, tombstones included.
	Apply(ctx context.Context, rec Record) error
	// Clear removes every record.
	Clear(ctx context.Context) error
	// Scan calls fn for every record, tombstones included, whose key
	// matches pred. Returning an error from fn stops the scan.
	Scan(ctx context.Context, pred KeyPredicate, fn func(Record) error) error
	// BulkLoad applies every record from r and returns how many it applied.
	BulkLoad(ctx context.Context, r RecordReader) (int, error)
	// Purge physically removes records whose key matches pred.
	Purge(ctx context.Context, pred KeyPredicate) (int, error)
	Close() error
}

// bulkLoad drains r into apply in batches of batchSize records.
func bulkLoad(ctx context.Context, r RecordReader, batchSize int, apply func([]Record) error) (int, error) {
	batch := make([]Record, 0, batchSize)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, fmt.Errorf("failed to read record: %w", err)
		}
		batch = append(batch, rec)
		if len(batch) == batchSize {
			if err := apply(batch); err != nil {
				return total, err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := apply(batch); err != nil {
			return total, err
		}
		total += len(batch)
	}
	return total, nil
}

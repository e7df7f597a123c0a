package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

const (
	markerValue     byte = 0
	markerTombstone byte = 1

	badgerBatchSize = 1000
)

// BadgerEngine persists records in a Badger database. Each stored value is
// prefixed with a one-byte marker distinguishing values from tombstones.
type BadgerEngine struct {
	db *badger.DB
}

// NewBadgerEngine opens (or creates) a database under dir.
func NewBadgerEngine(dir string) (*BadgerEngine, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return &BadgerEngine{db: db}, nil
}

func encodeValue(rec Record) []byte {
	if rec.Tombstone {
		return []byte{markerTombstone}
	}
	out := make([]byte, 0, len(rec.Value)+1)
	out = append(out, markerValue)
	return append(out, rec.Value...)
}

func decodeValue(key string, raw []byte) (Record, error) {
	if len(raw) == 0 {
		return Record{}, fmt.Errorf("corrupt record %q: empty value", key)
	}
	switch raw[0] {
	case markerTombstone:
		return Record{Key: key, Tombstone: true}, nil
	case markerValue:
		return Record{Key: key, Value: append([]byte(nil), raw[1:]...)}, nil
	default:
		return Record{}, fmt.Errorf("corrupt record %q: unknown marker %d", key, raw[0])
	}
}

func (e *BadgerEngine) Get(_ context.Context, key string) ([]byte, error) {
	var rec Record
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			rec, err = decodeValue(key, v)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if rec.Tombstone {
		return nil, ErrNotFound
	}
	return rec.Value, nil
}

func (e *BadgerEngine) Put(ctx context.Context, key string, value []byte) error {
	return e.Apply(ctx, Record{Key: key, Value: value})
}

func (e *BadgerEngine) Delete(ctx context.Context, key string) error {
	return e.Apply(ctx, Record{Key: key, Tombstone: true})
}

func (e *BadgerEngine) Apply(_ context.Context, rec Record) error {
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(rec.Key), encodeValue(rec))
	})
}

func (e *BadgerEngine) Clear(_ context.Context) error {
	if err := e.db.DropAll(); err != nil {
		return fmt.Errorf("failed to clear badger: %w", err)
	}
	return nil
}

func (e *BadgerEngine) Scan(ctx context.Context, pred KeyPredicate, fn func(Record) error) error {
	return e.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key())
			if !pred(key) {
				continue
			}
			var rec Record
			err := item.Value(func(v []byte) error {
				var err error
				rec, err = decodeValue(key, v)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *BadgerEngine) BulkLoad(ctx context.Context, r RecordReader) (int, error) {
	return bulkLoad(ctx, r, badgerBatchSize, func(batch []Record) error {
		wb := e.db.NewWriteBatch()
		defer wb.Cancel()
		for _, rec := range batch {
			if err := wb.Set([]byte(rec.Key), encodeValue(rec)); err != nil {
				return fmt.Errorf("failed to stage record: %w", err)
			}
		}
		if err := wb.Flush(); err != nil {
			return fmt.Errorf("failed to flush batch: %w", err)
		}
		return nil
	})
}

func (e *BadgerEngine) Purge(ctx context.Context, pred KeyPredicate) (int, error) {
	var keys [][]byte
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if pred(string(it.Item().Key())) {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := e.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("failed to stage delete: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to purge: %w", err)
	}
	return len(keys), nil
}

func (e *BadgerEngine) Close() error {
	return e.db.Close()
}

package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// maxStoredIndex keeps indexKey within its fixed 16 digit width
const maxStoredIndex = 9999999999999999

// ctxCheckEvery bounds how many entries are processed between context checks
const ctxCheckEvery = 256

// txnWriter spreads a large batch of writes over as many transactions as
// Badger needs. Entries already committed stay committed if a later one fails;
// every write is an idempotent upsert so a retried batch converges.
type txnWriter struct {
	db  *badger.DB
	txn *badger.Txn
}

func newTxnWriter(db *badger.DB) *txnWriter {
	return &txnWriter{db: db, txn: db.NewTransaction(true)}
}

func (w *txnWriter) set(key, value []byte) error {
	err := w.txn.Set(key, value)
	if errors.Is(err, badger.ErrTxnTooBig) {
		if err := w.rotate(); err != nil {
			return err
		}
		return w.txn.Set(key, value)
	}
	return err
}

func (w *txnWriter) delete(key []byte) error {
	err := w.txn.Delete(key)
	if errors.Is(err, badger.ErrTxnTooBig) {
		if err := w.rotate(); err != nil {
			return err
		}
		return w.txn.Delete(key)
	}
	return err
}

// getCopy returns a copy of the stored value, or nil when the key is absent
func (w *txnWriter) getCopy(key []byte) ([]byte, error) {
	item, err := w.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (w *txnWriter) rotate() error {
	if err := w.txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit partial batch: %w", err)
	}
	w.txn = w.db.NewTransaction(true)
	return nil
}

func (w *txnWriter) commit() error {
	return w.txn.Commit()
}

func (w *txnWriter) discard() {
	w.txn.Discard()
}

// writeStream upserts items under prefix at startIndex, startIndex+1, ...
// before runs inside the same transaction ahead of each write and may
// maintain secondary keys.
func writeStream[T any](ctx context.Context, db *badger.DB, prefix []byte, items []T, startIndex int,
	before func(w *txnWriter, index int, item *T) error) error {
	if len(items) == 0 {
		return nil
	}
	if startIndex < 0 || startIndex+len(items)-1 > maxStoredIndex {
		return fmt.Errorf("index range [%d, %d] out of bounds", startIndex, startIndex+len(items)-1)
	}

	w := newTxnWriter(db)
	defer w.discard()

	for i := range items {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		index := startIndex + i
		if before != nil {
			if err := before(w, index, &items[i]); err != nil {
				return err
			}
		}

		data, err := json.Marshal(items[i])
		if err != nil {
			return fmt.Errorf("failed to marshal entry %d: %w", index, err)
		}
		if err := w.set(indexKey(prefix, index), data); err != nil {
			return fmt.Errorf("failed to write entry %d: %w", index, err)
		}
	}

	return w.commit()
}

// readStream returns the values stored under prefix with start <= index <= end
func readStream[T any](ctx context.Context, db *badger.DB, prefix []byte, start, end int) ([]T, error) {
	if start < 0 {
		start = 0
	}
	if end > maxStoredIndex {
		end = maxStoredIndex
	}
	if end < start {
		return []T{}, nil
	}

	capacity := end - start + 1
	if capacity > 4096 {
		capacity = 4096
	}
	results := make([]T, 0, capacity)
	endKey := indexKey(prefix, end)

	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		n := 0
		for it.Seek(indexKey(prefix, start)); it.ValidForPrefix(prefix); it.Next() {
			if n%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++

			item := it.Item()
			if bytes.Compare(item.Key(), endKey) > 0 {
				break
			}

			var value T
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &value)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", item.Key(), err)
			}
			results = append(results, value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// countKeys counts keys under prefix without loading values
func countKeys(ctx context.Context, db *badger.DB, prefix []byte) (int, error) {
	count := 0
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if count%(ctxCheckEvery*16) == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			count++
		}
		return nil
	})
	return count, err
}

// collectIndices returns the indices of keys under prefix within [start, end]
func collectIndices(ctx context.Context, txn *badger.Txn, prefix []byte, start, end int) ([]int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	endKey := indexKey(prefix, end)
	var indices []int
	for it.Seek(indexKey(prefix, start)); it.ValidForPrefix(prefix); it.Next() {
		if len(indices)%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		key := it.Item().Key()
		if bytes.Compare(key, endKey) > 0 {
			break
		}
		index, err := indexFromKey(key)
		if err != nil {
			return nil, err
		}
		indices = append(indices, index)
	}
	return indices, nil
}

// lastIndex returns the highest index stored under prefix, or -1
func lastIndex(txn *badger.Txn, prefix []byte) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	seekKey := append(append([]byte{}, prefix...), 0xFF)
	it.Seek(seekKey)
	if !it.ValidForPrefix(prefix) {
		return -1, nil
	}
	return indexFromKey(it.Item().Key())
}

type timestamped struct {
	Timestamp time.Time `json:"timestamp"`
}

// indexAtTimestamp binary-searches the dense index space under prefix for the
// last entry whose timestamp is <= ts. Returns -1 when ts precedes the stream.
func indexAtTimestamp(ctx context.Context, db *badger.DB, prefix []byte, ts time.Time) (int, error) {
	result := -1
	err := db.View(func(txn *badger.Txn) error {
		last, err := lastIndex(txn, prefix)
		if err != nil {
			return err
		}

		lo, hi := 0, last
		for lo <= hi {
			if err := ctx.Err(); err != nil {
				return err
			}

			mid := lo + (hi-lo)/2
			item, err := txn.Get(indexKey(prefix, mid))
			if err != nil {
				return fmt.Errorf("failed to read index %d: %w", mid, err)
			}

			var entry timestamped
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("failed to decode index %d: %w", mid, err)
			}

			if entry.Timestamp.After(ts) {
				hi = mid - 1
			} else {
				result = mid
				lo = mid + 1
			}
		}
		return nil
	})
	if err != nil {
		return -1, err
	}
	return result, nil
}

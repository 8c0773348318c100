// Package db declares the key-value contract the chain store runs on.
// Implementations live in subpackages; pkg/db/pebble is the production one.
package db

// KVStore is a closable key-value store. Single keys are written directly;
// multi-key updates go through batches so they land atomically, and range
// reads go through iterators.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	NewBatch() Batch
	NewIterator(start, end []byte) (Iterator, error)
	Close() error
}

// Batch accumulates writes and deletes that commit as one atomic unit.
// A batch must be closed whether or not it was committed.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Close() error
}

// Iterator walks the keys of a half-open range in ascending order. A fresh
// iterator is un-positioned; the first Next moves it onto the first key.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() ([]byte, error)
	Close() error
}

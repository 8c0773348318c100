// Package store persists the slice chain and finality checkpoints behind
// the db.KVStore contract.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/slice"
	"github.com/temporanet/tempora/internal/temporatime"
	"github.com/temporanet/tempora/pkg/db"
	"github.com/temporanet/tempora/pkg/db/pebble"
	"github.com/temporanet/tempora/pkg/log"
)

var (
	ErrSliceNotFound      = errors.New("slice not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrStoreClosed        = errors.New("chain store is closed")
)

const (
	prefixSlice byte = iota + 1
	prefixIndex
	prefixCheckpoint
	prefixLatestCheckpoint
)

// Chain manages slice chain storage using a key-value store
type Chain struct {
	db     db.KVStore
	closed atomic.Bool
}

// NewChain creates a new chain store using KVStore
func NewChain(db db.KVStore) *Chain {
	return &Chain{db: db}
}

// PutSlice stores a slice under its header hash. The canonical index
// mapping is maintained separately: fork candidates are stored by hash
// only and never disturb the index until fork choice adopts them.
func (c *Chain) PutSlice(s slice.Slice) error {
	if c.closed.Load() {
		return ErrStoreClosed
	}

	headerHash, err := s.Header.Hash()
	if err != nil {
		return fmt.Errorf("hash header: %w", err)
	}

	sliceBytes, err := s.Bytes()
	if err != nil {
		return fmt.Errorf("marshal slice: %w", err)
	}
	if err := c.db.Put(makeKey(prefixSlice, headerHash[:]), sliceBytes); err != nil {
		return fmt.Errorf("store slice: %w", err)
	}
	return nil
}

// SetCanonicalHash records hash as the canonical chain's slice for index.
func (c *Chain) SetCanonicalHash(index temporatime.Slice, hash crypto.Hash) error {
	if c.closed.Load() {
		return ErrStoreClosed
	}

	if err := c.db.Put(makeIndexKey(prefixIndex, uint64(index)), hash[:]); err != nil {
		return fmt.Errorf("store slice index: %w", err)
	}
	return nil
}

// CanonicalHashAt returns the canonical slice hash recorded for an index.
func (c *Chain) CanonicalHashAt(index temporatime.Slice) (crypto.Hash, error) {
	if c.closed.Load() {
		return crypto.Hash{}, ErrStoreClosed
	}

	hashBytes, err := c.db.Get(makeIndexKey(prefixIndex, uint64(index)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return crypto.Hash{}, ErrSliceNotFound
		}
		return crypto.Hash{}, fmt.Errorf("get slice index: %w", err)
	}
	if len(hashBytes) != crypto.HashSize {
		return crypto.Hash{}, fmt.Errorf("corrupt %s entry for slice %d", PrefixToString(prefixIndex), index)
	}

	var hash crypto.Hash
	copy(hash[:], hashBytes)
	return hash, nil
}

// IndexedHash pairs a slice index with its canonical header hash.
type IndexedHash struct {
	Index temporatime.Slice
	Hash  crypto.Hash
}

// Reindex atomically replaces the canonical index mappings in [from, to)
// with the given entries; indices in the range without an entry are
// cleared. A reorganization uses it to swap the abandoned suffix for the
// adopted branch in one batch.
func (c *Chain) Reindex(from, to temporatime.Slice, canonical []IndexedHash) error {
	if c.closed.Load() {
		return ErrStoreClosed
	}

	batch := c.db.NewBatch()
	defer batch.Close()

	for index := from; index < to; index++ {
		if err := batch.Delete(makeIndexKey(prefixIndex, uint64(index))); err != nil {
			return fmt.Errorf("clear slice index: %w", err)
		}
	}
	for _, entry := range canonical {
		if err := batch.Put(makeIndexKey(prefixIndex, uint64(entry.Index)), entry.Hash[:]); err != nil {
			return fmt.Errorf("store slice index: %w", err)
		}
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// SliceByHash retrieves a slice by its header hash
func (c *Chain) SliceByHash(hash crypto.Hash) (slice.Slice, error) {
	if c.closed.Load() {
		return slice.Slice{}, ErrStoreClosed
	}

	sliceBytes, err := c.db.Get(makeKey(prefixSlice, hash[:]))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return slice.Slice{}, ErrSliceNotFound
		}
		return slice.Slice{}, fmt.Errorf("get slice: %w", err)
	}

	return slice.FromBytes(sliceBytes)
}

// SliceByIndex retrieves the canonical slice stored at an index
func (c *Chain) SliceByIndex(index temporatime.Slice) (slice.Slice, error) {
	hash, err := c.CanonicalHashAt(index)
	if err != nil {
		return slice.Slice{}, err
	}
	return c.SliceByHash(hash)
}

// HeaderByHash retrieves a stored slice header; it satisfies the fork-choice
// ancestor resolver.
func (c *Chain) HeaderByHash(hash crypto.Hash) (slice.Header, error) {
	s, err := c.SliceByHash(hash)
	if err != nil {
		return slice.Header{}, err
	}
	return s.Header, nil
}

// PutCheckpoint stores a finality checkpoint and advances the latest
// checkpoint pointer atomically.
func (c *Chain) PutCheckpoint(cp slice.Checkpoint) error {
	if c.closed.Load() {
		return ErrStoreClosed
	}

	batch := c.db.NewBatch()
	defer batch.Close()

	cpBytes, err := cp.Bytes()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	key := makeIndexKey(prefixCheckpoint, uint64(cp.Index))
	if err := batch.Put(key, cpBytes); err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	if err := batch.Put([]byte{prefixLatestCheckpoint}, key[1:]); err != nil {
		return fmt.Errorf("store latest checkpoint pointer: %w", err)
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// CheckpointByIndex retrieves the checkpoint emitted for a slice index
func (c *Chain) CheckpointByIndex(index temporatime.Slice) (slice.Checkpoint, error) {
	if c.closed.Load() {
		return slice.Checkpoint{}, ErrStoreClosed
	}

	cpBytes, err := c.db.Get(makeIndexKey(prefixCheckpoint, uint64(index)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return slice.Checkpoint{}, ErrCheckpointNotFound
		}
		return slice.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}

	return slice.CheckpointFromBytes(cpBytes)
}

// LatestCheckpoint retrieves the most recently stored checkpoint
func (c *Chain) LatestCheckpoint() (slice.Checkpoint, error) {
	if c.closed.Load() {
		return slice.Checkpoint{}, ErrStoreClosed
	}

	pointer, err := c.db.Get([]byte{prefixLatestCheckpoint})
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return slice.Checkpoint{}, ErrCheckpointNotFound
		}
		return slice.Checkpoint{}, fmt.Errorf("get latest checkpoint pointer: %w", err)
	}
	if len(pointer) != 8 {
		return slice.Checkpoint{}, errors.New("corrupt latest checkpoint pointer")
	}

	return c.CheckpointByIndex(temporatime.Slice(binary.BigEndian.Uint64(pointer)))
}

// SlicesInRange returns the canonical slices with indices in [from, to),
// ascending. Gaps from skipped intervals are passed over silently.
func (c *Chain) SlicesInRange(from, to temporatime.Slice) ([]slice.Slice, error) {
	if c.closed.Load() {
		return nil, ErrStoreClosed
	}

	iter, err := c.db.NewIterator(makeIndexKey(prefixIndex, uint64(from)), makeIndexKey(prefixIndex, uint64(to)))
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	var slices []slice.Slice
	for iter.Next() {
		hashBytes, err := iter.Value()
		if err != nil {
			log.Store.Warn().Err(err).Msg("read index entry from iterator")
			continue
		}
		if len(hashBytes) != crypto.HashSize {
			log.Store.Warn().Str("keyspace", PrefixToString(prefixIndex)).Msg("corrupt index entry skipped")
			continue
		}
		var hash crypto.Hash
		copy(hash[:], hashBytes)

		s, err := c.SliceByHash(hash)
		if err != nil {
			log.Store.Warn().Err(err).Str("hash", hash.Hex()).Msg("indexed slice missing")
			continue
		}
		slices = append(slices, s)
	}

	return slices, nil
}

// Close closes the chain store
func (c *Chain) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.db.Close()
}

// PrefixToString converts a prefix byte to a string
func PrefixToString(p byte) string {
	switch p {
	case prefixSlice:
		return "slice"
	case prefixIndex:
		return "index"
	case prefixCheckpoint:
		return "checkpoint"
	case prefixLatestCheckpoint:
		return "latest-checkpoint"
	default:
		return "unknown"
	}
}

// makeKey creates a key from a prefix and hash
func makeKey(prefix byte, hash []byte) []byte {
	key := make([]byte, 1+len(hash))
	key[0] = prefix
	copy(key[1:], hash)
	return key
}

// makeIndexKey creates a key from a prefix and a big-endian index, so
// iteration order follows index order.
func makeIndexKey(prefix byte, index uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], index)
	return key
}

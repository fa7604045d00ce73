// Package storage wraps a single embedded Badger instance per replica and
// exposes prefix-scoped "trees" over its one flat keyspace, modeling the
// original Rust implementation's sled::Db::open_tree (see
// original_source/src/typed_tree.rs). Badger has no native sub-tree
// concept, so namespacing is done with a one-byte key prefix exactly as
// spec.md §6 describes ("two logical trees, discriminated by a
// single-byte prefix").
package storage

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

// Prefix bytes for the two trees spec.md §6 names, carried over from the
// original Rust implementation's derive_key_of! discriminants
// (original_source/src/offers/model.rs, src/matches.rs).
const (
	OfferEventPrefix byte = 2
	MatchPrefix      byte = 3
)

// Store owns the Badger database for one replica.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) a Badger database rooted at dir.
// SyncWrites is enabled so that every write is flushed to stable storage
// before the call returns, matching the "flush before dispatch"
// requirement of spec.md §4.C.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tree returns a prefixed view over the store's keyspace.
func (s *Store) Tree(prefix byte) *Tree {
	return &Tree{db: s.db, prefix: prefix}
}

// Tree is a prefix-scoped view over a Store's keyspace: every key it
// writes or reads is transparently prefixed with a single discriminant
// byte, so distinct trees sharing one Badger instance never collide.
type Tree struct {
	db     *badger.DB
	prefix byte
}

func (t *Tree) prefixed(key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = t.prefix
	copy(out[1:], key)
	return out
}

// Put durably writes key -> value. Returns once fsync'd (Store was opened
// with SyncWrites).
func (t *Tree) Put(key, value []byte) error {
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(t.prefixed(key), value)
	})
}

// Get reads the value stored at key, or (nil, false) if absent.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(t.prefixed(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

// MaxKeyU64 scans the tree in reverse from its prefix upper bound and
// returns the greatest 8-byte big-endian key present, or (0, false) if the
// tree is empty. Used at startup to rehydrate a monotonic counter (spec.md
// §4.C; original_source/src/typed_tree.rs's MonotonicTypedTree::get_max_key,
// adapted from sled's destructive pop-and-reinsert into a plain reverse
// iteration since Badger iterators are non-destructive).
func (t *Tree) MaxKeyU64() (uint64, bool, error) {
	var (
		found bool
		max   uint64
	)
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte{t.prefix}
		it := txn.NewIterator(opts)
		defer it.Close()

		seekFrom := append([]byte{t.prefix}, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seekFrom)
		if !it.ValidForPrefix([]byte{t.prefix}) {
			return nil
		}
		item := it.Item()
		key := item.KeyCopy(nil)
		if len(key) < 9 {
			return nil
		}
		max = beUint64(key[1:9])
		found = true
		return nil
	})
	return max, found, err
}

// Iterate walks every (key, value) pair in the tree in ascending key
// order, stopping early if fn returns false.
func (t *Tree) Iterate(fn func(key, value []byte) bool) error {
	return t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{t.prefix}
		it := txn.NewIterator(opts)
		defer it.Close()

		lower := []byte{t.prefix}
		for it.Seek(lower); it.ValidForPrefix(lower); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			var cont bool
			err := item.Value(func(v []byte) error {
				cont = fn(key[1:], v)
				return nil
			})
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b[:8] {
		v = v<<8 | uint64(c)
	}
	return v
}

// badgerLogger forwards Badger's internal logging through zerolog so the
// whole process shares one structured log stream (ambient logging stack,
// SPEC_FULL.md).
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, a ...any)   { log.Error().Msgf(f, a...) }
func (badgerLogger) Warningf(f string, a ...any) { log.Warn().Msgf(f, a...) }
func (badgerLogger) Infof(f string, a ...any)    { log.Info().Msgf(f, a...) }
func (badgerLogger) Debugf(f string, a ...any)   { log.Debug().Msgf(f, a...) }

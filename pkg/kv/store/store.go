// Package store defines the persistent backend the cache layers drain
// into, plus a bbolt-backed implementation of it.
package store

import (
	"context"

	"github.com/nebliotech/hierdb/pkg/kv"
)

// Store is the durable bottom layer of the engine: a fixed set of
// independently-transacted logical indices, each holding string keys
// mapped to one value (unique indices) or many values in insertion order
// (multi indices). Every method that touches the backend takes a
// context; BoltStore ignores it, so a call is not cancelled through it.
type Store interface {
	// Read returns the sole value stored for key in a unique index.
	// ok is false if the key is absent; error is non-nil only on a
	// genuine backend failure.
	Read(ctx context.Context, index kv.Index, key string) (value []byte, ok bool, err error)

	// ReadMultiple returns every value stored for key in a multi index,
	// in insertion order. An absent key yields a nil slice and no error.
	ReadMultiple(ctx context.Context, index kv.Index, key string) (values [][]byte, err error)

	// ReadAll returns every key and its value(s) currently stored in
	// index.
	ReadAll(ctx context.Context, index kv.Index) (map[string][][]byte, error)

	// ReadAllUnique returns, for a multi index, a single value per key.
	// Which value is left to the implementation; BoltStore returns each
	// key's first value in insertion order. Callers that need every value
	// must use ReadAll or ReadMultiple instead.
	ReadAllUnique(ctx context.Context, index kv.Index) (map[string][]byte, error)

	// Exists reports whether key has any value recorded in index.
	Exists(ctx context.Context, index kv.Index, key string) (bool, error)

	// Write stores values for key in index, replacing anything already
	// there. A unique index accepts exactly one value.
	Write(ctx context.Context, index kv.Index, key string, values [][]byte) error

	// Erase removes key and all of its values from index.
	Erase(ctx context.Context, index kv.Index, key string) error

	// EraseAll removes key and all of its values from index. At the
	// engine level this is a synonym of Erase; the distinction exists
	// only so a backend may optimise the bulk removal of a multi
	// index's duplicate entries differently from a single-value erase.
	EraseAll(ctx context.Context, index kv.Index, key string) error

	// BeginTransaction opens a batched-write handle. All Write/Erase
	// calls made through the returned Tx are invisible to other readers
	// until Tx.Commit runs.
	BeginTransaction(ctx context.Context) (Tx, error)

	// ClearAllData removes every key from every index, leaving the
	// backend open and usable afterward.
	ClearAllData(ctx context.Context) error

	// Close releases the backend's resources. No further calls may be
	// made on the Store after Close returns.
	Close() error
}

// Tx is a batched write handle opened by Store.BeginTransaction. It
// exposes the same write surface as Store, scoped to one all-or-nothing
// commit.
type Tx interface {
	Write(index kv.Index, key string, values [][]byte) error
	Erase(index kv.Index, key string) error
	EraseAll(index kv.Index, key string) error

	// Commit makes every write recorded on the Tx durable and visible.
	Commit() error

	// Abort discards every write recorded on the Tx. Calling Abort after
	// Commit, or Commit after Abort, is a programmer error.
	Abort() error
}

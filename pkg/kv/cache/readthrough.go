package cache

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/nebliotech/hierdb/pkg/kv"
	"github.com/nebliotech/hierdb/pkg/kv/concurrentmap"
	"github.com/nebliotech/hierdb/pkg/kv/store"
	"github.com/nebliotech/hierdb/pkg/kv/txdb"
	"github.com/nebliotech/hierdb/pkg/log"
	"github.com/nebliotech/hierdb/pkg/metrics"
)

const layerReadThrough = "readthrough"

// ReadThroughLayer is the write-through cache policy: writes reach the
// backend immediately and the cache mirrors them; reads consult the
// cache, then the backend on miss. A multi-index key is only ever
// cached once its complete value set has been read from or written
// through to the backend. A direct Append rewrites and caches the key's
// complete set (see appendMultiThrough); a transaction-committed Append
// against an uncached multi key is applied to the backend but left out
// of the cache (see mirrorIntoCache), so the next full read repopulates it.
type ReadThroughLayer struct {
	backend store.Store
	logger  zerolog.Logger

	data [kv.NumIndices]*concurrentmap.Map[kv.ReadEntry]

	gate    sync.Mutex
	rwCount int32
	txCount int32

	txMu sync.Mutex
	tx   *txdb.Node

	// appendMu serialises the read-modify-write a direct multi-index
	// Append performs against the backend (see appendMultiThrough):
	// without it, two concurrent appends to the same key could both read
	// the same base set and each write back a set missing the other's
	// value.
	appendMu sync.Mutex
}

// NewReadThroughLayer constructs a write-through layer over backend.
func NewReadThroughLayer(backend store.Store) *ReadThroughLayer {
	l := &ReadThroughLayer{
		backend: backend,
		logger:  log.WithComponent("readthrough"),
	}
	for i := range l.data {
		l.data[i] = concurrentmap.New[kv.ReadEntry]()
	}
	return l
}

// CachedKeyCounts reports the number of keys currently cached per index,
// for periodic metrics collection.
func (l *ReadThroughLayer) CachedKeyCounts() map[kv.Index]int {
	out := make(map[kv.Index]int, kv.NumIndices)
	for _, index := range kv.AllIndices() {
		out[index] = l.data[index].Size()
	}
	return out
}

// enterRW waits until no transaction commit is in flight, then marks a
// non-transactional operation as in-flight. Pairs with exitRW.
func (l *ReadThroughLayer) enterRW() {
	for {
		l.gate.Lock()
		if atomic.LoadInt32(&l.txCount) == 0 {
			atomic.AddInt32(&l.rwCount, 1)
			l.gate.Unlock()
			return
		}
		l.gate.Unlock()
		runtime.Gosched()
	}
}

func (l *ReadThroughLayer) exitRW() {
	atomic.AddInt32(&l.rwCount, -1)
}

// enterTx waits until no read/write operation is in flight, then marks a
// transaction commit as in-flight. Pairs with exitTx.
func (l *ReadThroughLayer) enterTx() {
	for {
		l.gate.Lock()
		if atomic.LoadInt32(&l.rwCount) == 0 {
			atomic.AddInt32(&l.txCount, 1)
			l.gate.Unlock()
			return
		}
		l.gate.Unlock()
		runtime.Gosched()
	}
}

func (l *ReadThroughLayer) exitTx() {
	atomic.AddInt32(&l.txCount, -1)
}

// BeginTransaction opens the layer's single transaction overlay.
func (l *ReadThroughLayer) BeginTransaction(name string) (*txdb.Node, error) {
	l.txMu.Lock()
	defer l.txMu.Unlock()
	if l.tx != nil {
		return nil, kv.ErrAlreadyCommitted
	}
	l.tx = txdb.NewRoot(name)
	return l.tx, nil
}

// CancelTransaction discards the open transaction without touching the
// backend or cache.
func (l *ReadThroughLayer) CancelTransaction() {
	l.txMu.Lock()
	defer l.txMu.Unlock()
	l.tx = nil
}

// CommitTransaction writes every collapsed operation in the open
// transaction to the backend inside one batched-write transaction, then
// mirrors the same operations into the cache, subject to the multi-index
// coherence rule above. The whole step runs under the tx/rw gate so no
// reader ever observes a partially-applied commit.
func (l *ReadThroughLayer) CommitTransaction(ctx context.Context) error {
	l.txMu.Lock()
	if l.tx == nil {
		l.txMu.Unlock()
		return kv.ErrClosed
	}
	tx := l.tx
	l.tx = nil
	l.txMu.Unlock()

	ops := make(map[kv.Index]map[string]kv.Op, kv.NumIndices)
	for _, index := range kv.AllIndices() {
		if byKey := tx.GetAllForIndex(index); len(byKey) > 0 {
			ops[index] = byKey
		}
	}

	l.enterTx()
	defer l.exitTx()

	backendTx, err := l.backend.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	for index, byKey := range ops {
		for key, op := range byKey {
			if err := applyOpToBackend(backendTx, index, key, op); err != nil {
				_ = backendTx.Abort()
				return err
			}
		}
	}
	if err := backendTx.Commit(); err != nil {
		return err
	}

	for index, byKey := range ops {
		for key, op := range byKey {
			l.mirrorIntoCache(index, key, op)
		}
	}
	return nil
}

func applyOpToBackend(tx store.Tx, index kv.Index, key string, op kv.Op) error {
	if op.Kind == kv.OpErase {
		return tx.EraseAll(index, key)
	}
	return tx.Write(index, key, op.Values)
}

// mirrorIntoCache applies op to the cache, honouring the invariant that a
// multi-index key is only cached with its complete value set. Used for
// direct Set/Erase writes and for transaction-commit mirroring; a direct
// multi-index Append instead goes through appendMultiThrough, which
// always knows the complete set and so never needs this guard.
func (l *ReadThroughLayer) mirrorIntoCache(index kv.Index, key string, op kv.Op) {
	m := l.data[index]
	m.Apply(key, func(data map[string]kv.ReadEntry, key string) {
		existing, has := data[key]
		if op.Kind == kv.OpAppend && index.IsMulti() && !has {
			return
		}
		data[key] = applyOp(existing, has, op, kv.ValueWritten)
	})
}

// Read returns value[offset : offset+size], consulting the open
// transaction, then the cache, then the backend on miss.
func (l *ReadThroughLayer) Read(ctx context.Context, index kv.Index, key string, offset, size int) ([]byte, bool, error) {
	if op, ok := l.txOp(index, key); ok {
		if op.Kind == kv.OpErase || len(op.Values) == 0 {
			return nil, false, nil
		}
		return slice(op.Values[0], offset, size), true, nil
	}

	l.enterRW()
	defer l.exitRW()

	if entry, ok := l.data[index].Get(key); ok {
		metrics.CacheHitsTotal.WithLabelValues(index.String(), layerReadThrough).Inc()
		if !entry.Present() || len(entry.Values) == 0 {
			return nil, false, nil
		}
		return slice(entry.Values[0], offset, size), true, nil
	}
	metrics.CacheMissesTotal.WithLabelValues(index.String(), layerReadThrough).Inc()

	value, found, err := l.backend.Read(ctx, index, key)
	if err != nil || !found {
		return nil, false, err
	}
	l.data[index].Set(key, kv.ReadEntry{Kind: kv.ValueRead, Values: [][]byte{value}})
	return slice(value, offset, size), true, nil
}

// ReadMulti returns every value for a multi key.
func (l *ReadThroughLayer) ReadMulti(ctx context.Context, index kv.Index, key string) ([][]byte, error) {
	if op, ok := l.txOp(index, key); ok {
		if op.Kind == kv.OpErase {
			return [][]byte{}, nil
		}
		return op.Values, nil
	}

	l.enterRW()
	defer l.exitRW()

	if entry, ok := l.data[index].Get(key); ok {
		if !entry.Present() {
			return [][]byte{}, nil
		}
		return entry.Values, nil
	}

	values, err := l.backend.ReadMultiple(ctx, index, key)
	if err != nil {
		return nil, err
	}
	l.data[index].Set(key, kv.ReadEntry{Kind: kv.ValueRead, Values: values})
	return values, nil
}

func (l *ReadThroughLayer) txOp(index kv.Index, key string) (kv.Op, bool) {
	l.txMu.Lock()
	tx := l.tx
	l.txMu.Unlock()
	if tx == nil {
		return kv.Op{}, false
	}
	return tx.GetOp(index, key)
}

// Set writes key's value through to the backend (or the open
// transaction), then mirrors it into the cache.
func (l *ReadThroughLayer) Set(ctx context.Context, index kv.Index, key string, value []byte) error {
	return l.writeThrough(ctx, index, key, kv.NewSetOp(value))
}

// Append writes value through to the backend. For a multi index this
// reads the key's current set, extends it, and writes the whole set
// back (see appendMultiThrough), then caches that same complete set
// regardless of whether the key was cached before. On a unique index
// Append behaves exactly like Set.
func (l *ReadThroughLayer) Append(ctx context.Context, index kv.Index, key string, value []byte) error {
	if !index.IsMulti() {
		return l.Set(ctx, index, key, value)
	}
	return l.writeThrough(ctx, index, key, kv.NewAppendOp(value))
}

// Erase writes the erasure through to the backend and marks the cache
// entry negative.
func (l *ReadThroughLayer) Erase(ctx context.Context, index kv.Index, key string) error {
	return l.writeThrough(ctx, index, key, kv.NewEraseOp())
}

func (l *ReadThroughLayer) writeThrough(ctx context.Context, index kv.Index, key string, op kv.Op) error {
	if tx, ok := l.activeTx(); ok {
		switch op.Kind {
		case kv.OpSet:
			return tx.Set(index, key, op.Values[0])
		case kv.OpAppend:
			return tx.Append(index, key, op.Values[0])
		default:
			return tx.Erase(index, key)
		}
	}

	l.enterRW()
	defer l.exitRW()

	if op.Kind == kv.OpAppend && index.IsMulti() {
		return l.appendMultiThrough(ctx, index, key, op.Values[0])
	}

	if err := applyOpToBackendDirect(ctx, l.backend, index, key, op); err != nil {
		return err
	}
	l.mirrorIntoCache(index, key, op)
	return nil
}

// appendMultiThrough performs the read-modify-write a direct (non-
// transactional) Append against a multi index requires: unlike the
// original's LMDB MDB_DUPSORT backend, which accumulates duplicate keys
// on write, this Store's Write replaces a key's whole value set. So a
// bare Write of just the new value would silently drop everything
// already there. Read the current set, extend it, and write the whole
// set back, then mirror that same complete set into the cache — the
// result is now known-complete regardless of whether the key was
// previously cached.
func (l *ReadThroughLayer) appendMultiThrough(ctx context.Context, index kv.Index, key string, value []byte) error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	existing, err := l.backend.ReadMultiple(ctx, index, key)
	if err != nil {
		return err
	}
	full := make([][]byte, 0, len(existing)+1)
	full = append(full, existing...)
	full = append(full, value)

	if err := l.backend.Write(ctx, index, key, full); err != nil {
		return err
	}
	l.data[index].Set(key, kv.ReadEntry{Kind: kv.ValueWritten, Values: full})
	return nil
}

func (l *ReadThroughLayer) activeTx() (*txdb.Node, bool) {
	l.txMu.Lock()
	defer l.txMu.Unlock()
	return l.tx, l.tx != nil
}

func applyOpToBackendDirect(ctx context.Context, backend store.Store, index kv.Index, key string, op kv.Op) error {
	if op.Kind == kv.OpErase {
		return backend.EraseAll(ctx, index, key)
	}
	return backend.Write(ctx, index, key, op.Values)
}

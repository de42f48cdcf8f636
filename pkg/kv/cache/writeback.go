package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/nebliotech/hierdb/pkg/kv"
	"github.com/nebliotech/hierdb/pkg/kv/store"
	"github.com/nebliotech/hierdb/pkg/kv/txdb"
	"github.com/nebliotech/hierdb/pkg/log"
	"github.com/nebliotech/hierdb/pkg/metrics"
)

const layerWriteBack = "writeback"

// Layer is the write-back cache policy: reads populate the cache from the
// backend on miss; writes update the cache only, and nothing reaches the
// backend until Flush runs (automatically, once buffered bytes cross
// opts.FlushOnSize, or explicitly).
type Layer struct {
	backend store.Store
	opts    Options
	logger  zerolog.Logger

	mu   sync.Mutex
	data [kv.NumIndices]map[string]kv.ReadEntry
	tx   *txdb.Node

	bufferedBytes int64
	flushCount    int64
	flushFailures int64
}

// NewLayer constructs a write-back layer over backend.
func NewLayer(backend store.Store, opts Options) *Layer {
	l := &Layer{
		backend: backend,
		opts:    opts,
		logger:  log.WithComponent("writeback"),
	}
	for i := range l.data {
		l.data[i] = make(map[string]kv.ReadEntry)
	}
	return l
}

// Stats reports the layer's flush bookkeeping.
func (l *Layer) Stats() Stats {
	return Stats{
		FlushCount:    atomic.LoadInt64(&l.flushCount),
		FlushFailures: atomic.LoadInt64(&l.flushFailures),
		BufferedBytes: atomic.LoadInt64(&l.bufferedBytes),
	}
}

// CachedKeyCounts reports the number of keys currently cached per index,
// for periodic metrics collection.
func (l *Layer) CachedKeyCounts() map[kv.Index]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[kv.Index]int, kv.NumIndices)
	for _, index := range kv.AllIndices() {
		out[index] = len(l.data[index])
	}
	return out
}

// BeginTransaction opens the layer's single transaction overlay. It
// returns ErrAlreadyCommitted-shaped confusion if one is already open;
// callers must Commit or Cancel the existing one first.
func (l *Layer) BeginTransaction(name string) (*txdb.Node, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tx != nil {
		return nil, kv.ErrAlreadyCommitted
	}
	l.tx = txdb.NewRoot(name)
	return l.tx, nil
}

// CommitTransaction drains the open transaction's collapsed operations
// into the cache, using the same coherence rules as a direct Write/Erase,
// then clears the transaction.
func (l *Layer) CommitTransaction() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tx == nil {
		return kv.ErrClosed
	}

	var ops [kv.NumIndices]map[string]kv.Op
	for _, index := range kv.AllIndices() {
		ops[index] = l.tx.GetAllForIndex(index)
		for key, op := range ops[index] {
			if _, cached := l.data[index][key]; !cached && op.Kind == kv.OpAppend && index.IsMulti() {
				existing, err := l.backend.ReadMultiple(context.Background(), index, key)
				if err != nil {
					return err
				}
				l.data[index][key] = kv.ReadEntry{Kind: kv.ValueRead, Values: existing}
			}
		}
	}
	for _, index := range kv.AllIndices() {
		for key, op := range ops[index] {
			l.applyLocked(index, key, op)
		}
	}
	l.tx = nil
	return nil
}

// CancelTransaction discards the open transaction's pending writes
// without touching the cache.
func (l *Layer) CancelTransaction() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tx = nil
}

// Read returns value[offset : offset+size] (clipped) for a unique key, or
// the first value for a multi key. ok is false if the key is absent or
// erased anywhere the read consults: the open transaction first, then
// the cache, then the backend on a true miss.
func (l *Layer) Read(ctx context.Context, index kv.Index, key string, offset, size int) ([]byte, bool, error) {
	l.mu.Lock()
	if l.tx != nil {
		if op, ok := l.tx.GetOp(index, key); ok {
			l.mu.Unlock()
			if op.Kind == kv.OpErase || len(op.Values) == 0 {
				return nil, false, nil
			}
			return slice(op.Values[0], offset, size), true, nil
		}
	}

	if entry, ok := l.data[index][key]; ok {
		l.mu.Unlock()
		metrics.CacheHitsTotal.WithLabelValues(index.String(), layerWriteBack).Inc()
		if !entry.Present() || len(entry.Values) == 0 {
			return nil, false, nil
		}
		return slice(entry.Values[0], offset, size), true, nil
	}
	l.mu.Unlock()
	metrics.CacheMissesTotal.WithLabelValues(index.String(), layerWriteBack).Inc()

	value, found, err := l.backend.Read(ctx, index, key)
	if err != nil || !found {
		return nil, false, err
	}

	l.mu.Lock()
	l.data[index][key] = kv.ReadEntry{Kind: kv.ValueRead, Values: [][]byte{value}}
	l.mu.Unlock()

	return slice(value, offset, size), true, nil
}

// ReadMulti returns every value cached or backed for a multi key.
func (l *Layer) ReadMulti(ctx context.Context, index kv.Index, key string) ([][]byte, error) {
	l.mu.Lock()
	if l.tx != nil {
		if op, ok := l.tx.GetOp(index, key); ok {
			l.mu.Unlock()
			if op.Kind == kv.OpErase {
				return [][]byte{}, nil
			}
			return op.Values, nil
		}
	}

	if entry, ok := l.data[index][key]; ok {
		l.mu.Unlock()
		if !entry.Present() {
			return [][]byte{}, nil
		}
		return entry.Values, nil
	}
	l.mu.Unlock()

	values, err := l.backend.ReadMultiple(ctx, index, key)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.data[index][key] = kv.ReadEntry{Kind: kv.ValueRead, Values: values}
	l.mu.Unlock()

	return values, nil
}

// Set overwrites key's value (unique), or replaces a multi key's entire
// value set with {value}.
func (l *Layer) Set(ctx context.Context, index kv.Index, key string, value []byte) error {
	return l.write(ctx, index, key, kv.NewSetOp(value))
}

// Append adds value to a multi key's collection, fetching the backend's
// existing set first if the key is not yet cached (so the cache never
// ends up holding a partial value set, which Flush's eraseAll-then-write
// would otherwise durably truncate). On a unique index Append behaves
// exactly like Set.
func (l *Layer) Append(ctx context.Context, index kv.Index, key string, value []byte) error {
	if !index.IsMulti() {
		return l.Set(ctx, index, key, value)
	}
	return l.write(ctx, index, key, kv.NewAppendOp(value))
}

// Erase removes key.
func (l *Layer) Erase(ctx context.Context, index kv.Index, key string) error {
	return l.write(ctx, index, key, kv.NewEraseOp())
}

func (l *Layer) write(ctx context.Context, index kv.Index, key string, op kv.Op) error {
	l.mu.Lock()
	if l.tx != nil {
		defer l.mu.Unlock()
		switch op.Kind {
		case kv.OpSet:
			return l.tx.Set(index, key, op.Values[0])
		case kv.OpAppend:
			return l.tx.Append(index, key, op.Values[0])
		default:
			return l.tx.Erase(index, key)
		}
	}

	needsSeed := op.Kind == kv.OpAppend && index.IsMulti()
	if needsSeed {
		_, cached := l.data[index][key]
		l.mu.Unlock()
		if !cached {
			existing, err := l.backend.ReadMultiple(ctx, index, key)
			if err != nil {
				return err
			}
			l.mu.Lock()
			if _, cached := l.data[index][key]; !cached {
				l.data[index][key] = kv.ReadEntry{Kind: kv.ValueRead, Values: existing}
			}
		} else {
			l.mu.Lock()
		}
	}
	defer l.mu.Unlock()

	l.applyLocked(index, key, op)
	return nil
}

func (l *Layer) applyLocked(index kv.Index, key string, op kv.Op) {
	existing, has := l.data[index][key]
	l.data[index][key] = applyOp(existing, has, op, kv.ValueWritten)

	added := approxSize(op.Values)
	if added == 0 {
		return
	}
	total := atomic.AddInt64(&l.bufferedBytes, added)
	metrics.BufferedBytes.WithLabelValues(layerWriteBack).Set(float64(total))
	if l.opts.FlushOnSize > 0 && total >= l.opts.FlushOnSize {
		go l.flushAsync()
	}
}

func (l *Layer) flushAsync() {
	if err := l.Flush(context.Background()); err != nil {
		l.logger.Error().Err(err).Msg("size-triggered flush failed")
	}
}

// Flush writes every cached entry to the backend inside one batched-write
// transaction, then clears the cache. On failure the cache is left intact
// so a subsequent flush can retry.
func (l *Layer) Flush(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.FlushDuration, layerWriteBack)

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.backend.BeginTransaction(ctx)
	if err != nil {
		atomic.AddInt64(&l.flushFailures, 1)
		metrics.FlushesTotal.WithLabelValues(layerWriteBack, "failure").Inc()
		return err
	}

	for _, index := range kv.AllIndices() {
		for key, entry := range l.data[index] {
			if err := applyEntryToTx(tx, index, key, entry); err != nil {
				_ = tx.Abort()
				atomic.AddInt64(&l.flushFailures, 1)
				metrics.FlushesTotal.WithLabelValues(layerWriteBack, "failure").Inc()
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		atomic.AddInt64(&l.flushFailures, 1)
		metrics.FlushesTotal.WithLabelValues(layerWriteBack, "failure").Inc()
		return err
	}

	for i := range l.data {
		l.data[i] = make(map[string]kv.ReadEntry)
	}
	atomic.StoreInt64(&l.bufferedBytes, 0)
	atomic.AddInt64(&l.flushCount, 1)
	metrics.FlushesTotal.WithLabelValues(layerWriteBack, "success").Inc()
	metrics.BufferedBytes.WithLabelValues(layerWriteBack).Set(0)
	l.logger.Info().Msg("flush complete")
	return nil
}

// applyEntryToTx mirrors one cache entry into a backend transaction:
// erase then rewrite the key's values, or erase outright for a negative
// entry. Shared by the write-back and LRU flush paths.
func applyEntryToTx(tx store.Tx, index kv.Index, key string, entry kv.ReadEntry) error {
	switch entry.Kind {
	case kv.Erased:
		return tx.EraseAll(index, key)
	case kv.NotFound:
		return nil
	default:
		if err := tx.EraseAll(index, key); err != nil {
			return err
		}
		return tx.Write(index, key, entry.Values)
	}
}

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

const layerLRU = "lru"

// entryKind distinguishes the three shapes of JournalEntry.
type entryKind int

const (
	entryWrite entryKind = iota
	entryErase
	entryTransaction
)

// journalEntry is one record in the LRU layer's append-only log.
type journalEntry struct {
	kind  entryKind
	index kv.Index
	key   string
	value []byte

	// txOps holds the collapsed (index, key) -> Op snapshot of a
	// committed transaction, recorded atomically as a single entry.
	txOps map[kv.Index]map[string]kv.Op
}

// LRULayer is the journal-based cache policy: no coherent value cache,
// just an ordered log of writes, erasures, and committed transactions.
// Reads walk the journal in reverse, assembling the effective value from
// the most recent entries until an Erase is hit, then fall through to
// the backend.
type LRULayer struct {
	backend store.Store
	opts    Options
	logger  zerolog.Logger

	mu      sync.Mutex
	journal []journalEntry
	tx      *txdb.Node

	bufferedBytes int64
	flushCount    int64
	flushFailures int64
}

// NewLRULayer constructs a journal-based layer over backend.
func NewLRULayer(backend store.Store, opts Options) *LRULayer {
	return &LRULayer{
		backend: backend,
		opts:    opts,
		logger:  log.WithComponent("lru"),
	}
}

// Stats reports the layer's flush bookkeeping.
func (l *LRULayer) Stats() Stats {
	return Stats{
		FlushCount:    atomic.LoadInt64(&l.flushCount),
		FlushFailures: atomic.LoadInt64(&l.flushFailures),
		BufferedBytes: atomic.LoadInt64(&l.bufferedBytes),
	}
}

// BeginTransaction opens the layer's single transaction overlay.
func (l *LRULayer) BeginTransaction(name string) (*txdb.Node, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tx != nil {
		return nil, kv.ErrAlreadyCommitted
	}
	l.tx = txdb.NewRoot(name)
	return l.tx, nil
}

// CancelTransaction discards the open transaction.
func (l *LRULayer) CancelTransaction() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tx = nil
}

// CommitTransaction records the transaction's fully collapsed operations
// as a single journal entry, then clears the transaction.
func (l *LRULayer) CommitTransaction() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tx == nil {
		return kv.ErrClosed
	}

	ops := make(map[kv.Index]map[string]kv.Op, kv.NumIndices)
	var bufferedDelta int64
	for _, index := range kv.AllIndices() {
		if byKey := l.tx.GetAllForIndex(index); len(byKey) > 0 {
			ops[index] = byKey
			for _, op := range byKey {
				bufferedDelta += approxSize(op.Values)
			}
		}
	}

	l.journal = append(l.journal, journalEntry{kind: entryTransaction, txOps: ops})
	l.tx = nil
	l.afterAppendLocked(bufferedDelta)
	return nil
}

// Set records a Write journal entry for a unique key.
func (l *LRULayer) Set(ctx context.Context, index kv.Index, key string, value []byte) error {
	return l.record(ctx, index, key, value, false)
}

// Append records a Write journal entry for a multi key. Journal replay
// treats consecutive Write entries for the same key as an accumulating
// sequence (see ReadMulti), so no special handling is needed here beyond
// what Set already does; the two are recorded identically.
func (l *LRULayer) Append(ctx context.Context, index kv.Index, key string, value []byte) error {
	return l.record(ctx, index, key, value, false)
}

// Erase records an Erase journal entry.
func (l *LRULayer) Erase(ctx context.Context, index kv.Index, key string) error {
	return l.record(ctx, index, key, nil, true)
}

func (l *LRULayer) record(ctx context.Context, index kv.Index, key string, value []byte, erase bool) error {
	l.mu.Lock()
	if l.tx != nil {
		defer l.mu.Unlock()
		if erase {
			return l.tx.Erase(index, key)
		}
		if index.IsMulti() {
			return l.tx.Append(index, key, value)
		}
		return l.tx.Set(index, key, value)
	}

	entry := journalEntry{index: index, key: key}
	if erase {
		entry.kind = entryErase
	} else {
		entry.kind = entryWrite
		entry.value = value
	}
	l.journal = append(l.journal, entry)
	l.afterAppendLocked(int64(len(value)))
	return nil
}

func (l *LRULayer) afterAppendLocked(addedBytes int64) {
	total := atomic.AddInt64(&l.bufferedBytes, addedBytes)
	metrics.BufferedBytes.WithLabelValues(layerLRU).Set(float64(total))
	if l.opts.FlushOnSize > 0 && total >= l.opts.FlushOnSize {
		go l.flushAsync()
	}
}

func (l *LRULayer) flushAsync() {
	if err := l.Flush(context.Background()); err != nil {
		l.logger.Error().Err(err).Msg("size-triggered flush failed")
	}
}

// Read walks the journal in reverse for (index, key): an Erase entry
// yields absent; a Write entry yields its value; a transaction entry
// yields the first value of its collapsed op. Falls through to the
// backend if the journal has nothing for this key.
func (l *LRULayer) Read(ctx context.Context, index kv.Index, key string, offset, size int) ([]byte, bool, error) {
	l.mu.Lock()
	entries := l.journal
	l.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch e.kind {
		case entryWrite:
			if e.index == index && e.key == key {
				metrics.CacheHitsTotal.WithLabelValues(index.String(), layerLRU).Inc()
				return slice(e.value, offset, size), true, nil
			}
		case entryErase:
			if e.index == index && e.key == key {
				metrics.CacheHitsTotal.WithLabelValues(index.String(), layerLRU).Inc()
				return nil, false, nil
			}
		case entryTransaction:
			if byKey, ok := e.txOps[index]; ok {
				if op, ok := byKey[key]; ok {
					metrics.CacheHitsTotal.WithLabelValues(index.String(), layerLRU).Inc()
					if op.Kind == kv.OpErase || len(op.Values) == 0 {
						return nil, false, nil
					}
					return slice(op.Values[0], offset, size), true, nil
				}
			}
		}
	}
	metrics.CacheMissesTotal.WithLabelValues(index.String(), layerLRU).Inc()

	value, found, err := l.backend.Read(ctx, index, key)
	if err != nil || !found {
		return nil, false, err
	}
	return slice(value, offset, size), true, nil
}

// ReadMulti collects Write values for (index, key) in reverse until an
// Erase is hit (which truncates the backend fall-through), reverses the
// collected sequence back into submission order, then prepends the
// backend's own values if the journal walk never hit an Erase.
func (l *LRULayer) ReadMulti(ctx context.Context, index kv.Index, key string) ([][]byte, error) {
	l.mu.Lock()
	entries := l.journal
	l.mu.Unlock()

	var tail [][]byte
	erased := false

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch e.kind {
		case entryWrite:
			if e.index == index && e.key == key {
				tail = append(tail, e.value)
			}
		case entryErase:
			if e.index == index && e.key == key {
				erased = true
			}
		case entryTransaction:
			if byKey, ok := e.txOps[index]; ok {
				if op, ok := byKey[key]; ok {
					switch op.Kind {
					case kv.OpErase:
						erased = true
					case kv.OpSet:
						tail = append(tail, op.Values[0])
						erased = true
					case kv.OpAppend:
						for i := len(op.Values) - 1; i >= 0; i-- {
							tail = append(tail, op.Values[i])
						}
					}
				}
			}
		}
		if erased {
			break
		}
	}

	reversed := make([][]byte, len(tail))
	for i, v := range tail {
		reversed[len(tail)-1-i] = v
	}

	if erased {
		return reversed, nil
	}

	backendValues, err := l.backend.ReadMultiple(ctx, index, key)
	if err != nil {
		return nil, err
	}
	return append(backendValues, reversed...), nil
}

// ReadAll computes the journal's per-key effect for index by a reverse
// walk (tracking erased keys), then merges that over the backend's own
// readAll.
func (l *LRULayer) ReadAll(ctx context.Context, index kv.Index) (map[string][][]byte, error) {
	l.mu.Lock()
	entries := l.journal
	l.mu.Unlock()

	settled := make(map[string][][]byte)
	erasedKeys := make(map[string]bool)

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch e.kind {
		case entryWrite:
			if e.index != index {
				continue
			}
			if _, done := settled[e.key]; done || erasedKeys[e.key] {
				continue
			}
			settled[e.key] = [][]byte{e.value}
		case entryErase:
			if e.index == index {
				erasedKeys[e.key] = true
			}
		case entryTransaction:
			byKey, ok := e.txOps[index]
			if !ok {
				continue
			}
			for key, op := range byKey {
				if _, done := settled[key]; done || erasedKeys[key] {
					continue
				}
				if op.Kind == kv.OpErase {
					erasedKeys[key] = true
					continue
				}
				settled[key] = op.Values
			}
		}
	}

	out, err := l.backend.ReadAll(ctx, index)
	if err != nil {
		return nil, err
	}
	for key, values := range settled {
		out[key] = values
	}
	for key := range erasedKeys {
		if _, stillSettled := settled[key]; !stillSettled {
			delete(out, key)
		}
	}
	return out, nil
}

// Flush drains the journal into the backend inside one batched-write
// transaction, then empties the journal. On failure the journal is left
// intact so a subsequent flush can retry.
//
// The journal's entries are collapsed into one final op per (index, key)
// before touching the backend: a multi key may have accumulated several
// separate Write entries across its lifetime in the journal, and writing
// each straight through in submission order would have the backend's
// replace-on-write semantics silently discard all but the last one. A
// multi key whose first journaled op is an Append is seeded with the
// backend's existing values, so the flushed set matches what ReadMulti
// returned before the flush.
func (l *LRULayer) Flush(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.FlushDuration, layerLRU)

	l.mu.Lock()
	defer l.mu.Unlock()

	final := make([]map[string]kv.ReadEntry, kv.NumIndices)
	for i := range final {
		final[i] = make(map[string]kv.ReadEntry)
	}

	var seedErr error
	base := func(index kv.Index, key string, op kv.Op) (kv.ReadEntry, bool) {
		existing, has := final[index][key]
		if !has && op.Kind == kv.OpAppend && index.IsMulti() && seedErr == nil {
			existing.Values, seedErr = l.backend.ReadMultiple(ctx, index, key)
			existing.Kind, has = kv.ValueRead, true
		}
		return existing, has
	}

	for _, e := range l.journal {
		switch e.kind {
		case entryWrite:
			op := kv.NewSetOp(e.value)
			if e.index.IsMulti() {
				op = kv.NewAppendOp(e.value)
			}
			existing, has := base(e.index, e.key, op)
			final[e.index][e.key] = applyOp(existing, has, op, kv.ValueWritten)
		case entryErase:
			final[e.index][e.key] = kv.ReadEntry{Kind: kv.Erased}
		case entryTransaction:
			for index, byKey := range e.txOps {
				for key, op := range byKey {
					existing, has := base(index, key, op)
					final[index][key] = applyOp(existing, has, op, kv.ValueWritten)
				}
			}
		}
	}
	if seedErr != nil {
		atomic.AddInt64(&l.flushFailures, 1)
		metrics.FlushesTotal.WithLabelValues(layerLRU, "failure").Inc()
		return seedErr
	}

	tx, err := l.backend.BeginTransaction(ctx)
	if err != nil {
		atomic.AddInt64(&l.flushFailures, 1)
		metrics.FlushesTotal.WithLabelValues(layerLRU, "failure").Inc()
		return err
	}

	for _, index := range kv.AllIndices() {
		for key, entry := range final[index] {
			if err := applyEntryToTx(tx, index, key, entry); err != nil {
				_ = tx.Abort()
				atomic.AddInt64(&l.flushFailures, 1)
				metrics.FlushesTotal.WithLabelValues(layerLRU, "failure").Inc()
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		atomic.AddInt64(&l.flushFailures, 1)
		metrics.FlushesTotal.WithLabelValues(layerLRU, "failure").Inc()
		return err
	}

	l.journal = nil
	atomic.StoreInt64(&l.bufferedBytes, 0)
	atomic.AddInt64(&l.flushCount, 1)
	metrics.FlushesTotal.WithLabelValues(layerLRU, "success").Inc()
	metrics.BufferedBytes.WithLabelValues(layerLRU).Set(0)
	l.logger.Info().Msg("flush complete")
	return nil
}

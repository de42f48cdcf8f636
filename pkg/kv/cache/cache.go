// Package cache implements the three interchangeable caching policies
// that sit between callers and a persistent store.Store: write-back
// (Layer), write-through (ReadThroughLayer), and journal-based
// (LRULayer). All three share the slice-read semantics defined here; the
// write-back and LRU layers also share the flush/size bookkeeping.
package cache

import (
	"github.com/nebliotech/hierdb/pkg/kv"
)

// Options configures the size-driven flush policy common to the
// write-back and LRU layers.
type Options struct {
	// FlushOnSize is the approximate number of buffered value bytes
	// that triggers an automatic flush. Zero disables automatic
	// flushing; callers must flush explicitly.
	FlushOnSize int64
}

// Stats reports flush bookkeeping, exposed for metrics collection.
type Stats struct {
	FlushCount    int64
	FlushFailures int64
	BufferedBytes int64
}

// slice returns value[offset:offset+size], clipped to value's bounds. A
// negative size means "through the end of value". offset past the end
// of value yields an empty, non-nil slice rather than an error.
func slice(value []byte, offset, size int) []byte {
	if offset < 0 {
		offset = 0
	}
	if offset > len(value) {
		offset = len(value)
	}
	end := len(value)
	if size >= 0 && offset+size < end {
		end = offset + size
	}
	return value[offset:end]
}

// approxSize estimates the buffered-byte cost of an entry's values, used
// to drive the size-triggered flush policy.
func approxSize(values [][]byte) int64 {
	var total int64
	for _, v := range values {
		total += int64(len(v))
	}
	return total
}

// applyOp folds op into the effective cache entry for (index, key),
// respecting index cardinality: Set replaces the entry outright; Append
// concatenates onto an existing positive entry and otherwise starts an
// entry holding only op's values (callers that need the complete set
// seed the entry from the backend first; see Layer.write); Erase
// replaces the entry with a negative record.
func applyOp(existing kv.ReadEntry, hasExisting bool, op kv.Op, entryKind kv.ReadKind) kv.ReadEntry {
	switch op.Kind {
	case kv.OpErase:
		return kv.ReadEntry{Kind: kv.Erased}
	case kv.OpSet:
		return kv.ReadEntry{Kind: entryKind, Values: cloneValues(op.Values)}
	case kv.OpAppend:
		if hasExisting && existing.Present() {
			merged := make([][]byte, 0, len(existing.Values)+len(op.Values))
			merged = append(merged, existing.Values...)
			merged = append(merged, op.Values...)
			return kv.ReadEntry{Kind: entryKind, Values: merged}
		}
		return kv.ReadEntry{Kind: entryKind, Values: cloneValues(op.Values)}
	default:
		return existing
	}
}

func cloneValues(values [][]byte) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[i] = cp
	}
	return out
}

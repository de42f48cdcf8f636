package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nebliotech/hierdb/pkg/kv"
	"github.com/nebliotech/hierdb/pkg/kv/cache"
	"github.com/nebliotech/hierdb/pkg/kv/store"
	"github.com/nebliotech/hierdb/pkg/metrics"
)

// readWriter is the subset of the three cache layers' methods the get,
// set, append, and erase subcommands need. All of Layer, ReadThroughLayer,
// and LRULayer satisfy it.
type readWriter interface {
	Read(ctx context.Context, index kv.Index, key string, offset, size int) ([]byte, bool, error)
	ReadMulti(ctx context.Context, index kv.Index, key string) ([][]byte, error)
	Set(ctx context.Context, index kv.Index, key string, value []byte) error
	Append(ctx context.Context, index kv.Index, key string, value []byte) error
	Erase(ctx context.Context, index kv.Index, key string) error
}

// flusher is implemented by the buffering layers (writeback, lru). The
// read-through layer has nothing to flush; writes already land on the
// backend as they happen.
type flusher interface {
	Flush(ctx context.Context) error
}

// statsReporter is implemented by the layers that track flush bookkeeping.
type statsReporter interface {
	Stats() cache.Stats
}

// keyCounter is implemented by layers that keep a coherent per-key cache
// (writeback, read-through). The LRU layer is a pure journal and has no
// per-key view to count.
type keyCounter interface {
	CachedKeyCounts() map[kv.Index]int
}

// engine bundles an opened backend with the cache layer selected by
// --layer, and the layer name for metrics labeling.
type engine struct {
	backend store.Store
	layer   readWriter
	name    string
}

func (e *engine) Close() error {
	return e.backend.Close()
}

func openEngine(cmd *cobra.Command) (*engine, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	layerName, _ := cmd.Flags().GetString("layer")
	flushOnSize, _ := cmd.Flags().GetInt64("flush-on-size")

	backend, err := store.Open(store.Options{Dir: dataDir})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	opts := cache.Options{FlushOnSize: flushOnSize}

	var layer readWriter
	switch strings.ToLower(layerName) {
	case "writeback", "":
		layer = cache.NewLayer(backend, opts)
	case "readthrough":
		layer = cache.NewReadThroughLayer(backend)
	case "lru":
		layer = cache.NewLRULayer(backend, opts)
	default:
		_ = backend.Close()
		return nil, fmt.Errorf("unknown --layer %q (want writeback, readthrough, or lru)", layerName)
	}

	return &engine{backend: backend, layer: layer, name: strings.ToLower(layerName)}, nil
}

// parseIndex resolves a case-insensitive index name (e.g. "main",
// "blockindex") to its kv.Index.
func parseIndex(name string) (kv.Index, error) {
	upper := strings.ToUpper(name)
	for _, idx := range kv.AllIndices() {
		if idx.String() == upper {
			return idx, nil
		}
	}
	return 0, fmt.Errorf("unknown index %q", name)
}

// registerLayerMetrics wires whichever bookkeeping a layer exposes into a
// Collector, adapting cache.Stats into metrics.LayerStats.
func registerLayerMetrics(c *metrics.Collector, name string, layer readWriter) {
	var statsFn metrics.StatsFunc
	if sr, ok := layer.(statsReporter); ok {
		statsFn = func() metrics.LayerStats {
			s := sr.Stats()
			return metrics.LayerStats{
				FlushCount:    s.FlushCount,
				FlushFailures: s.FlushFailures,
				BufferedBytes: s.BufferedBytes,
			}
		}
	}

	var keysFn metrics.KeyCountFunc
	if kc, ok := layer.(keyCounter); ok {
		keysFn = kc.CachedKeyCounts
	}

	if statsFn != nil || keysFn != nil {
		c.Register(name, statsFn, keysFn)
	}
}

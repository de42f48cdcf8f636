package metrics

import (
	"time"

	"github.com/nebliotech/hierdb/pkg/kv"
)

// LayerStats mirrors a cache layer's flush bookkeeping. Kept as a plain
// struct here (rather than importing pkg/kv/cache, which itself imports
// this package for direct instrumentation) so a layer's Stats() can be
// adapted into a StatsFunc closure by whatever wires the Collector up.
type LayerStats struct {
	FlushCount    int64
	FlushFailures int64
	BufferedBytes int64
}

// StatsFunc reports a layer's current flush bookkeeping.
type StatsFunc func() LayerStats

// KeyCountFunc reports the number of keys currently cached per index.
type KeyCountFunc func() map[kv.Index]int

type registeredLayer struct {
	name  string
	stats StatsFunc
	keys  KeyCountFunc
}

// Collector periodically snapshots one or more cache layers' bookkeeping
// into the corresponding gauges. Per-event counters (cache hits/misses,
// flush outcomes, transaction commits) are updated directly at the call
// site as they happen; this collector exists for the gauges that only
// make sense as a point-in-time snapshot, like buffered bytes and cached
// key counts, which nothing increments or decrements in isolation.
type Collector struct {
	layers []registeredLayer
	stopCh chan struct{}
}

// NewCollector creates a collector with no layers registered yet.
func NewCollector() *Collector {
	return &Collector{stopCh: make(chan struct{})}
}

// Register adds a layer to be snapshotted on every tick. keys may be nil
// for a layer with no coherent per-key cache to count (the LRU journal).
func (c *Collector) Register(layerName string, stats StatsFunc, keys KeyCountFunc) {
	c.layers = append(c.layers, registeredLayer{name: layerName, stats: stats, keys: keys})
}

// Start begins periodic collection on its own goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts periodic collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, l := range c.layers {
		if l.stats != nil {
			s := l.stats()
			BufferedBytes.WithLabelValues(l.name).Set(float64(s.BufferedBytes))
		}
		if l.keys != nil {
			for index, count := range l.keys() {
				CachedKeysTotal.WithLabelValues(index.String(), l.name).Set(float64(count))
			}
		}
	}
}

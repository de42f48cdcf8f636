/*
Package txdb implements HierarchicalDB, the transactional overlay at the
heart of the cache engine.

A Node is either the root of the overlay (created once per cache layer) or
a child of another Node, started with StartTransaction. Writes against a
node are invisible to its parent and siblings until Commit runs; reads
walk up the parent chain first, so a child always sees its ancestors'
already-committed state plus its own pending writes.

# Structure

	┌─────────────────────── HierarchicalDB ────────────────────────┐
	│                                                                 │
	│   root (cache layer's Node)                                    │
	│     │                                                           │
	│     ├── data[index][key] -> Op        (this node's own writes)│
	│     ├── committedChildren []*Node     (append-only, in commit │
	│     │                                   order; includes empty │
	│     │                                   "separator" nodes)    │
	│     └── openChildren  (atomic)                                │
	│                                                                 │
	│   T1 := root.StartTransaction("t1")   openChildren++           │
	│   T1.Set(MAIN, "k", "v")              -> T1.data only          │
	│   T1.Commit()                          conflict-scan against   │
	│                                         root.committedChildren,│
	│                                         then append T1 + a new │
	│                                         separator to root      │
	│                                                                 │
	│   read(root, MAIN, "k") walks:                                 │
	│     root.data["k"] (absent) -> root.committedChildren in order│
	│     -> all hits collapsed left-to-right -> "v"                 │
	└─────────────────────────────────────────────────────────────────┘

# Collapse

The fundamental operation is Collapse (pkg/kv): given the chronological
sequence of Ops recorded for one key across the parent chain, this node,
and its committed children, fold them left-to-right into a single
effective Op. A later Set or Erase replaces everything before it; a later
Append keeps the earlier op's kind and adds its values after the earlier
ones, so an Erase followed by an Append still reads as absent. Within a
single node, Node.Append instead replaces an earlier Set or Erase with a
fresh Append.

# Conflict detection

Commit only ever compares a node's own pending keys against its direct
siblings' own pending keys (the committedChildren entries pushed between
this node's creation and its commit) — not against grandchildren. Only
each node's own `data` map takes part: a key that reached a node solely
through one of its own committed children is not compared.
*/
package txdb

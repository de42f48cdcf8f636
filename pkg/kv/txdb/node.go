package txdb

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nebliotech/hierdb/pkg/kv"
	"github.com/nebliotech/hierdb/pkg/metrics"
)

// Node is one level of the HierarchicalDB overlay: either the root created
// by a cache layer, or a child started with StartTransaction. See the
// package doc for the overall shape.
type Node struct {
	name   string
	parent *Node

	mu   sync.Mutex
	data [kv.NumIndices]map[string]kv.Op

	committedChildren           []*Node
	parentCommittedCountAtStart int
	committed                   bool

	openChildren int32
}

// NewRoot creates a root node with no parent. A cache layer owns exactly
// one of these at a time.
func NewRoot(name string) *Node {
	if name == "" {
		name = uuid.NewString()
	}
	return &Node{name: name}
}

// StartTransaction creates a new child node of n. The child is invisible
// to n and its siblings until Commit is called on it. An empty name is
// replaced with a random UUID.
func (n *Node) StartTransaction(name string) *Node {
	if name == "" {
		name = uuid.NewString()
	}
	atomic.AddInt32(&n.openChildren, 1)
	metrics.TransactionsOpenTotal.Inc()

	n.mu.Lock()
	start := len(n.committedChildren)
	n.mu.Unlock()

	return &Node{
		name:                        name,
		parent:                      n,
		parentCommittedCountAtStart: start,
	}
}

// Name returns the node's label, useful for logging.
func (n *Node) Name() string { return n.name }

// OpenChildren returns the number of not-yet-committed-or-cancelled
// children started from n.
func (n *Node) OpenChildren() int32 {
	return atomic.LoadInt32(&n.openChildren)
}

// Committed reports whether n has committed or been cancelled.
func (n *Node) Committed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.committed
}

// --- writes ---

// Set overwrites the sole value of a unique key, or replaces a multi key's
// entire value set with {value}.
func (n *Node) Set(index kv.Index, key string, value []byte) error {
	return n.mutate(index, key, func(kv.Op, bool) kv.Op {
		return kv.NewSetOp(value)
	})
}

// Append adds value to a multi key's collection. On a unique index it is
// equivalent to Set: the new value replaces whatever was there, rather
// than accumulating.
func (n *Node) Append(index kv.Index, key string, value []byte) error {
	if !index.IsMulti() {
		return n.Set(index, key, value)
	}
	return n.mutate(index, key, func(existing kv.Op, has bool) kv.Op {
		if has && existing.Kind == kv.OpAppend {
			return kv.Collapse(existing, kv.NewAppendOp(value))
		}
		return kv.NewAppendOp(value)
	})
}

// Erase removes key (and, for multi indices, all of its values).
func (n *Node) Erase(index kv.Index, key string) error {
	return n.mutate(index, key, func(kv.Op, bool) kv.Op {
		return kv.NewEraseOp()
	})
}

// mutate applies fn to the effective op currently recorded in n's write
// target for (index, key), replacing it with fn's result. The write
// target is n itself until a child has committed into n, after which it
// is the empty separator node appended by that commit — see Commit.
func (n *Node) mutate(index kv.Index, key string, fn func(existing kv.Op, has bool) kv.Op) error {
	n.mu.Lock()
	if n.committed {
		n.mu.Unlock()
		return kv.ErrAlreadyCommitted
	}

	target := n
	if len(n.committedChildren) > 0 {
		target = n.committedChildren[len(n.committedChildren)-1]
	}

	if target != n {
		target.mu.Lock()
	}
	if target.data[index] == nil {
		target.data[index] = make(map[string]kv.Op)
	}
	existing, has := target.data[index][key]
	target.data[index][key] = fn(existing, has)
	if target != n {
		target.mu.Unlock()
	}

	n.mu.Unlock()
	return nil
}

// --- reads ---

// Get returns the effective single value for (index, key), or ok=false if
// the key is absent or erased in this overlay (the caller should then
// consult the next lower layer).
func (n *Node) Get(index kv.Index, key string) (value []byte, ok bool) {
	op, has := n.collapsedOp(index, key)
	if !has || op.Kind == kv.OpErase || len(op.Values) == 0 {
		return nil, false
	}
	return op.Values[0], true
}

// GetMulti returns every value recorded for (index, key) in this overlay.
// Absent or erased keys yield an empty, non-nil slice.
func (n *Node) GetMulti(index kv.Index, key string) [][]byte {
	op, has := n.collapsedOp(index, key)
	if !has || op.Kind == kv.OpErase {
		return [][]byte{}
	}
	return op.Values
}

// Exists reports whether (index, key) resolves to a present value in this
// overlay.
func (n *Node) Exists(index kv.Index, key string) bool {
	op, has := n.collapsedOp(index, key)
	return has && op.Kind != kv.OpErase
}

// GetOp returns the raw collapsed Op for (index, key), if any was
// recorded anywhere in the overlay.
func (n *Node) GetOp(index kv.Index, key string) (kv.Op, bool) {
	return n.collapsedOp(index, key)
}

func (n *Node) collapsedOp(index kv.Index, key string) (kv.Op, bool) {
	ops := n.opVec(index, key, true, math.MaxInt)
	return kv.CollapseAll(ops)
}

// opVec gathers, in chronological order, every Op recorded for (index,
// key): the parent chain up to the snapshot taken when n was created,
// then n's own pending op, then n's committed children in commit order
// (each together with everything committed into it).
func (n *Node) opVec(index kv.Index, key string, lookIntoParent bool, bound int) []kv.Op {
	var result []kv.Op
	if n.parent != nil && lookIntoParent {
		result = append(result, n.parent.opVec(index, key, true, n.parentCommittedCountAtStart)...)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if op, ok := n.data[index][key]; ok {
		result = append(result, op)
	}

	limit := len(n.committedChildren)
	if bound < limit {
		limit = bound
	}
	for i := 0; i < limit; i++ {
		result = append(result, n.committedChildren[i].opVec(index, key, false, math.MaxInt)...)
	}
	return result
}

// GetAllForIndex returns, for every key touched anywhere in n's overlay
// for index, the collapsed effective Op.
func (n *Node) GetAllForIndex(index kv.Index) map[string]kv.Op {
	acc := make(map[string][]kv.Op)
	n.allOpsForIndex(index, true, math.MaxInt, acc)

	result := make(map[string]kv.Op, len(acc))
	for key, ops := range acc {
		op, _ := kv.CollapseAll(ops)
		result[key] = op
	}
	return result
}

func (n *Node) allOpsForIndex(index kv.Index, lookIntoParent bool, bound int, acc map[string][]kv.Op) {
	if n.parent != nil && lookIntoParent {
		n.parent.allOpsForIndex(index, true, n.parentCommittedCountAtStart, acc)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for key, op := range n.data[index] {
		acc[key] = append(acc[key], op)
	}

	limit := len(n.committedChildren)
	if bound < limit {
		limit = bound
	}
	for i := 0; i < limit; i++ {
		n.committedChildren[i].allOpsForIndex(index, false, math.MaxInt, acc)
	}
}

// --- lifecycle ---

// Commit promotes n's pending writes into its parent. It fails with
// ErrAlreadyCommitted if n already committed, ErrUncommittedChildren if n
// still has live children, or ErrConflict if a sibling committed after n
// started and touched any key n also touched.
//
// Committing the root (a node with no parent) is a no-op beyond marking it
// committed: the root has no receiver to drain into, so its pending writes
// simply remain in place for the owning cache layer to read.
func (n *Node) Commit() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TransactionCommitDuration)

	n.mu.Lock()
	if n.committed {
		n.mu.Unlock()
		metrics.TransactionCommitsTotal.WithLabelValues("already_committed").Inc()
		return kv.ErrAlreadyCommitted
	}
	if atomic.LoadInt32(&n.openChildren) > 0 {
		n.mu.Unlock()
		metrics.TransactionCommitsTotal.WithLabelValues("uncommitted_children").Inc()
		return kv.ErrUncommittedChildren
	}
	n.mu.Unlock()

	if n.parent == nil {
		n.mu.Lock()
		n.committed = true
		n.mu.Unlock()
		metrics.TransactionCommitsTotal.WithLabelValues("success").Inc()
		return nil
	}

	p := n.parent
	p.mu.Lock()

	for i := len(p.committedChildren) - 1; i >= n.parentCommittedCountAtStart; i-- {
		if n.conflictsWith(p.committedChildren[i]) {
			p.mu.Unlock()
			metrics.TransactionConflictsTotal.Inc()
			metrics.TransactionCommitsTotal.WithLabelValues("conflict").Inc()
			return kv.ErrConflict
		}
	}

	p.committedChildren = append(p.committedChildren, n)
	separator := &Node{name: n.name + "-separator", parent: p, committed: true}
	p.committedChildren = append(p.committedChildren, separator)
	p.mu.Unlock()

	n.mu.Lock()
	n.committed = true
	n.mu.Unlock()

	atomic.AddInt32(&p.openChildren, -1)
	metrics.TransactionsOpenTotal.Dec()
	metrics.TransactionCommitsTotal.WithLabelValues("success").Inc()
	return nil
}

// conflictsWith reports whether n and sibling directly touched the same
// (index, key). Only the two nodes' own data maps are compared, not their
// committed descendants: a key that reached either node only through one
// of its own committed children is not checked.
func (n *Node) conflictsWith(sibling *Node) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	sibling.mu.Lock()
	defer sibling.mu.Unlock()

	for index := 0; index < kv.NumIndices; index++ {
		if len(n.data[index]) == 0 || len(sibling.data[index]) == 0 {
			continue
		}
		for key := range n.data[index] {
			if _, ok := sibling.data[index][key]; ok {
				return true
			}
		}
	}
	return false
}

// Cancel deems the node unusable without promoting any of its data to the
// parent, as if it had committed. Reads already in flight against n may
// continue to completion; there is no preemptive cancellation.
func (n *Node) Cancel() {
	n.mu.Lock()
	if n.committed {
		n.mu.Unlock()
		return
	}
	n.committed = true
	n.mu.Unlock()

	if n.parent != nil {
		atomic.AddInt32(&n.parent.openChildren, -1)
		metrics.TransactionsOpenTotal.Dec()
	}
}

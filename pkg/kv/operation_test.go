package kv_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebliotech/hierdb/pkg/kv"
)

func TestCollapse_SetThenSet(t *testing.T) {
	o := kv.Collapse(kv.NewSetOp([]byte("a")), kv.NewSetOp([]byte("b")))
	assert.Equal(t, kv.OpSet, o.Kind)
	assert.Equal(t, [][]byte{[]byte("b")}, o.Values)
}

func TestCollapse_SetThenErase(t *testing.T) {
	o := kv.Collapse(kv.NewSetOp([]byte("a")), kv.NewEraseOp())
	assert.Equal(t, kv.OpErase, o.Kind)
	assert.Empty(t, o.Values)
}

func TestCollapse_EraseThenSet(t *testing.T) {
	o := kv.Collapse(kv.NewEraseOp(), kv.NewSetOp([]byte("a")))
	assert.Equal(t, kv.OpSet, o.Kind)
	assert.Equal(t, [][]byte{[]byte("a")}, o.Values)
}

func TestCollapse_AppendThenAppend(t *testing.T) {
	o := kv.Collapse(kv.NewAppendOp([]byte("a")), kv.NewAppendOp([]byte("b")))
	assert.Equal(t, kv.OpAppend, o.Kind)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, o.Values)
}

func TestCollapse_SetThenAppend(t *testing.T) {
	// The earlier op's kind is the base: Set stays Set, with the
	// Append's value tacked onto the end of its value list.
	o := kv.Collapse(kv.NewSetOp([]byte("a")), kv.NewAppendOp([]byte("b")))
	assert.Equal(t, kv.OpSet, o.Kind)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, o.Values)
}

func TestCollapse_EraseThenAppend(t *testing.T) {
	// The erase is the base and is preserved: a later Append does not
	// resurrect the key. Get/Exists key off Kind, so this still reads
	// absent even though Values carries the appended value.
	o := kv.Collapse(kv.NewEraseOp(), kv.NewAppendOp([]byte("a")))
	assert.Equal(t, kv.OpErase, o.Kind)
	assert.Equal(t, [][]byte{[]byte("a")}, o.Values)
}

func TestCollapse_AppendThenSet(t *testing.T) {
	o := kv.Collapse(kv.NewAppendOp([]byte("a")), kv.NewSetOp([]byte("b")))
	assert.Equal(t, kv.OpSet, o.Kind)
	assert.Equal(t, [][]byte{[]byte("b")}, o.Values)
}

func TestCollapse_AppendThenErase(t *testing.T) {
	o := kv.Collapse(kv.NewAppendOp([]byte("a")), kv.NewEraseOp())
	assert.Equal(t, kv.OpErase, o.Kind)
}

func TestCollapseAll_Empty(t *testing.T) {
	_, ok := kv.CollapseAll(nil)
	assert.False(t, ok)
}

func TestCollapseAll_Sequence(t *testing.T) {
	// The leading Set stays the base kind for the whole fold; each
	// Append only ever extends its value list.
	ops := []kv.Op{
		kv.NewSetOp([]byte("a")),
		kv.NewAppendOp([]byte("b")),
		kv.NewAppendOp([]byte("c")),
	}
	result, ok := kv.CollapseAll(ops)
	require.True(t, ok)
	assert.Equal(t, kv.OpSet, result.Kind)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, result.Values)
}

func TestCollapseAll_AppendSequenceStaysAppend(t *testing.T) {
	ops := []kv.Op{
		kv.NewAppendOp([]byte("a")),
		kv.NewAppendOp([]byte("b")),
	}
	result, ok := kv.CollapseAll(ops)
	require.True(t, ok)
	assert.Equal(t, kv.OpAppend, result.Kind)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, result.Values)
}

func TestCollapseAll_EraseThenAppendStaysErase(t *testing.T) {
	ops := []kv.Op{
		kv.NewEraseOp(),
		kv.NewAppendOp([]byte("a")),
	}
	result, ok := kv.CollapseAll(ops)
	require.True(t, ok)
	assert.Equal(t, kv.OpErase, result.Kind)
}

func TestCollapse_DoesNotAliasInputValues(t *testing.T) {
	value := []byte("a")
	set := kv.NewSetOp(value)
	o := kv.Collapse(set, kv.NewSetOp([]byte("b")))
	value[0] = 'z'
	assert.Equal(t, "a", string(set.Values[0]))
	assert.Equal(t, "b", string(o.Values[0]))
}

func TestReadEntry_Present(t *testing.T) {
	assert.True(t, kv.ReadEntry{Kind: kv.ValueRead}.Present())
	assert.True(t, kv.ReadEntry{Kind: kv.ValueWritten}.Present())
	assert.False(t, kv.ReadEntry{Kind: kv.NotFound}.Present())
	assert.False(t, kv.ReadEntry{Kind: kv.Erased}.Present())
}

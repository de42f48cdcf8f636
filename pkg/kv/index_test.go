package kv_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nebliotech/hierdb/pkg/kv"
)

func TestAllIndices_MatchesNumIndices(t *testing.T) {
	all := kv.AllIndices()
	assert.Len(t, all, kv.NumIndices)
	for i, idx := range all {
		assert.Equal(t, kv.Index(i), idx)
		assert.True(t, idx.Valid())
	}
}

func TestIndex_OnlyNTP1TokenNamesIsMulti(t *testing.T) {
	for _, idx := range kv.AllIndices() {
		if idx == kv.NTP1TokenNames {
			assert.True(t, idx.IsMulti(), "%s should be multi", idx)
		} else {
			assert.False(t, idx.IsMulti(), "%s should be unique", idx)
		}
	}
}

func TestIndex_StringNames(t *testing.T) {
	assert.Equal(t, "MAIN", kv.Main.String())
	assert.Equal(t, "STAKES", kv.Stakes.String())
}

func TestIndex_InvalidOutOfRange(t *testing.T) {
	bad := kv.Index(kv.NumIndices)
	assert.False(t, bad.Valid())
	assert.Contains(t, bad.String(), "Index(")
}

package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebliotech/hierdb/pkg/kv"
	"github.com/nebliotech/hierdb/pkg/kv/cache"
)

func TestLRU_ReadFallsThroughToBackendWhenJournalEmpty(t *testing.T) {
	ctx := context.Background()
	backend := openBackend(t)
	require.NoError(t, backend.Write(ctx, kv.Main, "k", [][]byte{[]byte("from-backend")}))

	l := cache.NewLRULayer(backend, cache.Options{})
	v, ok, err := l.Read(ctx, kv.Main, "k", 0, -1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from-backend", string(v))
}

func TestLRU_ReadPrefersMostRecentJournalEntry(t *testing.T) {
	ctx := context.Background()
	l := cache.NewLRULayer(openBackend(t), cache.Options{})

	require.NoError(t, l.Set(ctx, kv.Main, "k", []byte("first")))
	require.NoError(t, l.Set(ctx, kv.Main, "k", []byte("second")))

	v, ok, err := l.Read(ctx, kv.Main, "k", 0, -1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", string(v))
}

func TestLRU_ReadStopsAtFirstEraseWalkingBackward(t *testing.T) {
	ctx := context.Background()
	l := cache.NewLRULayer(openBackend(t), cache.Options{})

	require.NoError(t, l.Set(ctx, kv.Main, "k", []byte("stale")))
	require.NoError(t, l.Erase(ctx, kv.Main, "k"))

	_, ok, err := l.Read(ctx, kv.Main, "k", 0, -1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLRU_ReadMultiAppendsJournalSequenceAfterBackendValues(t *testing.T) {
	ctx := context.Background()
	backend := openBackend(t)
	require.NoError(t, backend.Write(ctx, kv.NTP1TokenNames, "tok", [][]byte{[]byte("a0")}))

	l := cache.NewLRULayer(backend, cache.Options{})
	require.NoError(t, l.Append(ctx, kv.NTP1TokenNames, "tok", []byte("a1")))
	require.NoError(t, l.Append(ctx, kv.NTP1TokenNames, "tok", []byte("a2")))

	values, err := l.ReadMulti(ctx, kv.NTP1TokenNames, "tok")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a0"), []byte("a1"), []byte("a2")}, values)
}

func TestLRU_ReadMultiStopsAtEraseIgnoringBackend(t *testing.T) {
	ctx := context.Background()
	backend := openBackend(t)
	require.NoError(t, backend.Write(ctx, kv.NTP1TokenNames, "tok", [][]byte{[]byte("stale")}))

	l := cache.NewLRULayer(backend, cache.Options{})
	require.NoError(t, l.Erase(ctx, kv.NTP1TokenNames, "tok"))
	require.NoError(t, l.Append(ctx, kv.NTP1TokenNames, "tok", []byte("fresh")))

	values, err := l.ReadMulti(ctx, kv.NTP1TokenNames, "tok")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("fresh")}, values)
}

func TestLRU_TransactionCommitIsOneJournalEntry(t *testing.T) {
	ctx := context.Background()
	l := cache.NewLRULayer(openBackend(t), cache.Options{})

	tx, err := l.BeginTransaction("t1")
	require.NoError(t, err)
	require.NoError(t, tx.Set(kv.Main, "k", []byte("v")))
	require.NoError(t, tx.Commit())
	require.NoError(t, l.CommitTransaction())

	v, ok, err := l.Read(ctx, kv.Main, "k", 0, -1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestLRU_FlushMergesMultipleWritesForSameMultiKey(t *testing.T) {
	ctx := context.Background()
	backend := openBackend(t)
	l := cache.NewLRULayer(backend, cache.Options{})

	require.NoError(t, l.Append(ctx, kv.NTP1TokenNames, "tok", []byte("a")))
	require.NoError(t, l.Append(ctx, kv.NTP1TokenNames, "tok", []byte("b")))
	require.NoError(t, l.Flush(ctx))

	values, err := backend.ReadMultiple(ctx, kv.NTP1TokenNames, "tok")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, values, "flush must not let a later overwrite discard earlier appends")

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.FlushCount)
	assert.Equal(t, int64(0), stats.BufferedBytes)
}

func TestLRU_FlushEmptiesJournal(t *testing.T) {
	ctx := context.Background()
	backend := openBackend(t)
	l := cache.NewLRULayer(backend, cache.Options{})

	require.NoError(t, l.Set(ctx, kv.Main, "k", []byte("v")))
	require.NoError(t, l.Flush(ctx))

	v, ok, err := l.Read(ctx, kv.Main, "k", 0, -1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v), "post-flush read must still see the value, now via the backend")
}

package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebliotech/hierdb/pkg/kv"
	"github.com/nebliotech/hierdb/pkg/kv/cache"
	"github.com/nebliotech/hierdb/pkg/kv/store"
)

func openBackend(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(store.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWriteBack_SetReadErase(t *testing.T) {
	ctx := context.Background()
	l := cache.NewLayer(openBackend(t), cache.Options{})

	_, ok, err := l.Read(ctx, kv.Main, "k1", 0, -1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Set(ctx, kv.Main, "k1", []byte("val1")))
	v, ok, err := l.Read(ctx, kv.Main, "k1", 0, -1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "val1", string(v))

	require.NoError(t, l.Erase(ctx, kv.Main, "k1"))
	_, ok, err = l.Read(ctx, kv.Main, "k1", 0, -1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteBack_WritesStayOffBackendUntilFlush(t *testing.T) {
	ctx := context.Background()
	backend := openBackend(t)
	l := cache.NewLayer(backend, cache.Options{})

	require.NoError(t, l.Set(ctx, kv.Main, "k1", []byte("val1")))

	_, ok, err := backend.Read(ctx, kv.Main, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "write-back must not touch the backend before flush")

	require.NoError(t, l.Flush(ctx))

	v, ok, err := backend.Read(ctx, kv.Main, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "val1", string(v))
}

func TestWriteBack_MultiAppendMergesBeforeFlush(t *testing.T) {
	ctx := context.Background()
	backend := openBackend(t)
	l := cache.NewLayer(backend, cache.Options{})

	require.NoError(t, l.Append(ctx, kv.NTP1TokenNames, "tok", []byte("a")))
	require.NoError(t, l.Append(ctx, kv.NTP1TokenNames, "tok", []byte("b")))

	values, err := l.ReadMulti(ctx, kv.NTP1TokenNames, "tok")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, values)

	require.NoError(t, l.Flush(ctx))

	values, err = backend.ReadMultiple(ctx, kv.NTP1TokenNames, "tok")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, values)
}

func TestWriteBack_AppendSeedsFromBackendWhenUncached(t *testing.T) {
	ctx := context.Background()
	backend := openBackend(t)
	require.NoError(t, backend.Write(ctx, kv.NTP1TokenNames, "tok", [][]byte{[]byte("a"), []byte("b")}))

	l := cache.NewLayer(backend, cache.Options{})
	require.NoError(t, l.Append(ctx, kv.NTP1TokenNames, "tok", []byte("c")))

	values, err := l.ReadMulti(ctx, kv.NTP1TokenNames, "tok")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, values)
}

func TestWriteBack_AppendOnUniqueIndexBehavesLikeSet(t *testing.T) {
	ctx := context.Background()
	l := cache.NewLayer(openBackend(t), cache.Options{})

	require.NoError(t, l.Append(ctx, kv.Main, "k", []byte("first")))
	require.NoError(t, l.Append(ctx, kv.Main, "k", []byte("second")))

	v, ok, err := l.Read(ctx, kv.Main, "k", 0, -1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", string(v))
}

func TestWriteBack_TransactionDrainsIntoCacheOnly(t *testing.T) {
	ctx := context.Background()
	backend := openBackend(t)
	l := cache.NewLayer(backend, cache.Options{})

	tx, err := l.BeginTransaction("t1")
	require.NoError(t, err)
	require.NoError(t, tx.Set(kv.Main, "k", []byte("v")))
	require.NoError(t, tx.Commit())

	require.NoError(t, l.CommitTransaction())

	v, ok, err := l.Read(ctx, kv.Main, "k", 0, -1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	_, ok, err = backend.Read(ctx, kv.Main, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteBack_CancelTransactionDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	l := cache.NewLayer(openBackend(t), cache.Options{})

	tx, err := l.BeginTransaction("t1")
	require.NoError(t, err)
	require.NoError(t, tx.Set(kv.Main, "k", []byte("v")))
	l.CancelTransaction()

	_, ok, err := l.Read(ctx, kv.Main, "k", 0, -1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteBack_SliceOffsetAndSize(t *testing.T) {
	ctx := context.Background()
	l := cache.NewLayer(openBackend(t), cache.Options{})
	require.NoError(t, l.Set(ctx, kv.Main, "k", []byte("hello world")))

	v, ok, err := l.Read(ctx, kv.Main, "k", 6, -1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "world", string(v))

	v, ok, err = l.Read(ctx, kv.Main, "k", 0, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(v))

	v, ok, err = l.Read(ctx, kv.Main, "k", 100, -1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "", string(v))
}

func TestWriteBack_SizeTriggeredFlush(t *testing.T) {
	ctx := context.Background()
	backend := openBackend(t)
	l := cache.NewLayer(backend, cache.Options{FlushOnSize: 4})

	require.NoError(t, l.Set(ctx, kv.Main, "k", []byte("12345")))

	require.Eventually(t, func() bool {
		_, ok, _ := backend.Read(ctx, kv.Main, "k")
		return ok
	}, testEventuallyWait, testEventuallyTick)

	stats := l.Stats()
	assert.GreaterOrEqual(t, stats.FlushCount, int64(1))
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/nebliotech/hierdb/pkg/kv"
	"github.com/nebliotech/hierdb/pkg/metrics"
)

// Options configures a BoltStore.
type Options struct {
	// Dir is the directory the database file lives in. The file itself
	// is always named hierdb.db.
	Dir string

	// FileMode is the permission bits the database file is created
	// with. Defaults to 0600.
	FileMode uint32

	// InitialMmapSize seeds bbolt's memory map, letting a write-heavy
	// workload avoid the stop-the-world remap bbolt performs when the
	// map runs out of room — the same concern LMDB's MDB_MAP_RESIZED
	// recovery path addresses, though bbolt grows its map transparently
	// without requiring readers to retry. Zero uses bbolt's default.
	InitialMmapSize int

	// ReadOnly opens the database without taking the write lock.
	ReadOnly bool
}

func (o Options) withDefaults() Options {
	if o.FileMode == 0 {
		o.FileMode = 0600
	}
	return o
}

// bucketNames mirrors kv.AllIndices(): each logical index gets its own
// bbolt bucket, created up front so reads never need to special-case a
// missing bucket.
var bucketNames = func() [][]byte {
	out := make([][]byte, kv.NumIndices)
	for _, idx := range kv.AllIndices() {
		out[idx] = []byte(idx.String())
	}
	return out
}()

// BoltStore is a Store backed by go.etcd.io/bbolt, the closest available
// Go analogue to an embedded, single-file, memory-mapped transactional
// key-value store.
type BoltStore struct {
	db *bolt.DB
}

// Open creates or opens the database file under opts.Dir and ensures
// every logical index has a backing bucket.
func Open(opts Options) (*BoltStore, error) {
	opts = opts.withDefaults()
	path := filepath.Join(opts.Dir, "hierdb.db")

	db, err := bolt.Open(path, bolt.FileMode(opts.FileMode), &bolt.Options{
		ReadOnly:        opts.ReadOnly,
		InitialMmapSize: opts.InitialMmapSize,
	})
	if err != nil {
		return nil, fmt.Errorf("hierdb: open database: %w", err)
	}

	if !opts.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, name := range bucketNames {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("hierdb: create bucket %s: %w", name, err)
				}
			}
			return nil
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// record is the on-disk shape of one key's value(s). Unique indices
// always store exactly one entry; multi indices may store any number,
// preserved in insertion order — bbolt buckets have no native
// duplicate-key support, so this is the Go store's substitute for
// LMDB's MDB_DUPSORT.
type record struct {
	Values [][]byte `json:"values"`
}

func encodeRecord(values [][]byte) ([]byte, error) {
	return json.Marshal(record{Values: values})
}

func decodeRecord(data []byte) ([][]byte, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("hierdb: decode record: %w", err)
	}
	return r.Values, nil
}

func (s *BoltStore) Read(_ context.Context, index kv.Index, key string) ([]byte, bool, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreReadDuration, index.String())

	var value []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNames[index]).Get([]byte(key))
		if data == nil {
			return nil
		}
		values, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if len(values) > 0 {
			value, found = values[0], true
		}
		return nil
	})
	return value, found, err
}

func (s *BoltStore) ReadMultiple(_ context.Context, index kv.Index, key string) ([][]byte, error) {
	var values [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNames[index]).Get([]byte(key))
		if data == nil {
			return nil
		}
		var err error
		values, err = decodeRecord(data)
		return err
	})
	return values, err
}

func (s *BoltStore) ReadAll(_ context.Context, index kv.Index) (map[string][][]byte, error) {
	out := make(map[string][][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNames[index]).ForEach(func(k, v []byte) error {
			values, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out[string(k)] = values
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ReadAllUnique(_ context.Context, index kv.Index) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNames[index]).ForEach(func(k, v []byte) error {
			values, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if len(values) > 0 {
				out[string(k)] = values[0]
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Exists(_ context.Context, index kv.Index, key string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketNames[index]).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) Write(_ context.Context, index kv.Index, key string, values [][]byte) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreWriteDuration, index.String())

	return s.db.Update(func(tx *bolt.Tx) error {
		return writeRecord(tx, index, key, values)
	})
}

func writeRecord(tx *bolt.Tx, index kv.Index, key string, values [][]byte) error {
	data, err := encodeRecord(values)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketNames[index]).Put([]byte(key), data)
}

func (s *BoltStore) Erase(_ context.Context, index kv.Index, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNames[index]).Delete([]byte(key))
	})
}

// EraseAll is a synonym of Erase at the engine level: bbolt has no native
// duplicate-key storage, so there is no separate bulk-delete path to
// optimise here the way a true LMDB-style MDB_DUPSORT backend could.
func (s *BoltStore) EraseAll(_ context.Context, index kv.Index, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNames[index]).Delete([]byte(key))
	})
}

func (s *BoltStore) ClearAllData(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range bucketNames {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) BeginTransaction(_ context.Context) (Tx, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("hierdb: begin transaction: %w", err)
	}
	return &boltTx{tx: tx, timer: metrics.NewTimer()}, nil
}

// boltTx adapts a *bolt.Tx to the Tx interface. bbolt writes are already
// staged in memory until Commit, so Write/Erase here do exactly what
// Store's do, just against tx instead of a fresh db.Update.
type boltTx struct {
	tx    *bolt.Tx
	done  bool
	timer *metrics.Timer
}

func (t *boltTx) Write(index kv.Index, key string, values [][]byte) error {
	return writeRecord(t.tx, index, key, values)
}

func (t *boltTx) Erase(index kv.Index, key string) error {
	return t.tx.Bucket(bucketNames[index]).Delete([]byte(key))
}

func (t *boltTx) EraseAll(index kv.Index, key string) error {
	return t.tx.Bucket(bucketNames[index]).Delete([]byte(key))
}

func (t *boltTx) Commit() error {
	if t.done {
		return kv.ErrAlreadyCommitted
	}
	t.done = true
	defer t.timer.ObserveDuration(metrics.StoreTransactionDuration)
	return t.tx.Commit()
}

func (t *boltTx) Abort() error {
	if t.done {
		return kv.ErrAlreadyCommitted
	}
	t.done = true
	return t.tx.Rollback()
}

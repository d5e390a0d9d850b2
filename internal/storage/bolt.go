package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// BoltStore is the persistent Store used in production, one bbolt bucket
// per collection.
type BoltStore struct {
	db *bbolt.DB
}

// Open opens (or creates) the store file at path. A failure to open maps to
// ErrUnavailable so the caller can fall back to the in-memory store.
func Open(path string) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: storage path is required", ErrUnavailable)
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Update(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(boltTxn{tx: tx, writable: true})
	})
}

func (s *BoltStore) View(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(boltTxn{tx: tx})
	})
}

func (s *BoltStore) Put(ctx context.Context, collection, key string, value []byte) error {
	return put(s, ctx, collection, key, value)
}

func (s *BoltStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	return get(s, ctx, collection, key)
}

func (s *BoltStore) GetAll(ctx context.Context, collection string) (map[string][]byte, error) {
	return getAll(s, ctx, collection)
}

func (s *BoltStore) Delete(ctx context.Context, collection, key string) error {
	return del(s, ctx, collection, key)
}

func (s *BoltStore) Clear(ctx context.Context, collection string) error {
	return clear(s, ctx, collection)
}

type boltTxn struct {
	tx       *bbolt.Tx
	writable bool
}

func (t boltTxn) bucket(collection string) (*bbolt.Bucket, error) {
	if t.writable {
		b, err := t.tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", collection, err)
		}
		return b, nil
	}
	return t.tx.Bucket([]byte(collection)), nil
}

func (t boltTxn) Put(collection, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("put %s: key is required", collection)
	}
	b, err := t.bucket(collection)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), value)
}

func (t boltTxn) Get(collection, key string) ([]byte, error) {
	b, err := t.bucket(collection)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	v := b.Get([]byte(key))
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

func (t boltTxn) Delete(collection, key string) error {
	b, err := t.bucket(collection)
	if err != nil {
		return err
	}
	if b == nil {
		return nil
	}
	return b.Delete([]byte(key))
}

func (t boltTxn) Clear(collection string) error {
	if t.tx.Bucket([]byte(collection)) == nil {
		return nil
	}
	if err := t.tx.DeleteBucket([]byte(collection)); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}
	if t.writable {
		if _, err := t.tx.CreateBucket([]byte(collection)); err != nil {
			return fmt.Errorf("recreate %s: %w", collection, err)
		}
	}
	return nil
}

func (t boltTxn) ForEach(collection string, fn func(key string, value []byte) error) error {
	b := t.tx.Bucket([]byte(collection))
	if b == nil {
		return nil
	}
	return b.ForEach(func(k, v []byte) error {
		return fn(string(k), v)
	})
}

func (t boltTxn) ForEachPrefix(collection, prefix string, fn func(key string, value []byte) error) error {
	b := t.tx.Bucket([]byte(collection))
	if b == nil {
		return nil
	}
	c := b.Cursor()
	p := []byte(prefix)
	for k, v := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
		if err := fn(string(k), v); err != nil {
			return err
		}
	}
	return nil
}
